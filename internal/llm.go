package internal

import (
	"context"
	"regexp"
	"strings"
)

// ChatMessage is one message in a chat completion request.
type ChatMessage struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// ChatRequest describes a single chat completion call.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int64
	// JSONResponse requests the json_object response format.
	JSONResponse bool
}

// TokenUsage is the token accounting reported for one completion.
type TokenUsage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

// ChatResult is the content and usage of one completion. Usage is nil when
// the provider did not report it.
type ChatResult struct {
	Content string
	Usage   *TokenUsage
}

// ChatClient performs chat completions. Implemented by OpenRouterClient and
// by fakes in tests.
type ChatClient interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResult, error)
}

var markdownFenceOpen = regexp.MustCompile("(?i)^```(?:json)?")

// StripMarkdownFence removes a wrapping ``` fence that models sometimes add
// around JSON output, leaving the payload for the parser.
func StripMarkdownFence(content string) string {
	trimmed := strings.TrimSpace(content)
	trimmed = markdownFenceOpen.ReplaceAllString(trimmed, "")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
