package internal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"golang.org/x/time/rate"
)

// emptyContentRetries is how often a completion returning no content is
// retried before giving up. OpenRouter occasionally returns empty choices
// under load.
const emptyContentRetries = 3

// OpenRouterClient implements ChatClient against OpenRouter's
// OpenAI-compatible chat completions endpoint.
type OpenRouterClient struct {
	client  openai.Client
	limiter *rate.Limiter
	verbose bool
	sleep   func(time.Duration)
}

// NewOpenRouterClient builds a client for the given key and base URL.
// requestsPerSecond throttles outbound calls; zero disables throttling.
// The SDK retries 429 and 5xx responses with backoff; 4xx client errors
// fail immediately.
func NewOpenRouterClient(apiKey, baseURL, referer, appTitle string, requestsPerSecond float64, verbose bool) *OpenRouterClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(3),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", referer))
	}
	if appTitle != "" {
		opts = append(opts, option.WithHeader("X-Title", appTitle))
	}

	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}

	return &OpenRouterClient{
		client:  openai.NewClient(opts...),
		limiter: limiter,
		verbose: verbose,
		sleep:   time.Sleep,
	}
}

// Complete performs one chat completion, retrying empty responses.
func (c *OpenRouterClient) Complete(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: buildMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	if req.JSONResponse {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	var lastErr error
	for attempt := 1; attempt <= emptyContentRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("chat completion (%s): %w", req.Model, err)
		}

		if len(resp.Choices) > 0 {
			content := resp.Choices[0].Message.Content
			if strings.TrimSpace(content) != "" {
				return &ChatResult{Content: content, Usage: usageFrom(resp)}, nil
			}
		}

		lastErr = fmt.Errorf("chat completion (%s): empty response", req.Model)
		if c.verbose {
			fmt.Printf("Empty completion from %s, retrying (%d/%d)\n", req.Model, attempt, emptyContentRetries)
		}
		if attempt < emptyContentRetries {
			c.sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
	}

	return nil, lastErr
}

func buildMessages(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func usageFrom(resp *openai.ChatCompletion) *TokenUsage {
	if resp.Usage.TotalTokens == 0 && resp.Usage.PromptTokens == 0 {
		return nil
	}
	return &TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
}
