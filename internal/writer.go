package internal

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// WordBudget distributes the article's length targets across its pieces.
type WordBudget struct {
	Overall    int `json:"overall"`
	Intro      int `json:"intro"`
	Conclusion int `json:"conclusion"`
	PerSection int `json:"perSection"`
}

// PlanWordBudget splits the overall article budget between intro, conclusion
// and the chapter sections. The section pool never drops below 1200 words so
// outlines with many chapters still get substantive sections.
func PlanWordBudget(numChapters int) WordBudget {
	const (
		overall    = 1500
		intro      = 360
		conclusion = 320
		minPool    = 1200
	)

	pool := overall - intro - conclusion
	if pool < minPool {
		pool = minPool
	}
	if numChapters < 1 {
		numChapters = 1
	}

	return WordBudget{
		Overall:    overall,
		Intro:      intro,
		Conclusion: conclusion,
		PerSection: int(math.Round(float64(pool) / float64(numChapters))),
	}
}

// DraftPiece is one generated piece of the article with its token usage.
type DraftPiece struct {
	Content string
	Usage   *TokenUsage
}

// ArticleContext carries the video facts every writing prompt needs.
type ArticleContext struct {
	ArticleTitle string
	VideoTitle   string
	VideoURL     string
	Budget       WordBudget
}

// Writer generates and revises the article pieces.
type Writer struct {
	chat  ChatClient
	model string
}

// NewWriter creates a writer using the given model for drafting.
func NewWriter(chat ChatClient, model string) *Writer {
	return &Writer{chat: chat, model: model}
}

const writerSystem = `You are a professional writer producing an SEO-optimized blog article from a video transcript.

Hard rules:
- Stay faithful to the transcript. Never invent facts, quotes, numbers, or claims the speaker did not make.
- Write in clear, engaging prose for readers who have not seen the video.
- Weave the provided keywords in naturally. Never stuff keywords.
- Output Markdown only. No preamble, no sign-off, no conversational filler.
- Never mention the transcript, the video production process, or that you are writing from source material.`

// Introduction writes the article opening. It carries no header; the
// assembler places it directly under the H1.
func (w *Writer) Introduction(ctx context.Context, ac ArticleContext, chapters []Chapter, transcript string) (*DraftPiece, error) {
	var outline strings.Builder
	for _, ch := range chapters {
		fmt.Fprintf(&outline, "- %s: %s\n", ch.Title, ch.Thesis)
	}

	user := fmt.Sprintf(`Write the introduction for an article titled %q based on the video %q.

The article will cover:
%s
Target length: about %d words. Hook the reader, establish why the topic matters, and preview what the article covers. Do not include any headers. Start directly with the first paragraph.

Transcript excerpt for grounding:
%s`,
		ac.ArticleTitle, ac.VideoTitle, outline.String(), ac.Budget.Intro, transcript)

	return w.complete(ctx, user, 1200)
}

// Section writes one chapter's section over its transcript slice. The output
// starts with the chapter's H2 and may use H3 subheadings.
func (w *Writer) Section(ctx context.Context, ac ArticleContext, chapter Chapter, sectionTranscript string) (*DraftPiece, error) {
	user := fmt.Sprintf(`Write one section of an article titled %q.

Section title: %s
Section thesis: %s
Primary keyword: %s
Secondary keywords: %s
Target length: about %d words.

Requirements:
- Start with the exact header line "## %s".
- Use "###" subheadings where they help structure the section.
- Cover only what this part of the transcript discusses.

Transcript for this section:
%s`,
		ac.ArticleTitle, chapter.Title, chapter.Thesis, chapter.PrimaryKeyword,
		strings.Join(chapter.SecondaryKeywords, ", "), ac.Budget.PerSection,
		chapter.Title, sectionTranscript)

	return w.complete(ctx, user, 4000)
}

// Conclusion writes the closing section, starting with "## Conclusion".
func (w *Writer) Conclusion(ctx context.Context, ac ArticleContext, chapters []Chapter, transcript string) (*DraftPiece, error) {
	titles := make([]string, len(chapters))
	for i, ch := range chapters {
		titles[i] = ch.Title
	}

	user := fmt.Sprintf(`Write the conclusion for an article titled %q.

The article covered: %s
Target length: about %d words.

Requirements:
- Start with the exact header line "## Conclusion".
- Synthesize the key takeaways without repeating earlier sections verbatim.
- End with a forward-looking closing thought grounded in the video.

Transcript excerpt for grounding:
%s`,
		ac.ArticleTitle, strings.Join(titles, "; "), ac.Budget.Conclusion, transcript)

	return w.complete(ctx, user, 1200)
}

// ReviseIntroduction rewrites the introduction applying the critique.
func (w *Writer) ReviseIntroduction(ctx context.Context, ac ArticleContext, original, feedback string) (*DraftPiece, error) {
	return w.revise(ctx, fmt.Sprintf(`Rewrite the introduction of the article titled %q.

Current introduction:
%s

Editorial feedback to apply:
%s

Target length: about %d words. No headers; start directly with the first paragraph.`,
		ac.ArticleTitle, original, feedback, ac.Budget.Intro), 1200)
}

// ReviseSection rewrites one section applying the critique.
func (w *Writer) ReviseSection(ctx context.Context, ac ArticleContext, chapter Chapter, original, feedback string) (*DraftPiece, error) {
	return w.revise(ctx, fmt.Sprintf(`Rewrite one section of the article titled %q.

Current section:
%s

Editorial feedback to apply:
%s

Target length: about %d words. Keep the exact header line "## %s" and "###" subheadings where useful.`,
		ac.ArticleTitle, original, feedback, ac.Budget.PerSection, chapter.Title), 4000)
}

// ReviseConclusion rewrites the conclusion applying the critique.
func (w *Writer) ReviseConclusion(ctx context.Context, ac ArticleContext, original, feedback string) (*DraftPiece, error) {
	return w.revise(ctx, fmt.Sprintf(`Rewrite the conclusion of the article titled %q.

Current conclusion:
%s

Editorial feedback to apply:
%s

Target length: about %d words. Keep the exact header line "## Conclusion".`,
		ac.ArticleTitle, original, feedback, ac.Budget.Conclusion), 1200)
}

func (w *Writer) complete(ctx context.Context, user string, maxTokens int64) (*DraftPiece, error) {
	result, err := w.chat.Complete(ctx, ChatRequest{
		Model: w.model,
		Messages: []ChatMessage{
			{Role: "system", Content: writerSystem},
			{Role: "user", Content: user},
		},
		Temperature: 0.6,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, err
	}
	return &DraftPiece{Content: strings.TrimSpace(result.Content), Usage: result.Usage}, nil
}

const reviserSystem = writerSystem + `
- Apply the editorial feedback you are given, but never mention the feedback, the review process, or earlier drafts.`

func (w *Writer) revise(ctx context.Context, user string, maxTokens int64) (*DraftPiece, error) {
	result, err := w.chat.Complete(ctx, ChatRequest{
		Model: w.model,
		Messages: []ChatMessage{
			{Role: "system", Content: reviserSystem},
			{Role: "user", Content: user},
		},
		Temperature: 0.6,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, err
	}
	return &DraftPiece{Content: strings.TrimSpace(result.Content), Usage: result.Usage}, nil
}

// Critic reviews an assembled draft and produces structured editorial
// feedback. The feedback is opaque markdown passed back into revision
// prompts, never parsed.
type Critic struct {
	chat  ChatClient
	model string
}

// NewCritic creates a critic using the given model for review.
func NewCritic(chat ChatClient, model string) *Critic {
	return &Critic{chat: chat, model: model}
}

const criticSystem = `You are a demanding senior editor reviewing a blog article draft.

Produce feedback in Markdown with exactly these sections:
## Strengths
## Weaknesses
## Specific fixes
## SEO notes
## Clarity notes

Rules:
- Be concrete: point at specific sentences, headers, and claims.
- Do not rewrite the draft yourself. Feedback only.
- Never mention that the article was generated or any automated process.`

// Feedback reviews the full v1 draft.
func (c *Critic) Feedback(ctx context.Context, articleTitle, videoTitle, draft string) (*DraftPiece, error) {
	user := fmt.Sprintf("Review this draft of the article %q (based on the video %q):\n\n%s",
		articleTitle, videoTitle, draft)

	result, err := c.chat.Complete(ctx, ChatRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: criticSystem},
			{Role: "user", Content: user},
		},
		Temperature: 0.3,
		MaxTokens:   1500,
	})
	if err != nil {
		return nil, err
	}
	return &DraftPiece{Content: strings.TrimSpace(result.Content), Usage: result.Usage}, nil
}
