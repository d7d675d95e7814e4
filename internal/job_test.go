package internal

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type phaseLog struct {
	mu     sync.Mutex
	phases []Phase
}

func (l *phaseLog) observe(phase Phase, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phases = append(l.phases, phase)
}

func (l *phaseLog) seen() []Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Phase(nil), l.phases...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestPipeline(t *testing.T, chat ChatClient, captions CaptionSource) (*Pipeline, *Store) {
	t.Helper()
	store := openTestStore(t)
	pricing := &fakePricing{table: map[string]ModelPricing{
		"google/gemini-2.0-flash-001": {PromptUSDPerToken: 1e-7, CompletionUSDPerToken: 4e-7},
		"moonshotai/kimi-k2-thinking": {PromptUSDPerToken: 6e-7, CompletionUSDPerToken: 2.5e-6},
	}}
	pipeline := NewPipeline(store, captions, chat, pricing, testPolicies(), quietLogger())
	pipeline.sleep = noSleep
	return pipeline, store
}

func TestGenerationHappyPath(t *testing.T) {
	chat := &fakeChat{}
	scriptHappyPath(chat, &TokenUsage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500})
	captions := &fakeCaptions{
		tracks: map[string][]RawCaption{"en": defaultTrack()},
		meta:   &VideoMeta{Title: "Compilers Explained", Author: "Some Channel"},
	}

	pipeline, store := newTestPipeline(t, chat, captions)
	log := &phaseLog{}
	pipeline.Observer = log.observe
	runner := NewJobRunner(pipeline, quietLogger())

	result, err := runner.StartGeneration(context.Background(), StartParams{
		VideoURL: "https://www.youtube.com/watch?v=abc123def45",
		Plan:     PlanFree,
		Lang:     "en",
	})
	require.NoError(t, err)
	assert.False(t, result.Reused)
	require.NotNil(t, result.Limit)
	assert.Equal(t, 4, result.Limit.Limit)
	runner.Wait()

	article, err := store.GetArticle(context.Background(), result.ArticleID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, article.Status)
	assert.Equal(t, "Compilers Explained", article.Title)
	assert.Equal(t, "compilers-explained", article.Slug)

	// Final markdown uses the revised pieces.
	assert.True(t, strings.HasPrefix(article.Markdown, "# Compilers Explained\n"))
	assert.Contains(t, article.Markdown, "## Outline\n- Getting Started\n- Going Deeper")
	assert.Contains(t, article.Markdown, "Revised first section")
	assert.Contains(t, article.Markdown, "A stronger wrap-up")
	assert.NotContains(t, article.Markdown, "First section body")

	// Cost meta covers all ten calls with known pricing.
	cost, ok := article.Meta["generationCost"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(0), cost["unknownCalls"])
	calls, ok := cost["calls"].([]any)
	require.True(t, ok)
	assert.Len(t, calls, 10)
	assert.Greater(t, cost["totalUsd"], 0.0)

	transcript, ok := article.Meta["transcript"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "en", transcript["lang"])
	assert.Equal(t, float64(18), transcript["segments"])
	assert.Equal(t, float64(180), transcript["totalDurationSec"])

	progress, ok := article.Meta["generationProgress"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(PhaseSaving), progress["phase"])
	assert.NotEmpty(t, progress["completedAt"])

	assert.Equal(t, []Phase{
		PhaseFetching, PhaseChaptering, PhaseWritingV1, PhaseFeedback,
		PhaseWritingV2, PhaseAssembling, PhaseSaving, PhaseSaving,
	}, log.seen())

	// The free plan routes every stage through its own models.
	requests := chat.recorded()
	require.Len(t, requests, 10)
	assert.Equal(t, "google/gemini-2.0-flash-001", requests[0].Model)
	assert.Equal(t, "moonshotai/kimi-k2-thinking", requests[1].Model)
}

func TestGenerationMalformedChapters(t *testing.T) {
	chat := &fakeChat{}
	chat.push("I cannot produce JSON today.", &TokenUsage{TotalTokens: 10})
	captions := &fakeCaptions{
		tracks: map[string][]RawCaption{"en": defaultTrack()},
		meta:   &VideoMeta{Title: "Some Video"},
	}

	pipeline, store := newTestPipeline(t, chat, captions)
	runner := NewJobRunner(pipeline, quietLogger())

	result, err := runner.StartGeneration(context.Background(), StartParams{
		VideoURL: "https://www.youtube.com/watch?v=abc123def45",
		Plan:     PlanFree,
		Lang:     "en",
	})
	require.NoError(t, err)
	runner.Wait()

	article, err := store.GetArticle(context.Background(), result.ArticleID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, article.Status)
	assert.Empty(t, article.Markdown)

	progress := article.Meta["generationProgress"].(map[string]any)
	assert.Equal(t, string(PhaseFailed), progress["phase"])
	assert.Contains(t, progress["message"], "chapter")

	// Writing never started.
	assert.Len(t, chat.recorded(), 1)
}

func TestGenerationNoCaptions(t *testing.T) {
	chat := &fakeChat{}
	captions := &fakeCaptions{tracks: map[string][]RawCaption{}}

	pipeline, store := newTestPipeline(t, chat, captions)
	runner := NewJobRunner(pipeline, quietLogger())

	result, err := runner.StartGeneration(context.Background(), StartParams{
		VideoURL: "https://www.youtube.com/watch?v=abc123def45",
		Plan:     PlanFree,
		Lang:     "fr",
	})
	require.NoError(t, err)
	runner.Wait()

	article, err := store.GetArticle(context.Background(), result.ArticleID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, article.Status)

	progress := article.Meta["generationProgress"].(map[string]any)
	message := progress["message"].(string)
	assert.Contains(t, message, "fr")
	assert.Contains(t, message, "no captions")
	assert.Empty(t, chat.recorded())
}

func TestStartGenerationRateLimited(t *testing.T) {
	pipeline, store := newTestPipeline(t, &fakeChat{}, &fakeCaptions{})
	runner := NewJobRunner(pipeline, quietLogger())
	ctx := context.Background()

	for range 4 {
		require.NoError(t, store.CreateArticle(ctx, newTestArticle("local", StatusComplete)))
	}

	_, err := runner.StartGeneration(ctx, StartParams{
		VideoURL: "https://www.youtube.com/watch?v=abc123def45",
		Plan:     PlanFree,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLimitExceeded))
	assert.Contains(t, err.Error(), "4/month")
}

func TestStartGenerationReusesDraft(t *testing.T) {
	pipeline, store := newTestPipeline(t, &fakeChat{}, &fakeCaptions{})
	runner := NewJobRunner(pipeline, quietLogger())
	ctx := context.Background()

	draft := newTestArticle("local", StatusDraft)
	require.NoError(t, store.CreateArticle(ctx, draft))

	result, err := runner.StartGeneration(ctx, StartParams{
		VideoURL: "https://www.youtube.com/watch?v=abc123def45",
		Plan:     PlanFree,
	})
	require.NoError(t, err)
	assert.True(t, result.Reused)
	assert.Equal(t, draft.ID, result.ArticleID)
}

func TestStartGenerationInvalidURL(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &fakeChat{}, &fakeCaptions{})
	runner := NewJobRunner(pipeline, quietLogger())

	_, err := runner.StartGeneration(context.Background(), StartParams{VideoURL: "not a url"})
	assert.True(t, errors.Is(err, ErrInvalidVideoURL))
}

func TestRunForeground(t *testing.T) {
	chat := &fakeChat{}
	scriptHappyPath(chat, &TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150})
	captions := &fakeCaptions{
		tracks: map[string][]RawCaption{"en": defaultTrack()},
		meta:   &VideoMeta{Title: "Some Video"},
	}

	pipeline, _ := newTestPipeline(t, chat, captions)
	runner := NewJobRunner(pipeline, quietLogger())

	article, err := runner.RunForeground(context.Background(), StartParams{
		VideoURL: "abc123def45",
		Plan:     PlanFree,
		Lang:     "en",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, article.Status)
	assert.Contains(t, article.Markdown, "## Conclusion")
}

func TestRunForegroundSurfacesFailure(t *testing.T) {
	chat := &fakeChat{}
	chat.push("garbage", &TokenUsage{TotalTokens: 1})
	captions := &fakeCaptions{
		tracks: map[string][]RawCaption{"en": defaultTrack()},
		meta:   &VideoMeta{Title: "Some Video"},
	}

	pipeline, _ := newTestPipeline(t, chat, captions)
	runner := NewJobRunner(pipeline, quietLogger())

	article, err := runner.RunForeground(context.Background(), StartParams{
		VideoURL: "abc123def45",
		Plan:     PlanFree,
		Lang:     "en",
	})
	require.Error(t, err)
	require.NotNil(t, article)
	assert.Equal(t, StatusFailed, article.Status)
	assert.Contains(t, err.Error(), "generating article")
}

func TestPipelineSurvivesNilPricing(t *testing.T) {
	chat := &fakeChat{}
	scriptHappyPath(chat, nil)
	captions := &fakeCaptions{
		tracks: map[string][]RawCaption{"en": defaultTrack()},
		meta:   &VideoMeta{Title: "Some Video"},
	}

	store := openTestStore(t)
	pipeline := NewPipeline(store, captions, chat, nil, testPolicies(), quietLogger())
	pipeline.sleep = noSleep
	runner := NewJobRunner(pipeline, quietLogger())

	article, err := runner.RunForeground(context.Background(), StartParams{
		VideoURL: "abc123def45",
		Plan:     PlanFree,
		Lang:     "en",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, article.Status)

	cost := article.Meta["generationCost"].(map[string]any)
	assert.Equal(t, float64(10), cost["unknownCalls"])
	assert.Equal(t, float64(0), cost["totalUsd"])
}

func TestPipelineRecoversPanic(t *testing.T) {
	captions := &fakeCaptions{
		tracks: map[string][]RawCaption{"en": defaultTrack()},
		meta:   &VideoMeta{Title: "Some Video"},
	}

	pipeline, store := newTestPipeline(t, panicChat{}, captions)
	ctx := context.Background()

	rec := newTestArticle("local", StatusDraft)
	require.NoError(t, store.CreateArticle(ctx, rec))

	pipeline.Run(ctx, JobRequest{
		ArticleID: rec.ID,
		UserID:    "local",
		Plan:      PlanFree,
		VideoURL:  rec.VideoURL,
		VideoID:   rec.VideoID,
		Lang:      "en",
	})

	article, err := store.GetArticle(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, article.Status)

	progress := article.Meta["generationProgress"].(map[string]any)
	assert.Contains(t, progress["message"], "internal error")
}

type panicChat struct{}

func (panicChat) Complete(context.Context, ChatRequest) (*ChatResult, error) {
	panic("boom")
}

func TestProgressPreservesStartedAt(t *testing.T) {
	pipeline, store := newTestPipeline(t, &fakeChat{}, &fakeCaptions{})
	ctx := context.Background()

	rec := newTestArticle("local", StatusDraft)
	rec.Meta = map[string]any{
		"generationProgress": map[string]any{
			"phase":     string(PhaseFetching),
			"message":   "Queued",
			"startedAt": "2026-03-15T10:00:00Z",
			"updatedAt": "2026-03-15T10:00:00Z",
		},
	}
	require.NoError(t, store.CreateArticle(ctx, rec))

	time.Sleep(5 * time.Millisecond)
	pipeline.setProgress(ctx, rec.ID, PhaseChaptering, "Planning chapters")

	article, err := store.GetArticle(ctx, rec.ID)
	require.NoError(t, err)
	progress := article.Meta["generationProgress"].(map[string]any)
	assert.Equal(t, string(PhaseChaptering), progress["phase"])
	assert.Equal(t, "2026-03-15T10:00:00Z", progress["startedAt"])
	assert.NotEqual(t, "2026-03-15T10:00:00Z", progress["updatedAt"])
}
