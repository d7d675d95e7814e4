package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is one stage of the generation pipeline as surfaced to pollers.
type Phase string

const (
	PhaseFetching   Phase = "fetching"
	PhaseChaptering Phase = "chaptering"
	PhaseWritingV1  Phase = "writing_v1"
	PhaseFeedback   Phase = "feedback"
	PhaseWritingV2  Phase = "writing_v2"
	PhaseAssembling Phase = "assembling"
	PhaseSaving     Phase = "saving"
	PhaseFailed     Phase = "failed"
)

// JobRequest identifies one generation job.
type JobRequest struct {
	ArticleID string
	UserID    string
	Plan      Plan
	VideoURL  string
	VideoID   string
	Lang      string
}

// Pipeline runs the caption-to-article generation flow. Collaborators are
// interfaces so tests can substitute fakes.
type Pipeline struct {
	store    *Store
	captions CaptionSource
	chat     ChatClient
	pricing  PricingSource
	policies map[Plan]PlanPolicy
	logger   *slog.Logger

	// Chunking and Segmenter tune transcript chunking and chapter repair;
	// zero values use the defaults.
	Chunking  ChunkOptions
	Segmenter SegmenterOptions

	// Observer, when set, receives every phase transition. The CLI hooks a
	// progress bar here.
	Observer func(phase Phase, message string)

	sleep func(time.Duration)
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(store *Store, captions CaptionSource, chat ChatClient, pricing PricingSource, policies map[Plan]PlanPolicy, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Pipeline{
		store:    store,
		captions: captions,
		chat:     chat,
		pricing:  pricing,
		policies: policies,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// Run executes one generation job. Failures are recorded on the article
// (status=failed plus a progress message) and never propagated; the job is
// fire-and-forget from the caller's point of view.
func (p *Pipeline) Run(ctx context.Context, req JobRequest) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("generation job panicked", "articleId", req.ArticleID, "panic", r)
			p.markFailed(req.ArticleID, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := p.run(ctx, req); err != nil {
		p.logger.Error("generation job failed", "articleId", req.ArticleID, "error", err)
		p.markFailed(req.ArticleID, err)
	}
}

func (p *Pipeline) run(ctx context.Context, req JobRequest) error {
	policy := PolicyFor(req.Plan, p.policies)

	p.setProgress(ctx, req.ArticleID, PhaseFetching, "Fetching captions and metadata")
	if err := p.store.PatchArticleMeta(ctx, req.ArticleID, map[string]any{
		"models": map[string]any{
			"plan":     string(req.Plan),
			"chapters": policy.Models.Chapters,
			"writer":   policy.Models.Writer,
			"feedback": policy.Models.Feedback,
		},
	}); err != nil {
		return err
	}

	cost := NewCostTracker()
	if p.pricing != nil {
		cost.LoadPricing(ctx, p.pricing, policy.Models.All())
	}

	// Metadata is fetched alongside captions; a metadata failure only costs
	// us the title.
	metaCh := make(chan *VideoMeta, 1)
	go func() {
		video, err := p.captions.FetchMetadata(ctx, req.VideoID)
		if err != nil {
			p.logger.Warn("metadata fetch failed", "videoId", req.VideoID, "error", err)
			metaCh <- nil
			return
		}
		metaCh <- video
	}()

	raw, usedLang, err := FetchCaptionsWithFallback(ctx, p.captions, req.VideoID, req.Lang, p.sleep)
	if err != nil {
		return err
	}
	video := <-metaCh

	segments, err := NormalizeCaptions(raw)
	if err != nil {
		return err
	}
	totalDuration := TotalDurationSec(segments)
	chunks := ChunkSegments(segments, p.Chunking)

	videoTitle := ""
	if video != nil {
		videoTitle = video.Title
	}
	articleTitle := videoTitle
	if strings.TrimSpace(articleTitle) == "" {
		articleTitle = fmt.Sprintf("YouTube Article (%s)", req.VideoID)
	}

	p.setProgress(ctx, req.ArticleID, PhaseChaptering, "Planning chapters")
	segmenter := NewSegmenter(p.chat, policy.Models.Chapters, p.Segmenter)
	chapters, usage, err := segmenter.Generate(ctx, FormatChunks(chunks), videoTitle, totalDuration)
	cost.Record("chapters", policy.Models.Chapters, usage)
	if err != nil {
		return err
	}

	// Update the title and slug early so pollers see them mid-generation.
	if err := p.store.SetArticleTitle(ctx, req.ArticleID, articleTitle, Slugify(articleTitle)); err != nil {
		p.logger.Warn("early title update failed", "articleId", req.ArticleID, "error", err)
	}

	budget := PlanWordBudget(len(chapters))
	ac := ArticleContext{
		ArticleTitle: articleTitle,
		VideoTitle:   videoTitle,
		VideoURL:     req.VideoURL,
		Budget:       budget,
	}
	writer := NewWriter(p.chat, policy.Models.Writer)
	fullTranscript := FormatSegments(segments)

	p.setProgress(ctx, req.ArticleID, PhaseWritingV1, "Writing draft")

	intro, err := writer.Introduction(ctx, ac, chapters, fullTranscript)
	if err != nil {
		return fmt.Errorf("writing introduction: %w", err)
	}
	cost.Record("write:intro:v1", policy.Models.Writer, intro.Usage)

	sections := make([]string, len(chapters))
	for i, chapter := range chapters {
		slice := SliceSegments(segments, chapter.StartSec, chapter.EndSec)
		piece, err := writer.Section(ctx, ac, chapter, FormatSegments(slice))
		if err != nil {
			return fmt.Errorf("writing section %q: %w", chapter.Title, err)
		}
		cost.Record("write:section:v1:"+chapter.ID, policy.Models.Writer, piece.Usage)
		sections[i] = piece.Content
	}

	conclusion, err := writer.Conclusion(ctx, ac, chapters, fullTranscript)
	if err != nil {
		return fmt.Errorf("writing conclusion: %w", err)
	}
	cost.Record("write:conclusion:v1", policy.Models.Writer, conclusion.Usage)

	draft := AssembleArticle(ArticleParts{
		Title:      articleTitle,
		VideoTitle: videoTitle,
		VideoURL:   req.VideoURL,
		Intro:      intro.Content,
		Chapters:   chapters,
		Sections:   sections,
		Conclusion: conclusion.Content,
	})

	p.setProgress(ctx, req.ArticleID, PhaseFeedback, "Reviewing draft")
	critic := NewCritic(p.chat, policy.Models.Feedback)
	feedback, err := critic.Feedback(ctx, articleTitle, videoTitle, draft)
	if err != nil {
		return fmt.Errorf("reviewing draft: %w", err)
	}
	cost.Record("feedback", policy.Models.Feedback, feedback.Usage)

	p.setProgress(ctx, req.ArticleID, PhaseWritingV2, "Rewriting final article")

	intro2, err := writer.ReviseIntroduction(ctx, ac, intro.Content, feedback.Content)
	if err != nil {
		return fmt.Errorf("revising introduction: %w", err)
	}
	cost.Record("write:intro:v2", policy.Models.Writer, intro2.Usage)

	sections2 := make([]string, len(chapters))
	for i, chapter := range chapters {
		piece, err := writer.ReviseSection(ctx, ac, chapter, sections[i], feedback.Content)
		if err != nil {
			return fmt.Errorf("revising section %q: %w", chapter.Title, err)
		}
		cost.Record("write:section:v2:"+chapter.ID, policy.Models.Writer, piece.Usage)
		sections2[i] = piece.Content
	}

	conclusion2, err := writer.ReviseConclusion(ctx, ac, conclusion.Content, feedback.Content)
	if err != nil {
		return fmt.Errorf("revising conclusion: %w", err)
	}
	cost.Record("write:conclusion:v2", policy.Models.Writer, conclusion2.Usage)

	p.setProgress(ctx, req.ArticleID, PhaseAssembling, "Assembling article")
	final := AssembleArticle(ArticleParts{
		Title:      articleTitle,
		VideoTitle: videoTitle,
		VideoURL:   req.VideoURL,
		Intro:      intro2.Content,
		Chapters:   chapters,
		Sections:   sections2,
		Conclusion: conclusion2.Content,
	})

	p.setProgress(ctx, req.ArticleID, PhaseSaving, "Saving")

	summary := cost.Summary()
	now := time.Now().UTC().Format(time.RFC3339)
	chapterMeta := make([]map[string]any, len(chapters))
	for i, ch := range chapters {
		chapterMeta[i] = map[string]any{
			"id":             ch.ID,
			"title":          ch.Title,
			"startSec":       ch.StartSec,
			"endSec":         ch.EndSec,
			"primaryKeyword": ch.PrimaryKeyword,
		}
	}

	metaPatch := map[string]any{
		"chapters": chapterMeta,
		"generationCost": map[string]any{
			"currency":     "USD",
			"totalUsd":     summary.TotalUSD,
			"unknownCalls": summary.UnknownCalls,
			"breakdownUsd": summary.BreakdownUSD,
			"pricing":      cost.PricingSnapshot(),
			"calls":        cost.Calls(),
			"computedAt":   summary.ComputedAt.Format(time.RFC3339),
		},
		"wordBudget": budget,
		"transcript": map[string]any{
			"lang":             usedLang,
			"segments":         len(segments),
			"chunks":           len(chunks),
			"totalDurationSec": totalDuration,
		},
		"generationProgress": map[string]any{
			"phase":       string(PhaseSaving),
			"message":     "Complete",
			"startedAt":   p.startedAt(ctx, req.ArticleID, now),
			"updatedAt":   now,
			"completedAt": now,
		},
	}

	p.observe(PhaseSaving, "Complete")
	if err := p.store.SaveResult(ctx, req.ArticleID, final, StatusComplete, metaPatch); err != nil {
		return fmt.Errorf("saving article: %w", err)
	}

	p.logger.Info("generation complete", "articleId", req.ArticleID,
		"chapters", len(chapters), "costUsd", summary.TotalUSD, "unknownCalls", summary.UnknownCalls)
	return nil
}

// setProgress persists a phase transition before the stage runs, so pollers
// always see the current stage. The first transition's startedAt is
// preserved across later ones.
func (p *Pipeline) setProgress(ctx context.Context, articleID string, phase Phase, message string) {
	now := time.Now().UTC().Format(time.RFC3339)
	p.observe(phase, message)

	err := p.store.PatchArticleMeta(ctx, articleID, map[string]any{
		"generationProgress": map[string]any{
			"phase":     string(phase),
			"message":   message,
			"startedAt": p.startedAt(ctx, articleID, now),
			"updatedAt": now,
		},
	})
	if err != nil {
		p.logger.Warn("progress update failed", "articleId", articleID, "phase", phase, "error", err)
	}
}

func (p *Pipeline) startedAt(ctx context.Context, articleID, fallback string) string {
	rec, err := p.store.GetArticle(ctx, articleID)
	if err != nil {
		return fallback
	}
	progress, ok := rec.Meta["generationProgress"].(map[string]any)
	if !ok {
		return fallback
	}
	if started, ok := progress["startedAt"].(string); ok && started != "" {
		return started
	}
	return fallback
}

func (p *Pipeline) markFailed(articleID string, cause error) {
	// Detached context: the job context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)
	if err := p.store.PatchArticleMeta(ctx, articleID, map[string]any{
		"generationProgress": map[string]any{
			"phase":     string(PhaseFailed),
			"message":   cause.Error(),
			"startedAt": p.startedAt(ctx, articleID, now),
			"updatedAt": now,
		},
	}); err != nil {
		p.logger.Error("failed to record job failure", "articleId", articleID, "error", err)
	}
	if err := p.store.SetArticleStatus(ctx, articleID, StatusFailed); err != nil {
		p.logger.Error("failed to mark article failed", "articleId", articleID, "error", err)
	}
	p.observe(PhaseFailed, cause.Error())
}

func (p *Pipeline) observe(phase Phase, message string) {
	if p.Observer != nil {
		p.Observer(phase, message)
	}
}

// StartParams describes an incoming generation request before any record
// exists.
type StartParams struct {
	UserID   string
	Plan     Plan
	VideoURL string
	Lang     string
}

// StartResult reports what happened to a start request.
type StartResult struct {
	ArticleID string
	Reused    bool
	Limit     *LimitState
}

// JobRunner owns the background goroutines running generation jobs and the
// admission logic in front of them.
type JobRunner struct {
	pipeline *Pipeline
	store    *Store
	policies map[Plan]PlanPolicy
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewJobRunner creates a runner around the pipeline.
func NewJobRunner(pipeline *Pipeline, logger *slog.Logger) *JobRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRunner{
		pipeline: pipeline,
		store:    pipeline.store,
		policies: pipeline.policies,
		logger:   logger,
	}
}

// StartGeneration admits a generation request: it reuses the user's existing
// draft if one exists, enforces the plan limit, creates the placeholder
// record, and kicks off the background job.
func (r *JobRunner) StartGeneration(ctx context.Context, params StartParams) (*StartResult, error) {
	videoURL, videoID, err := ParseVideoArg(params.VideoURL)
	if err != nil {
		return nil, err
	}

	userID := params.UserID
	if userID == "" {
		userID = "local"
	}

	// Draft reuse short-circuits before the limit check so a stuck poller
	// never burns quota.
	if draft, err := r.store.FindDraft(ctx, userID); err == nil {
		return &StartResult{ArticleID: draft.ID, Reused: true}, nil
	} else if !errors.Is(err, ErrArticleNotFound) {
		return nil, err
	}

	policy := PolicyFor(params.Plan, r.policies)
	limit, err := AssertGenerationLimit(ctx, r.store, userID, policy, time.Now())
	if err != nil {
		return nil, err
	}

	articleID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)
	rec := &ArticleRecord{
		ID:       articleID,
		UserID:   userID,
		VideoURL: videoURL,
		VideoID:  videoID,
		Title:    fmt.Sprintf("Generating (%s)", videoID),
		Slug:     fmt.Sprintf("generating-%s-%d", videoID, time.Now().UnixMilli()),
		Status:   StatusDraft,
		Meta: map[string]any{
			"generationRequest": map[string]any{
				"videoUrl": videoURL,
				"videoId":  videoID,
				"lang":     params.Lang,
				"plan":     string(params.Plan),
			},
			"generationLimit": limit,
			"generationProgress": map[string]any{
				"phase":     string(PhaseFetching),
				"message":   "Queued",
				"startedAt": now,
				"updatedAt": now,
			},
		},
	}

	id, created, err := r.store.CreateArticleIfNoDraft(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !created {
		return &StartResult{ArticleID: id, Reused: true}, nil
	}

	r.Launch(JobRequest{
		ArticleID: articleID,
		UserID:    userID,
		Plan:      params.Plan,
		VideoURL:  videoURL,
		VideoID:   videoID,
		Lang:      params.Lang,
	})

	return &StartResult{ArticleID: articleID, Limit: limit}, nil
}

// Launch runs a job on a detached background goroutine. The job outlives the
// originating HTTP request.
func (r *JobRunner) Launch(req JobRequest) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pipeline.Run(context.Background(), req)
	}()
}

// RunForeground creates the record like StartGeneration but runs the
// pipeline inline instead of launching a goroutine, returning the finished
// article. Used by the CLI and the MCP generate tool.
func (r *JobRunner) RunForeground(ctx context.Context, params StartParams) (*ArticleRecord, error) {
	videoURL, videoID, err := ParseVideoArg(params.VideoURL)
	if err != nil {
		return nil, err
	}

	userID := params.UserID
	if userID == "" {
		userID = "local"
	}

	policy := PolicyFor(params.Plan, r.policies)
	if _, err := AssertGenerationLimit(ctx, r.store, userID, policy, time.Now()); err != nil {
		return nil, err
	}

	articleID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)
	rec := &ArticleRecord{
		ID:       articleID,
		UserID:   userID,
		VideoURL: videoURL,
		VideoID:  videoID,
		Title:    fmt.Sprintf("Generating (%s)", videoID),
		Slug:     fmt.Sprintf("generating-%s-%d", videoID, time.Now().UnixMilli()),
		Status:   StatusDraft,
		Meta: map[string]any{
			"generationProgress": map[string]any{
				"phase":     string(PhaseFetching),
				"message":   "Queued",
				"startedAt": now,
				"updatedAt": now,
			},
		},
	}
	if err := r.store.CreateArticle(ctx, rec); err != nil {
		return nil, err
	}

	r.pipeline.Run(ctx, JobRequest{
		ArticleID: articleID,
		UserID:    userID,
		Plan:      params.Plan,
		VideoURL:  videoURL,
		VideoID:   videoID,
		Lang:      params.Lang,
	})

	article, err := r.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if article.Status != StatusComplete {
		message := "generation failed"
		if progress, ok := article.Meta["generationProgress"].(map[string]any); ok {
			if m, ok := progress["message"].(string); ok && m != "" {
				message = m
			}
		}
		return article, fmt.Errorf("generating article: %s", message)
	}
	return article, nil
}

// Wait blocks until all in-flight background jobs finish. Used for graceful
// shutdown.
func (r *JobRunner) Wait() {
	r.wg.Wait()
}
