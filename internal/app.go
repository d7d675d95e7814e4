package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// phaseSteps orders the pipeline phases for progress display.
var phaseSteps = map[Phase]int{
	PhaseFetching:   1,
	PhaseChaptering: 2,
	PhaseWritingV1:  3,
	PhaseFeedback:   4,
	PhaseWritingV2:  5,
	PhaseAssembling: 6,
	PhaseSaving:     7,
}

// App holds the application state and dependencies
type App struct {
	config   *Config
	store    *Store
	chat     ChatClient
	captions CaptionSource
	pricing  PricingSource
	policies map[Plan]PlanPolicy
	logger   *slog.Logger
	ui       UIManager
}

// NewApp initializes the application, opening the article store.
func NewApp(config *Config, options ...AppOption) (*App, error) {
	app := &App{
		config:   config,
		captions: NewYouTubeCaptions(config.Verbose),
		policies: config.Policies(),
		logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
		ui:       NewUIManager(config.Verbose, config.Quiet),
	}

	if config.OpenRouterAPIKey != "" {
		app.chat = NewOpenRouterClient(config.OpenRouterAPIKey, config.OpenRouterBaseURL,
			config.OpenRouterReferer, config.AppTitle, config.LLMRatePerSec, config.Verbose)
		app.pricing = NewOpenRouterPricing(config.OpenRouterBaseURL, config.OpenRouterAPIKey)
	}

	// Apply any custom options
	for _, option := range options {
		option(app)
	}

	if app.store == nil {
		if err := EnsureDirs(config.DataDir); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		store, err := OpenStore(config.DBPath)
		if err != nil {
			return nil, err
		}
		app.store = store
	}

	return app, nil
}

// AppOption customizes App creation
type AppOption func(*App)

// WithStore sets a custom article store
func WithStore(store *Store) AppOption {
	return func(a *App) {
		a.store = store
	}
}

// WithChatClient sets a custom chat completion client
func WithChatClient(chat ChatClient) AppOption {
	return func(a *App) {
		a.chat = chat
	}
}

// WithCaptionSource sets a custom caption source
func WithCaptionSource(captions CaptionSource) AppOption {
	return func(a *App) {
		a.captions = captions
	}
}

// WithPricingSource sets a custom pricing source
func WithPricingSource(pricing PricingSource) AppOption {
	return func(a *App) {
		a.pricing = pricing
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) AppOption {
	return func(a *App) {
		a.logger = logger
	}
}

// Store exposes the article store to commands.
func (app *App) Store() *Store {
	return app.store
}

// Close releases the application's resources.
func (app *App) Close() error {
	if app.store != nil {
		return app.store.Close()
	}
	return nil
}

// NewRunner builds a job runner over the app's collaborators. The observer,
// when set, receives phase transitions (the CLI hooks a progress bar here).
func (app *App) NewRunner(observer func(Phase, string)) *JobRunner {
	pipeline := NewPipeline(app.store, app.captions, app.chat, app.pricing, app.policies, app.logger)
	pipeline.Observer = observer
	return NewJobRunner(pipeline, app.logger)
}

// GenerateArticle runs the full pipeline in the foreground and returns the
// finished article, driving a progress bar through the phases.
func (app *App) GenerateArticle(ctx context.Context, videoArg string) (*ArticleRecord, error) {
	bar := app.ui.NewProgressBar(len(phaseSteps), "Starting generation")
	observer := func(phase Phase, message string) {
		if step, ok := phaseSteps[phase]; ok {
			bar.Describe(message)
			bar.Set(step)
		}
	}

	runner := app.NewRunner(observer)

	ctx, cancel := context.WithTimeout(ctx, app.config.JobTimeout)
	defer cancel()

	article, err := runner.RunForeground(ctx, StartParams{
		Plan:     app.config.Plan,
		VideoURL: videoArg,
		Lang:     app.config.Lang,
	})
	bar.Finish()
	if err != nil {
		return nil, err
	}
	return article, nil
}
