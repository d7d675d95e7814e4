package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server exposes the generation pipeline over HTTP.
type Server struct {
	runner *JobRunner
	store  *Store
	logger *slog.Logger
	engine *gin.Engine
}

// NewServer builds the HTTP server and its routes.
func NewServer(runner *JobRunner, store *Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	s := &Server{
		runner: runner,
		store:  store,
		logger: logger,
		engine: engine,
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := engine.Group("/api")
	api.POST("/generation/start", s.handleStart)
	api.GET("/generation/status", s.handleStatus)
	api.GET("/generation/result", s.handleResult)
	api.GET("/articles", s.handleListArticles)

	return s
}

// Handler returns the HTTP handler, used directly in tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully and waits
// for in-flight generation jobs.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	s.logger.Info("waiting for in-flight generation jobs")
	s.runner.Wait()
	return <-errCh
}

type startRequest struct {
	VideoURL string `json:"videoUrl"`
	Lang     string `json:"lang"`
	UserID   string `json:"userId"`
	Plan     string `json:"plan"`
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.VideoURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "videoUrl is required"})
		return
	}
	if req.Lang == "" {
		req.Lang = "en"
	}
	plan := Plan(req.Plan)
	if plan == "" {
		plan = PlanFree
	}

	result, err := s.runner.StartGeneration(c.Request.Context(), StartParams{
		UserID:   req.UserID,
		Plan:     plan,
		VideoURL: req.VideoURL,
		Lang:     req.Lang,
	})
	switch {
	case errors.Is(err, ErrInvalidVideoURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ErrLimitExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("start generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start generation"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"ok":        true,
		"articleId": result.ArticleID,
		"reused":    result.Reused,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	articleID := c.Query("articleId")
	userID := c.DefaultQuery("userId", "local")

	var (
		article *ArticleRecord
		err     error
	)
	if articleID != "" {
		article, err = s.store.GetArticle(c.Request.Context(), articleID)
	} else {
		article, err = s.store.FindDraft(c.Request.Context(), userID)
	}
	if errors.Is(err, ErrArticleNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}
	if err != nil {
		s.logger.Error("status lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"inProgress": article.Status == StatusDraft,
		"article": gin.H{
			"id":       article.ID,
			"status":   string(article.Status),
			"title":    article.Title,
			"slug":     article.Slug,
			"progress": article.Meta["generationProgress"],
		},
	})
}

func (s *Server) handleResult(c *gin.Context) {
	articleID := c.Query("articleId")
	if articleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "articleId is required"})
		return
	}

	article, err := s.store.GetArticle(c.Request.Context(), articleID)
	if errors.Is(err, ErrArticleNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}
	if err != nil {
		s.logger.Error("result lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read article"})
		return
	}

	if article.Status != StatusComplete {
		c.JSON(http.StatusConflict, gin.H{
			"error":    "article is not complete yet",
			"status":   string(article.Status),
			"progress": article.Meta["generationProgress"],
		})
		return
	}

	if c.Query("format") == "html" {
		html, err := MarkdownToHTML(article.Markdown)
		if err != nil {
			s.logger.Error("html conversion failed", "articleId", articleID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render HTML"})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", article.Slug+".md"))
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(article.Markdown))
}

func (s *Server) handleListArticles(c *gin.Context) {
	userID := c.DefaultQuery("userId", "local")

	articles, err := s.store.ListArticles(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("listing articles failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list articles"})
		return
	}

	items := make([]gin.H, 0, len(articles))
	for _, a := range articles {
		items = append(items, gin.H{
			"id":        a.ID,
			"title":     a.Title,
			"slug":      a.Slug,
			"status":    string(a.Status),
			"videoUrl":  a.VideoURL,
			"createdAt": a.CreatedAt.Format(time.RFC3339),
			"updatedAt": a.UpdatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"articles": items})
}
