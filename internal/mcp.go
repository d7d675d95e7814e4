package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer wraps the MCP server and application dependencies
type MCPServer struct {
	app       *App
	runner    *JobRunner
	mcpServer *server.MCPServer
}

// NewMCPServer creates a new MCP server instance
func NewMCPServer(app *App) *MCPServer {
	mcpServer := server.NewMCPServer(
		"vid2md-server",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{
		app:       app,
		runner:    app.NewRunner(nil),
		mcpServer: mcpServer,
	}

	// Register tools
	s.registerTools()

	return s
}

// registerTools registers all available MCP tools
func (s *MCPServer) registerTools() {
	// generate_article tool
	s.mcpServer.AddTool(mcp.NewTool("generate_article",
		mcp.WithDescription("Generate a full SEO blog article in Markdown from a YouTube video's captions. Runs the complete pipeline (chapters, draft, review, rewrite) and may take several minutes. The article is also stored locally and can be fetched later with article_result."),
		mcp.WithString("url",
			mcp.Description("YouTube video URL or 11-character video id"),
			mcp.Required(),
		),
		mcp.WithString("lang",
			mcp.Description("Preferred caption language code (default: en)"),
		),
	), s.handleGenerateArticle)

	// article_status tool
	s.mcpServer.AddTool(mcp.NewTool("article_status",
		mcp.WithDescription("Check the generation status of a stored article. Returns the current phase, message, and timestamps."),
		mcp.WithString("article_id",
			mcp.Description("Article id returned by generate_article"),
			mcp.Required(),
		),
	), s.handleArticleStatus)

	// article_result tool
	s.mcpServer.AddTool(mcp.NewTool("article_result",
		mcp.WithDescription("Fetch the finished Markdown of a completed article. Fails while generation is still running."),
		mcp.WithString("article_id",
			mcp.Description("Article id returned by generate_article"),
			mcp.Required(),
		),
	), s.handleArticleResult)
}

// handleGenerateArticle implements the generate_article tool
func (s *MCPServer) handleGenerateArticle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url parameter is required and must be a string"), nil
	}

	lang := request.GetString("lang", s.app.config.Lang)

	MCPLogInfo("generate_article url=%s lang=%s", url, lang)

	article, err := s.runner.RunForeground(ctx, StartParams{
		Plan:     s.app.config.Plan,
		VideoURL: url,
		Lang:     lang,
	})
	if err != nil {
		MCPLogError("generate_article failed: %v", err)
		return mcp.NewToolResultErrorFromErr("article generation failed", err), nil
	}

	header := fmt.Sprintf("Article id: %s\nSlug: %s\n\n", article.ID, article.Slug)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(header + article.Markdown)},
	}, nil
}

// handleArticleStatus implements the article_status tool
func (s *MCPServer) handleArticleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	articleID, err := request.RequireString("article_id")
	if err != nil {
		return mcp.NewToolResultError("article_id parameter is required and must be a string"), nil
	}

	article, err := s.app.Store().GetArticle(ctx, articleID)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("article lookup failed", err), nil
	}

	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("Title: %s\n", article.Title))
	buf.WriteString(fmt.Sprintf("Status: %s\n", article.Status))
	if progress, ok := article.Meta["generationProgress"]; ok {
		encoded, err := json.MarshalIndent(progress, "", "  ")
		if err == nil {
			buf.WriteString("Progress:\n")
			buf.Write(encoded)
			buf.WriteString("\n")
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(buf.String())},
	}, nil
}

// handleArticleResult implements the article_result tool
func (s *MCPServer) handleArticleResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	articleID, err := request.RequireString("article_id")
	if err != nil {
		return mcp.NewToolResultError("article_id parameter is required and must be a string"), nil
	}

	article, err := s.app.Store().GetArticle(ctx, articleID)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("article lookup failed", err), nil
	}

	if article.Status != StatusComplete {
		return mcp.NewToolResultError(fmt.Sprintf("article is not complete yet (status: %s) - use article_status to track progress", article.Status)), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(article.Markdown)},
	}, nil
}

// Start starts the MCP server using the specified transport
func (s *MCPServer) Start(ctx context.Context, transport string, port int) error {
	if transport == "http" {
		httpServer := server.NewStreamableHTTPServer(s.mcpServer)
		addr := fmt.Sprintf(":%d", port)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return httpServer.Start(addr)
	}

	// Default to stdio transport
	return server.ServeStdio(s.mcpServer)
}
