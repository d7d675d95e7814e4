package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, chat ChatClient, captions CaptionSource) (*Server, *JobRunner, *Store) {
	t.Helper()
	pipeline, store := newTestPipeline(t, chat, captions)
	runner := NewJobRunner(pipeline, quietLogger())
	return NewServer(runner, store, quietLogger()), runner, store
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestServerHealthz(t *testing.T) {
	server, _, _ := newTestServer(t, &fakeChat{}, &fakeCaptions{})
	rec := doJSON(t, server.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerGenerationFlow(t *testing.T) {
	chat := &fakeChat{}
	scriptHappyPath(chat, &TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150})
	captions := &fakeCaptions{
		tracks: map[string][]RawCaption{"en": defaultTrack()},
		meta:   &VideoMeta{Title: "Compilers Explained"},
	}

	server, runner, _ := newTestServer(t, chat, captions)
	handler := server.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/generation/start",
		`{"videoUrl":"https://www.youtube.com/watch?v=abc123def45","lang":"en"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	start := decodeBody(t, rec)
	assert.Equal(t, true, start["ok"])
	assert.Equal(t, false, start["reused"])
	articleID := start["articleId"].(string)
	require.NotEmpty(t, articleID)

	runner.Wait()

	rec = doJSON(t, handler, http.MethodGet, "/api/generation/status?articleId="+articleID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)
	assert.Equal(t, false, status["inProgress"])
	article := status["article"].(map[string]any)
	assert.Equal(t, "complete", article["status"])
	assert.Equal(t, "Compilers Explained", article["title"])

	rec = doJSON(t, handler, http.MethodGet, "/api/generation/result?articleId="+articleID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `"compilers-explained.md"`)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rec.Body.String(), "# Compilers Explained")

	rec = doJSON(t, handler, http.MethodGet, "/api/generation/result?articleId="+articleID+"&format=html", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h1>Compilers Explained</h1>")

	rec = doJSON(t, handler, http.MethodGet, "/api/articles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody(t, rec)
	articles := list["articles"].([]any)
	require.Len(t, articles, 1)
}

func TestServerStartInvalidRequests(t *testing.T) {
	server, _, _ := newTestServer(t, &fakeChat{}, &fakeCaptions{})
	handler := server.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/generation/start", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/generation/start", `{"lang":"en"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/generation/start", `{"videoUrl":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "video")
}

func TestServerStartRateLimited(t *testing.T) {
	server, _, store := newTestServer(t, &fakeChat{}, &fakeCaptions{})
	ctx := context.Background()

	for range 4 {
		require.NoError(t, store.CreateArticle(ctx, newTestArticle("local", StatusComplete)))
	}

	rec := doJSON(t, server.Handler(), http.MethodPost, "/api/generation/start",
		`{"videoUrl":"https://www.youtube.com/watch?v=abc123def45"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "4/month")
}

func TestServerStartReusesDraft(t *testing.T) {
	server, _, store := newTestServer(t, &fakeChat{}, &fakeCaptions{})

	draft := newTestArticle("local", StatusDraft)
	require.NoError(t, store.CreateArticle(context.Background(), draft))

	rec := doJSON(t, server.Handler(), http.MethodPost, "/api/generation/start",
		`{"videoUrl":"https://www.youtube.com/watch?v=abc123def45"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, true, payload["reused"])
	assert.Equal(t, draft.ID, payload["articleId"])
}

func TestServerStatusFindsDraftByUser(t *testing.T) {
	server, _, store := newTestServer(t, &fakeChat{}, &fakeCaptions{})

	draft := newTestArticle("local", StatusDraft)
	require.NoError(t, store.CreateArticle(context.Background(), draft))

	rec := doJSON(t, server.Handler(), http.MethodGet, "/api/generation/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)
	assert.Equal(t, true, status["inProgress"])
	article := status["article"].(map[string]any)
	assert.Equal(t, draft.ID, article["id"])
}

func TestServerStatusNotFound(t *testing.T) {
	server, _, _ := newTestServer(t, &fakeChat{}, &fakeCaptions{})

	rec := doJSON(t, server.Handler(), http.MethodGet, "/api/generation/status?articleId=missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// No draft for the default user either.
	rec = doJSON(t, server.Handler(), http.MethodGet, "/api/generation/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerResultConflictWhileDraft(t *testing.T) {
	server, _, store := newTestServer(t, &fakeChat{}, &fakeCaptions{})

	draft := newTestArticle("local", StatusDraft)
	draft.Meta = map[string]any{
		"generationProgress": map[string]any{"phase": "writing_v1", "message": "Writing draft"},
	}
	require.NoError(t, store.CreateArticle(context.Background(), draft))

	rec := doJSON(t, server.Handler(), http.MethodGet, "/api/generation/result?articleId="+draft.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "draft", payload["status"])

	rec = doJSON(t, server.Handler(), http.MethodGet, "/api/generation/result", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
