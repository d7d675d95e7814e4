package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestArticle(userID string, status ArticleStatus) *ArticleRecord {
	return &ArticleRecord{
		ID:       uuid.NewString(),
		UserID:   userID,
		VideoURL: "https://www.youtube.com/watch?v=abc123def45",
		VideoID:  "abc123def45",
		Title:    "Test Article",
		Slug:     "test-article",
		Status:   status,
		Meta:     map[string]any{"k": "v"},
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := newTestArticle("u1", StatusDraft)
	require.NoError(t, store.CreateArticle(ctx, rec))

	got, err := store.GetArticle(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, StatusDraft, got.Status)
	assert.Equal(t, "v", got.Meta["k"])
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStoreGetMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetArticle(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrArticleNotFound))

	_, err = store.FindDraft(context.Background(), "nobody")
	assert.True(t, errors.Is(err, ErrArticleNotFound))
}

func TestStorePatchMetaPreservesSiblings(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := newTestArticle("u1", StatusDraft)
	rec.Meta = map[string]any{"keep": "me", "replace": "old"}
	require.NoError(t, store.CreateArticle(ctx, rec))

	require.NoError(t, store.PatchArticleMeta(ctx, rec.ID, map[string]any{
		"replace": "new",
		"added":   map[string]any{"nested": true},
	}))

	got, err := store.GetArticle(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "me", got.Meta["keep"])
	assert.Equal(t, "new", got.Meta["replace"])
	added, ok := got.Meta["added"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, added["nested"])
}

func TestStorePatchMetaMissingArticle(t *testing.T) {
	store := openTestStore(t)
	err := store.PatchArticleMeta(context.Background(), "nope", map[string]any{"a": 1})
	assert.True(t, errors.Is(err, ErrArticleNotFound))
}

func TestStoreCreateArticleIfNoDraft(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := newTestArticle("u1", StatusDraft)
	id, created, err := store.CreateArticleIfNoDraft(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.ID, id)

	// A second attempt while the draft exists reuses it.
	second := newTestArticle("u1", StatusDraft)
	id, created, err = store.CreateArticleIfNoDraft(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, id)

	// Other users are unaffected.
	other := newTestArticle("u2", StatusDraft)
	_, created, err = store.CreateArticleIfNoDraft(ctx, other)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestStoreSaveResult(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := newTestArticle("u1", StatusDraft)
	require.NoError(t, store.CreateArticle(ctx, rec))

	require.NoError(t, store.SaveResult(ctx, rec.ID, "# Done\n", StatusComplete, map[string]any{
		"wordBudget": map[string]any{"overall": 1500},
	}))

	got, err := store.GetArticle(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, "# Done\n", got.Markdown)
	assert.Equal(t, "v", got.Meta["k"])
	assert.Contains(t, got.Meta, "wordBudget")

	latest, err := store.LatestComplete(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, latest.ID)
}

func TestStoreCountArticlesSince(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, store.CreateArticle(ctx, newTestArticle("u1", StatusComplete)))
	}
	require.NoError(t, store.CreateArticle(ctx, newTestArticle("u2", StatusComplete)))

	count, err := store.CountArticlesSince(ctx, "u1", time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = store.CountArticlesSince(ctx, "u1", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStoreListArticles(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := newTestArticle("u1", StatusComplete)
	b := newTestArticle("u1", StatusDraft)
	require.NoError(t, store.CreateArticle(ctx, a))
	require.NoError(t, store.CreateArticle(ctx, b))

	articles, err := store.ListArticles(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, articles, 2)
}

func TestAssertGenerationLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

	policy := PlanPolicy{Limit: 2, Window: WindowDaily}

	state, err := AssertGenerationLimit(ctx, store, "u1", policy, now)
	require.NoError(t, err)
	assert.Equal(t, 0, state.Used)
	assert.Equal(t, 2, state.Remaining)

	require.NoError(t, store.CreateArticle(ctx, newTestArticle("u1", StatusComplete)))
	require.NoError(t, store.CreateArticle(ctx, newTestArticle("u1", StatusComplete)))

	// Articles were created "now" (wall clock), inside today's window when
	// checked against the current time.
	state, err = AssertGenerationLimit(ctx, store, "u1", policy, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLimitExceeded))
	assert.Contains(t, err.Error(), "2/day")
	assert.Equal(t, 2, state.Used)
	assert.Equal(t, 0, state.Remaining)
}
