package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrArticleNotFound indicates the requested article does not exist.
var ErrArticleNotFound = fmt.Errorf("article not found")

// ArticleStatus is the lifecycle state of a stored article.
type ArticleStatus string

const (
	StatusDraft    ArticleStatus = "draft"
	StatusComplete ArticleStatus = "complete"
	StatusFailed   ArticleStatus = "failed"
)

// ArticleRecord is one stored article with its generation bookkeeping.
type ArticleRecord struct {
	ID        string
	UserID    string
	VideoURL  string
	VideoID   string
	Title     string
	Slug      string
	Markdown  string
	Status    ArticleStatus
	Meta      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists articles in sqlite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	video_url  TEXT NOT NULL,
	video_id   TEXT NOT NULL,
	title      TEXT NOT NULL,
	slug       TEXT NOT NULL,
	markdown   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	meta_json  TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_user_status ON articles(user_id, status);
CREATE INDEX IF NOT EXISTS idx_articles_user_created ON articles(user_id, created_at);
`

// OpenStore opens (creating if needed) the sqlite database at path. Use
// ":memory:" for an ephemeral store in tests.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// modernc sqlite serializes writes through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateArticle inserts a new article record.
func (s *Store) CreateArticle(ctx context.Context, rec *ArticleRecord) error {
	meta, err := encodeMeta(rec.Meta)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO articles (id, user_id, video_url, video_id, title, slug, markdown, status, meta_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.VideoURL, rec.VideoID, rec.Title, rec.Slug, rec.Markdown,
		string(rec.Status), meta, rec.CreatedAt.Format(time.RFC3339), rec.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting article: %w", err)
	}
	return nil
}

// CreateArticleIfNoDraft atomically checks for an existing draft owned by the
// record's user and inserts the record only when none exists. It returns the
// surviving article id and whether the insert happened.
func (s *Store) CreateArticleIfNoDraft(ctx context.Context, rec *ArticleRecord) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM articles WHERE user_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		rec.UserID, string(StatusDraft)).Scan(&existingID)
	switch {
	case err == nil:
		return existingID, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, fmt.Errorf("checking for draft: %w", err)
	}

	meta, err := encodeMeta(rec.Meta)
	if err != nil {
		return "", false, err
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO articles (id, user_id, video_url, video_id, title, slug, markdown, status, meta_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.VideoURL, rec.VideoID, rec.Title, rec.Slug, rec.Markdown,
		string(rec.Status), meta, rec.CreatedAt.Format(time.RFC3339), rec.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return "", false, fmt.Errorf("inserting article: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("committing article: %w", err)
	}
	return rec.ID, true, nil
}

// GetArticle loads one article by id.
func (s *Store) GetArticle(ctx context.Context, id string) (*ArticleRecord, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, video_url, video_id, title, slug, markdown, status, meta_json, created_at, updated_at
		FROM articles WHERE id = ?`, id))
}

// FindDraft returns the user's newest draft article.
func (s *Store) FindDraft(ctx context.Context, userID string) (*ArticleRecord, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, video_url, video_id, title, slug, markdown, status, meta_json, created_at, updated_at
		FROM articles WHERE user_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		userID, string(StatusDraft)))
}

// LatestComplete returns the user's most recently completed article.
func (s *Store) LatestComplete(ctx context.Context, userID string) (*ArticleRecord, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, video_url, video_id, title, slug, markdown, status, meta_json, created_at, updated_at
		FROM articles WHERE user_id = ? AND status = ? ORDER BY updated_at DESC LIMIT 1`,
		userID, string(StatusComplete)))
}

// ListArticles returns the user's articles, newest first.
func (s *Store) ListArticles(ctx context.Context, userID string) ([]*ArticleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, video_url, video_id, title, slug, markdown, status, meta_json, created_at, updated_at
		FROM articles WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing articles: %w", err)
	}
	defer rows.Close()

	var articles []*ArticleRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		articles = append(articles, rec)
	}
	return articles, rows.Err()
}

// PatchArticleMeta merges patch into the article's meta JSON at the top
// level inside a transaction, so concurrent patches of different keys don't
// clobber each other.
func (s *Store) PatchArticleMeta(ctx context.Context, id string, patch map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT meta_json FROM articles WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrArticleNotFound
	}
	if err != nil {
		return fmt.Errorf("reading article meta: %w", err)
	}

	meta := make(map[string]any)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			meta = make(map[string]any)
		}
	}
	for key, value := range patch {
		meta[key] = value
	}

	encoded, err := encodeMeta(meta)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE articles SET meta_json = ?, updated_at = ? WHERE id = ?`,
		encoded, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating article meta: %w", err)
	}

	return tx.Commit()
}

// SetArticleTitle updates the title and slug, used once the real title is
// known mid-generation.
func (s *Store) SetArticleTitle(ctx context.Context, id, title, slug string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE articles SET title = ?, slug = ?, updated_at = ? WHERE id = ?`,
		title, slug, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating article title: %w", err)
	}
	return nil
}

// SetArticleStatus updates only the lifecycle status.
func (s *Store) SetArticleStatus(ctx context.Context, id string, status ArticleStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE articles SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating article status: %w", err)
	}
	return nil
}

// SaveResult stores the final markdown, flips the status, and merges the
// final meta patch, all in one transaction.
func (s *Store) SaveResult(ctx context.Context, id, markdown string, status ArticleStatus, metaPatch map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT meta_json FROM articles WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrArticleNotFound
	}
	if err != nil {
		return fmt.Errorf("reading article meta: %w", err)
	}

	meta := make(map[string]any)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			meta = make(map[string]any)
		}
	}
	for key, value := range metaPatch {
		meta[key] = value
	}
	encoded, err := encodeMeta(meta)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE articles SET markdown = ?, status = ?, meta_json = ?, updated_at = ? WHERE id = ?`,
		markdown, string(status), encoded, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("saving article result: %w", err)
	}

	return tx.Commit()
}

// CountArticlesSince counts the user's articles created at or after t. Used
// for durable generation limits: a started job counts against the window
// even if the process restarts.
func (s *Store) CountArticlesSince(ctx context.Context, userID string, t time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM articles WHERE user_id = ? AND created_at >= ?`,
		userID, t.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting articles: %w", err)
	}
	return count, nil
}

func (s *Store) scanOne(row *sql.Row) (*ArticleRecord, error) {
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrArticleNotFound
	}
	return rec, err
}

func scanRecord(scan func(...any) error) (*ArticleRecord, error) {
	var rec ArticleRecord
	var status, meta, createdAt, updatedAt string
	if err := scan(&rec.ID, &rec.UserID, &rec.VideoURL, &rec.VideoID, &rec.Title, &rec.Slug,
		&rec.Markdown, &status, &meta, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rec.Status = ArticleStatus(status)
	rec.Meta = make(map[string]any)
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &rec.Meta)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

func encodeMeta(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encoding article meta: %w", err)
	}
	return string(encoded), nil
}
