package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brogergvhs/noveld/internal/chapters"
	_ "github.com/mattn/go-sqlite3"
)

// Book is the catalog record of a submitted book.
type Book struct {
	ID        string
	SourceURL string
	IndexURL  string
	Title     string
	Author    string
	Adapter   string
	State     string
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// catalog is the SQLite index of books and their manifests.
type catalog struct {
	db *sql.DB
}

func openCatalog(dbPath string) (*catalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	c := &catalog{db: db}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return c, nil
}

func (c *catalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS books (
		book_id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL UNIQUE,
		index_url TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		adapter TEXT NOT NULL,
		state TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chapters (
		book_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		state TEXT NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		fetched_at TEXT,
		PRIMARY KEY (book_id, idx)
	);
	`

	_, err := c.db.Exec(schema)
	return err
}

func (c *catalog) close() error {
	return c.db.Close()
}

func (c *catalog) insertBook(ctx context.Context, q querier, b Book) error {
	query := `
		INSERT INTO books (
			book_id, source_url, index_url, title, author, adapter,
			state, position, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		b.ID, b.SourceURL, b.IndexURL, b.Title, b.Author, b.Adapter,
		b.State, b.Position, formatTime(&b.CreatedAt), formatTime(&b.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrBookExists
		}
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return nil
}

const bookColumns = `book_id, source_url, index_url, title, author, adapter,
	state, position, created_at, updated_at`

func (c *catalog) book(ctx context.Context, q querier, id string) (Book, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE book_id = ?`, id)

	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, ErrBookNotFound
	}
	return b, err
}

func (c *catalog) books(ctx context.Context) ([]Book, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY created_at, book_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(s scanner) (Book, error) {
	var b Book
	var created, updated string

	err := s.Scan(&b.ID, &b.SourceURL, &b.IndexURL, &b.Title, &b.Author, &b.Adapter,
		&b.State, &b.Position, &created, &updated)
	if err != nil {
		return Book{}, err
	}

	b.CreatedAt = parseTime(created)
	b.UpdatedAt = parseTime(updated)
	return b, nil
}

func (c *catalog) updateBook(ctx context.Context, q querier, id, column string, value any, now time.Time) error {
	res, err := q.ExecContext(ctx,
		`UPDATE books SET `+column+` = ?, updated_at = ? WHERE book_id = ?`,
		value, formatTime(&now), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update book %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBookNotFound
	}
	return nil
}

func (c *catalog) touch(ctx context.Context, q querier, id string, now time.Time) error {
	if _, err := q.ExecContext(ctx, `UPDATE books SET updated_at = ? WHERE book_id = ?`, formatTime(&now), id); err != nil {
		return fmt.Errorf("failed to touch book: %w", err)
	}
	return nil
}

func (c *catalog) insertChapters(ctx context.Context, q querier, bookID string, refs []chapters.Ref) error {
	stmt := `
		INSERT INTO chapters (book_id, idx, title, url, state, fingerprint, reason, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, r := range refs {
		var fetched *time.Time
		if !r.FetchedAt.IsZero() {
			fetched = &r.FetchedAt
		}
		if _, err := q.ExecContext(ctx, stmt,
			bookID, r.Index, r.Title, r.URL, r.State.String(), r.Fingerprint, r.Reason, formatTime(fetched),
		); err != nil {
			return fmt.Errorf("failed to insert chapter %d: %w", r.Index, err)
		}
	}
	return nil
}

const chapterColumns = `idx, title, url, state, fingerprint, reason, fetched_at`

func (c *catalog) manifest(ctx context.Context, q querier, bookID string) ([]chapters.Ref, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE book_id = ? ORDER BY idx`, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	defer rows.Close()

	var out []chapters.Ref
	for rows.Next() {
		r, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *catalog) chapter(ctx context.Context, q querier, bookID string, index int) (chapters.Ref, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE book_id = ? AND idx = ?`, bookID, index)

	r, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chapters.Ref{}, errNoChapter
	}
	return r, err
}

func scanChapter(s scanner) (chapters.Ref, error) {
	var r chapters.Ref
	var state string
	var fetched sql.NullString

	if err := s.Scan(&r.Index, &r.Title, &r.URL, &state, &r.Fingerprint, &r.Reason, &fetched); err != nil {
		return chapters.Ref{}, err
	}

	st, err := chapters.ParseState(state)
	if err != nil {
		return chapters.Ref{}, err
	}
	r.State = st
	if fetched.Valid {
		r.FetchedAt = parseTime(fetched.String)
	}
	return r, nil
}

// setChapter records a chapter outcome. Done rows only change through
// markDone, so cached content always has a Done entry.
func (c *catalog) setChapter(ctx context.Context, q querier, bookID string, index int, state chapters.State, reason string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE chapters SET state = ?, reason = ? WHERE book_id = ? AND idx = ? AND state != ?`,
		state.String(), reason, bookID, index, chapters.Done.String(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update chapter: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (c *catalog) markDone(ctx context.Context, q querier, bookID string, index int, fingerprint string, at time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE chapters SET state = ?, fingerprint = ?, reason = '', fetched_at = ? WHERE book_id = ? AND idx = ?`,
		chapters.Done.String(), fingerprint, formatTime(&at), bookID, index,
	)
	if err != nil {
		return fmt.Errorf("failed to mark chapter done: %w", err)
	}
	return nil
}

func (c *catalog) deleteBook(ctx context.Context, q querier, bookID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM chapters WHERE book_id = ?`, bookID); err != nil {
		return fmt.Errorf("failed to delete chapters: %w", err)
	}
	res, err := q.ExecContext(ctx, `DELETE FROM books WHERE book_id = ?`, bookID)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBookNotFound
	}
	return nil
}

// resetFetching returns chapters interrupted mid-fetch to Pending.
func (c *catalog) resetFetching(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE chapters SET state = ? WHERE state = ?`,
		chapters.Pending.String(), chapters.Fetching.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset interrupted chapters: %w", err)
	}
	return res.RowsAffected()
}

func (c *catalog) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Truncate(0).UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.Truncate(0)
}
