package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/providers/generic"
	"github.com/brogergvhs/noveld/internal/store"
	"go.uber.org/zap"
)

// ReadChapter returns a stored chapter or an error wrapping
// store.ErrMissing.
func (l *Library) ReadChapter(ctx context.Context, id string, index int) (chapters.Content, error) {
	return l.opts.Store.Get(ctx, id, index)
}

// Chapters calls fn for every stored chapter in index order and returns the
// indices that have no content.
func (l *Library) Chapters(ctx context.Context, id string, fn func(chapters.Content) error) ([]int, error) {
	refs, err := l.opts.Store.Manifest(ctx, id)
	if err != nil {
		return nil, err
	}

	var missing []int
	for _, r := range refs {
		c, err := l.opts.Store.Get(ctx, id, r.Index)
		if errors.Is(err, store.ErrMissing) {
			missing = append(missing, r.Index)
			continue
		}
		if err != nil {
			return missing, err
		}
		if err := fn(c); err != nil {
			return missing, err
		}
	}
	return missing, nil
}

// Assemble writes the book as one text stream in index order.
func (l *Library) Assemble(ctx context.Context, id string, w io.Writer) ([]int, error) {
	b, err := l.Book(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(w, "%s\n", b.Title); err != nil {
		return nil, err
	}
	if b.Author != "" {
		if _, err := fmt.Fprintf(w, "%s\n", b.Author); err != nil {
			return nil, err
		}
	}

	return l.Chapters(ctx, id, func(c chapters.Content) error {
		_, err := fmt.Fprintf(w, "\n\n%s\n\n%s\n", c.Title, c.Text)
		return err
	})
}

// SearchChapters matches manifest titles case-insensitively. A numeric query
// also matches the chapter carrying that number in its title.
func (l *Library) SearchChapters(ctx context.Context, id, query string) ([]chapters.Ref, error) {
	refs, err := l.opts.Store.Manifest(ctx, id)
	if err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return refs, nil
	}
	needle := strings.ToLower(query)

	num, numeric := queryNumber(query)

	var out []chapters.Ref
	for _, r := range refs {
		if strings.Contains(strings.ToLower(r.Title), needle) {
			out = append(out, r)
			continue
		}
		if numeric {
			if n, ok := generic.ChapterNumber(r.Title); ok && n == num {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func queryNumber(q string) (int, bool) {
	if n, err := strconv.Atoi(q); err == nil {
		return n, true
	}
	return generic.ChapterNumber(q)
}

// DeleteBook cancels the book's batch, waits for it to settle and removes
// the book with all of its content.
func (l *Library) DeleteBook(ctx context.Context, id string) error {
	l.mu.Lock()
	if l.claimed[id] {
		l.mu.Unlock()
		return ErrBusy
	}
	l.claimed[id] = true
	r := l.runs[id]
	l.mu.Unlock()
	defer l.release(id)

	if r != nil {
		if r.batch != nil {
			r.batch.Cancel()
		}
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := l.opts.Store.DeleteBook(ctx, id); err != nil {
		return err
	}
	l.log.Info("book deleted", zap.String("book", id))
	return nil
}
