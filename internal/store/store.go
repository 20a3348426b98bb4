// Package store persists books, manifests and chapter text. A SQLite catalog
// records state; chapter text lives in a BlobStore under
// {bookId}/{index}.{fingerprintPrefix} keys.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/clock"
	"go.uber.org/zap"
)

type Options struct {
	// DBPath is the SQLite catalog file.
	DBPath string
	Blobs  BlobStore
	Clock  clock.Clock
	Logger *zap.Logger
}

// PutResult reports what Put did.
type PutResult int

const (
	Stored PutResult = iota
	Unchanged
	Drifted
)

func (r PutResult) String() string {
	switch r {
	case Stored:
		return "stored"
	case Unchanged:
		return "unchanged"
	case Drifted:
		return "drifted"
	default:
		return fmt.Sprintf("put(%d)", int(r))
	}
}

// Store is safe for concurrent use. Mutations of one book are serialized by
// that book's lock; different books never contend.
type Store struct {
	cat   *catalog
	blobs BlobStore
	clock clock.Clock
	log   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// Open opens the catalog, returns chapters interrupted mid-fetch to Pending
// and removes blob namespaces that no catalog book owns.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	cat, err := openCatalog(opts.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cat:   cat,
		blobs: opts.Blobs,
		clock: opts.Clock,
		log:   opts.Logger,
		locks: map[string]*sync.RWMutex{},
	}

	n, err := cat.resetFetching(ctx)
	if err != nil {
		cat.close()
		return nil, err
	}
	if n > 0 {
		s.log.Info("reset interrupted chapters", zap.Int64("count", n))
	}

	if err := s.sweep(ctx); err != nil {
		cat.close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.cat.close()
}

func (s *Store) lock(bookID string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[bookID]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[bookID] = l
	}
	return l
}

// sweep deletes namespaces left behind by a delete that crashed between the
// catalog commit and the blob removal.
func (s *Store) sweep(ctx context.Context) error {
	namespaces, err := s.blobs.Namespaces(ctx)
	if err != nil {
		return fmt.Errorf("failed to list blob namespaces: %w", err)
	}

	for _, ns := range namespaces {
		if _, err := s.cat.book(ctx, s.cat.db, ns); !errors.Is(err, ErrBookNotFound) {
			if err != nil {
				return err
			}
			continue
		}
		if err := s.blobs.DeleteNamespace(ctx, ns); err != nil {
			return fmt.Errorf("failed to sweep orphan namespace %s: %w", ns, err)
		}
		s.log.Info("swept orphan blobs", zap.String("book", ns))
	}
	return nil
}

// CreateBook records a book with its manifest in one transaction. Indices
// must be contiguous from chapters.Origin.
func (s *Store) CreateBook(ctx context.Context, b Book, refs []chapters.Ref) error {
	if !chapters.Contiguous(refs) {
		return storeErr("create", b.ID, 0, fmt.Errorf("manifest indices are not contiguous"))
	}

	l := s.lock(b.ID)
	l.Lock()
	defer l.Unlock()

	now := s.clock.Now()
	b.CreatedAt, b.UpdatedAt = now, now

	err := s.cat.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.cat.insertBook(ctx, tx, b); err != nil {
			return err
		}
		return s.cat.insertChapters(ctx, tx, b.ID, refs)
	})
	return storeErr("create", b.ID, 0, err)
}

func (s *Store) Book(ctx context.Context, id string) (Book, error) {
	l := s.lock(id)
	l.RLock()
	defer l.RUnlock()

	b, err := s.cat.book(ctx, s.cat.db, id)
	return b, storeErr("book", id, 0, err)
}

func (s *Store) Books(ctx context.Context) ([]Book, error) {
	books, err := s.cat.books(ctx)
	return books, storeErr("books", "", 0, err)
}

func (s *Store) Manifest(ctx context.Context, id string) ([]chapters.Ref, error) {
	l := s.lock(id)
	l.RLock()
	defer l.RUnlock()

	if _, err := s.cat.book(ctx, s.cat.db, id); err != nil {
		return nil, storeErr("manifest", id, 0, err)
	}
	refs, err := s.cat.manifest(ctx, s.cat.db, id)
	return refs, storeErr("manifest", id, 0, err)
}

func (s *Store) SetBookState(ctx context.Context, id, state string) error {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	return storeErr("set state", id, 0, s.cat.updateBook(ctx, s.cat.db, id, "state", state, s.clock.Now()))
}

func (s *Store) SetPosition(ctx context.Context, id string, index int) error {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	return storeErr("set position", id, index, s.cat.updateBook(ctx, s.cat.db, id, "position", index, s.clock.Now()))
}

// SetChapterState records a non-Done outcome. A Done chapter keeps its
// state and content; the return value reports whether the row changed.
func (s *Store) SetChapterState(ctx context.Context, id string, index int, state chapters.State, reason string) (bool, error) {
	if state == chapters.Done {
		return false, storeErr("set chapter", id, index, fmt.Errorf("done is recorded by Put"))
	}

	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	changed, err := s.cat.setChapter(ctx, s.cat.db, id, index, state, reason)
	return changed, storeErr("set chapter", id, index, err)
}

// Put stores normalized chapter text and marks the chapter Done. An
// unchanged fingerprint is a no-op. A changed one writes the new blob,
// repoints the catalog and then removes the old blob.
func (s *Store) Put(ctx context.Context, c chapters.Content) (PutResult, error) {
	l := s.lock(c.BookID)
	l.Lock()
	defer l.Unlock()

	ref, err := s.cat.chapter(ctx, s.cat.db, c.BookID, c.Index)
	if err != nil {
		return Stored, storeErr("put", c.BookID, c.Index, err)
	}

	if ref.State == chapters.Done && ref.Fingerprint == c.Fingerprint {
		if _, err := s.blobs.Get(ctx, Key(c.BookID, c.Index, c.Fingerprint)); err == nil {
			return Unchanged, nil
		}
	}

	key := Key(c.BookID, c.Index, c.Fingerprint)
	if err := s.blobs.Put(ctx, key, []byte(c.Text)); err != nil {
		return Stored, storeErr("put", c.BookID, c.Index, err)
	}

	at := c.FetchedAt
	if at.IsZero() {
		at = s.clock.Now()
	}
	if err := s.cat.markDone(ctx, s.cat.db, c.BookID, c.Index, c.Fingerprint, at); err != nil {
		if ref.Fingerprint == "" || Key(c.BookID, c.Index, ref.Fingerprint) != key {
			_ = s.blobs.Delete(ctx, key)
		}
		return Stored, storeErr("put", c.BookID, c.Index, err)
	}

	if ref.Fingerprint == "" || ref.Fingerprint == c.Fingerprint {
		return Stored, nil
	}

	if old := Key(c.BookID, c.Index, ref.Fingerprint); old != key {
		if err := s.blobs.Delete(ctx, old); err != nil {
			s.log.Warn("failed to remove superseded blob", zap.String("key", old), zap.Error(err))
		}
	}
	if ref.State == chapters.Done {
		return Drifted, nil
	}
	return Stored, nil
}

// Get returns a cached chapter or an error wrapping ErrMissing.
func (s *Store) Get(ctx context.Context, id string, index int) (chapters.Content, error) {
	l := s.lock(id)
	l.RLock()
	defer l.RUnlock()

	ref, err := s.cat.chapter(ctx, s.cat.db, id, index)
	if errors.Is(err, errNoChapter) {
		return chapters.Content{}, storeErr("get", id, index, ErrMissing)
	}
	if err != nil {
		return chapters.Content{}, storeErr("get", id, index, err)
	}
	if ref.State != chapters.Done {
		return chapters.Content{}, storeErr("get", id, index, ErrMissing)
	}

	data, err := s.blobs.Get(ctx, Key(id, index, ref.Fingerprint))
	if errors.Is(err, ErrBlobNotFound) {
		return chapters.Content{}, storeErr("get", id, index, ErrMissing)
	}
	if err != nil {
		return chapters.Content{}, storeErr("get", id, index, err)
	}

	return chapters.Content{
		BookID:      id,
		Index:       index,
		Title:       ref.Title,
		Text:        string(data),
		FetchedAt:   ref.FetchedAt,
		Fingerprint: ref.Fingerprint,
	}, nil
}

// ReplaceManifest swaps a book's manifest, typically after a TOC refresh.
// Blobs no longer referenced by a Done entry are removed afterwards.
func (s *Store) ReplaceManifest(ctx context.Context, id string, refs []chapters.Ref) error {
	if !chapters.Contiguous(refs) {
		return storeErr("replace manifest", id, 0, fmt.Errorf("manifest indices are not contiguous"))
	}

	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	var old []chapters.Ref
	err := s.cat.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.cat.book(ctx, tx, id); err != nil {
			return err
		}
		var err error
		if old, err = s.cat.manifest(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chapters WHERE book_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear manifest: %w", err)
		}
		if err := s.cat.insertChapters(ctx, tx, id, refs); err != nil {
			return err
		}
		return s.cat.touch(ctx, tx, id, s.clock.Now())
	})
	if err != nil {
		return storeErr("replace manifest", id, 0, err)
	}

	keep := map[string]bool{}
	for _, r := range refs {
		if r.State == chapters.Done {
			keep[Key(id, r.Index, r.Fingerprint)] = true
		}
	}
	for _, r := range old {
		if r.Fingerprint == "" {
			continue
		}
		if k := Key(id, r.Index, r.Fingerprint); !keep[k] {
			if err := s.blobs.Delete(ctx, k); err != nil {
				s.log.Warn("failed to remove stale blob", zap.String("key", k), zap.Error(err))
			}
		}
	}
	return nil
}

// DeleteBook removes the catalog rows in one transaction, then the blob
// namespace in one step. A crash in between leaves an orphan namespace that
// the next Open sweeps; no chapter is readable either way.
func (s *Store) DeleteBook(ctx context.Context, id string) error {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	err := s.cat.withTx(ctx, func(tx *sql.Tx) error {
		return s.cat.deleteBook(ctx, tx, id)
	})
	if err != nil {
		return storeErr("delete", id, 0, err)
	}

	if err := s.blobs.DeleteNamespace(ctx, id); err != nil {
		return storeErr("delete", id, 0, err)
	}
	return nil
}
