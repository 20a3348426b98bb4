// Package library coordinates books: it resolves a detail URL into a
// manifest, drives chapter downloads through the scheduler, owns each book's
// state and streams progress.
package library

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/clock"
	"github.com/brogergvhs/noveld/internal/downloader"
	"github.com/brogergvhs/noveld/internal/fetch"
	"github.com/brogergvhs/noveld/internal/metrics"
	"github.com/brogergvhs/noveld/internal/providers"
	"github.com/brogergvhs/noveld/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type State string

const (
	StateNew             State = "new"
	StateMetaResolved    State = "meta-resolved"
	StateManifestLoaded  State = "manifest-loaded"
	StateDownloading     State = "downloading"
	StateComplete        State = "complete"
	StatePartiallyFailed State = "partially-failed"
)

var (
	ErrBusy      = errors.New("book is busy")
	ErrAmbiguous = errors.New("book reference is ambiguous")
	// ErrPageLimit marks a chapter whose continuation chain is longer than
	// MaxPages. Its text is never stored truncated.
	ErrPageLimit = errors.New("chapter page limit reached")
)

// Book is a submitted book as the library reports it.
type Book struct {
	ID        string
	SourceURL string
	IndexURL  string
	Title     string
	Author    string
	Adapter   string
	State     State
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func fromRecord(r store.Book) Book {
	return Book{
		ID:        r.ID,
		SourceURL: r.SourceURL,
		IndexURL:  r.IndexURL,
		Title:     r.Title,
		Author:    r.Author,
		Adapter:   r.Adapter,
		State:     State(r.State),
		Position:  r.Position,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Options wires the library to its collaborators. Fetcher must already be
// gated per host; the library adds retries through the Scheduler.
type Options struct {
	Store     *store.Store
	Fetcher   fetch.Fetcher
	Registry  *providers.Registry
	Scheduler *downloader.Scheduler
	Metrics   *metrics.Metrics
	Clock     clock.Clock
	Logger    *zap.Logger

	// MinBodyLength is the shortest normalized chapter, in characters,
	// accepted as a body.
	MinBodyLength int
	// MaxPages caps the continuation pages followed per chapter.
	MaxPages int
	// MaxTOCPages caps the index pages followed per book.
	MaxTOCPages int
}

type Library struct {
	opts Options
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	runs    map[string]*run
	claimed map[string]bool
	wg      sync.WaitGroup
}

func New(opts Options) (*Library, error) {
	switch {
	case opts.Store == nil:
		return nil, fmt.Errorf("library: store is required")
	case opts.Fetcher == nil:
		return nil, fmt.Errorf("library: fetcher is required")
	case opts.Registry == nil:
		return nil, fmt.Errorf("library: registry is required")
	case opts.Scheduler == nil:
		return nil, fmt.Errorf("library: scheduler is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MinBodyLength <= 0 {
		opts.MinBodyLength = 50
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}
	if opts.MaxTOCPages <= 0 {
		opts.MaxTOCPages = 200
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Library{
		opts:    opts,
		log:     opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		runs:    map[string]*run{},
		claimed: map[string]bool{},
	}, nil
}

// Close cancels running batches and waits for them to settle. The store and
// scheduler stay open; their owner closes them.
func (l *Library) Close() {
	l.cancel()
	l.wg.Wait()
}

// claim reserves a book for an operation that must not overlap a download,
// a refresh or a delete.
func (l *Library) claim(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claimed[id] || l.runs[id] != nil {
		return ErrBusy
	}
	l.claimed[id] = true
	return nil
}

func (l *Library) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claimed, id)
}

// CanonicalURL validates a detail URL and drops its fragment.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: invalid url %q", providers.ErrUnsupportedSite, raw)
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String(), nil
}

// BookID derives the id of a book from its canonical detail URL, so the same
// URL always names the same book.
func BookID(canonicalURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(canonicalURL)).String()
}

func (l *Library) Books(ctx context.Context) ([]Book, error) {
	recs, err := l.opts.Store.Books(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Book, len(recs))
	for i, r := range recs {
		out[i] = fromRecord(r)
	}
	return out, nil
}

func (l *Library) Book(ctx context.Context, id string) (Book, error) {
	r, err := l.opts.Store.Book(ctx, id)
	if err != nil {
		return Book{}, err
	}
	return fromRecord(r), nil
}

func (l *Library) Manifest(ctx context.Context, id string) ([]chapters.Ref, error) {
	return l.opts.Store.Manifest(ctx, id)
}

// Resolve maps a user reference to a book id: the id itself, the submitted
// URL, or a unique id prefix.
func (l *Library) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", store.ErrBookNotFound
	}
	if canon, err := CanonicalURL(ref); err == nil {
		ref = BookID(canon)
	}

	books, err := l.opts.Store.Books(ctx)
	if err != nil {
		return "", err
	}

	var matches []string
	for _, b := range books {
		if b.ID == ref {
			return b.ID, nil
		}
		if strings.HasPrefix(b.ID, ref) {
			matches = append(matches, b.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%q: %w", ref, store.ErrBookNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d books: %w", ref, len(matches), ErrAmbiguous)
	}
}

// SetPosition records the last chapter read.
func (l *Library) SetPosition(ctx context.Context, id string, index int) error {
	refs, err := l.opts.Store.Manifest(ctx, id)
	if err != nil {
		return err
	}
	if index < chapters.Origin || index >= chapters.Origin+len(refs) {
		return fmt.Errorf("chapter %d out of range %d-%d", index, chapters.Origin, chapters.Origin+len(refs)-1)
	}
	return l.opts.Store.SetPosition(ctx, id, index)
}

// fetchPage fetches one page with the scheduler's retry policy.
func (l *Library) fetchPage(ctx context.Context, rawURL string) (*fetch.Page, error) {
	host, err := fetch.HostOf(rawURL)
	if err != nil {
		return nil, err
	}

	var page *fetch.Page
	err = l.opts.Scheduler.Do(ctx, host, func(ctx context.Context) error {
		p, err := l.opts.Fetcher.Fetch(ctx, rawURL)
		if err != nil {
			return err
		}
		page = p
		return nil
	}, nil)
	return page, err
}

// settledState is the state a book rests in once no batch runs.
func settledState(refs []chapters.Ref) State {
	if len(refs) == 0 {
		return StateManifestLoaded
	}
	done, failed := 0, 0
	for _, r := range refs {
		switch r.State {
		case chapters.Done:
			done++
		case chapters.Failed:
			failed++
		}
	}
	switch {
	case done == len(refs):
		return StateComplete
	case failed > 0:
		return StatePartiallyFailed
	default:
		return StateManifestLoaded
	}
}
