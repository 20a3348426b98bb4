package library

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/downloader"
	"github.com/brogergvhs/noveld/internal/fetch"
	"github.com/brogergvhs/noveld/internal/normalize"
	"github.com/brogergvhs/noveld/internal/providers"
	"github.com/brogergvhs/noveld/internal/store"
	"go.uber.org/zap"
)

// DownloadOptions selects what a batch fetches. Without Indices every
// chapter not yet Done is fetched; Force refetches Done chapters too.
type DownloadOptions struct {
	Indices []int
	Force   bool
}

// run is the active batch of one book.
type run struct {
	id    string
	batch *downloader.Batch
	hub   *hub

	mu     sync.Mutex
	states map[int]chapters.State
	total  int

	done chan struct{}
}

func (r *run) progress() Progress {
	p := Progress{BookID: r.id, State: StateDownloading, Total: r.total}
	for _, st := range r.states {
		switch st {
		case chapters.Done:
			p.Done++
		case chapters.Failed:
			p.Failed++
		default:
			p.Pending++
		}
	}
	return p
}

func (r *run) set(index int, st chapters.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[index] = st
	r.hub.publish(r.progress())
}

// StartDownload enqueues the book's chapters and returns once they are
// queued. Progress is available through Subscribe and Wait.
func (l *Library) StartDownload(ctx context.Context, id string, opts DownloadOptions) error {
	rec, err := l.opts.Store.Book(ctx, id)
	if err != nil {
		return err
	}
	adapter, ok := l.opts.Registry.Lookup(rec.Adapter)
	if !ok {
		return fmt.Errorf("adapter %q is not registered", rec.Adapter)
	}
	refs, err := l.opts.Store.Manifest(ctx, id)
	if err != nil {
		return err
	}

	want := map[int]bool{}
	for _, i := range opts.Indices {
		if i < chapters.Origin || i >= chapters.Origin+len(refs) {
			return fmt.Errorf("chapter %d not in manifest", i)
		}
		want[i] = true
	}

	r := &run{
		id:     id,
		states: make(map[int]chapters.State, len(refs)),
		total:  len(refs),
		done:   make(chan struct{}),
	}
	byIndex := make(map[int]chapters.Ref, len(refs))
	var jobs []*downloader.Job
	for _, ref := range refs {
		r.states[ref.Index] = ref.State
		if len(want) > 0 && !want[ref.Index] {
			continue
		}
		if ref.State == chapters.Done && !opts.Force {
			continue
		}
		if ref.State != chapters.Done {
			r.states[ref.Index] = chapters.Pending
		}
		byIndex[ref.Index] = ref
		jobs = append(jobs, &downloader.Job{BookID: id, Index: ref.Index, URL: ref.URL})
	}
	r.hub = newHub(r.progress())

	if len(jobs) > 0 {
		r.batch = l.opts.Scheduler.NewBatch(l.ctx, downloader.BatchOptions{
			Work: func(ctx context.Context, j *downloader.Job) error {
				return l.fetchChapter(ctx, adapter, id, byIndex[j.Index])
			},
			OnStart: func(j *downloader.Job) { l.chapterStarted(r, j) },
			OnDone:  func(j *downloader.Job) { l.chapterSettled(r, j) },
		})
	}

	l.mu.Lock()
	if l.claimed[id] || l.runs[id] != nil {
		l.mu.Unlock()
		if r.batch != nil {
			r.batch.Cancel()
		}
		return ErrBusy
	}
	l.runs[id] = r
	l.wg.Add(1)
	l.mu.Unlock()

	if r.batch == nil {
		l.finish(r)
		return nil
	}

	if err := l.opts.Store.SetBookState(ctx, id, string(StateDownloading)); err != nil {
		r.batch.Cancel()
		r.batch.Seal()
		go l.finish(r)
		return err
	}

	l.log.Info("download started",
		zap.String("book", id),
		zap.Int("jobs", len(jobs)),
		zap.Bool("force", opts.Force),
	)
	r.batch.Enqueue(jobs...)
	r.batch.Seal()
	go l.finish(r)
	return nil
}

func (l *Library) chapterStarted(r *run, j *downloader.Job) {
	if _, err := l.opts.Store.SetChapterState(context.Background(), r.id, j.Index, chapters.Fetching, ""); err != nil {
		l.log.Debug("failed to mark chapter fetching", zap.String("book", r.id), zap.Int("index", j.Index), zap.Error(err))
	}
}

// chapterSettled records a job outcome. A Done chapter stays Done when a
// forced refetch fails or is cancelled, since its content is still stored.
func (l *Library) chapterSettled(r *run, j *downloader.Job) {
	ctx := context.Background()
	l.opts.Metrics.ObserveChapter(j.State.String())

	var st chapters.State
	switch j.State {
	case downloader.Succeeded:
		st = chapters.Done
	case downloader.Failed:
		st = l.demote(ctx, r.id, j.Index, chapters.Failed, Reason(j.Err))
		l.log.Warn("chapter failed",
			zap.String("book", r.id),
			zap.Int("index", j.Index),
			zap.Int("attempts", j.Attempts),
			zap.Error(j.Err),
		)
	default:
		st = l.demote(ctx, r.id, j.Index, chapters.Pending, "")
	}
	r.set(j.Index, st)
}

func (l *Library) demote(ctx context.Context, id string, index int, st chapters.State, reason string) chapters.State {
	changed, err := l.opts.Store.SetChapterState(ctx, id, index, st, reason)
	if err != nil {
		l.log.Debug("failed to record chapter state", zap.String("book", id), zap.Int("index", index), zap.Error(err))
		return st
	}
	if !changed {
		return chapters.Done
	}
	return st
}

// finish waits for the batch, settles the book state and ends the progress
// stream.
func (l *Library) finish(r *run) {
	defer l.wg.Done()
	if r.batch != nil {
		<-r.batch.Done()
	}

	ctx := context.Background()
	final := r.progress()

	refs, err := l.opts.Store.Manifest(ctx, r.id)
	switch {
	case errors.Is(err, store.ErrBookNotFound):
	case err != nil:
		l.log.Error("failed to read manifest after download", zap.String("book", r.id), zap.Error(err))
	default:
		state := settledState(refs)
		if err := l.opts.Store.SetBookState(ctx, r.id, string(state)); err != nil {
			l.log.Error("failed to record book state", zap.String("book", r.id), zap.Error(err))
		}
		final = tally(r.id, state, refs)
		l.log.Info("download finished",
			zap.String("book", r.id),
			zap.String("state", string(state)),
			zap.Int("done", final.Done),
			zap.Int("failed", final.Failed),
			zap.Int("total", final.Total),
		)
	}

	l.mu.Lock()
	delete(l.runs, r.id)
	l.mu.Unlock()

	r.hub.close(final)
	close(r.done)
}

// fetchChapter is one attempt at a chapter: it follows continuation pages,
// normalizes the merged text and stores it.
func (l *Library) fetchChapter(ctx context.Context, a providers.Adapter, id string, ref chapters.Ref) error {
	var (
		pages   []string
		title   = ref.Title
		visited = map[string]bool{}
		next    = ref.URL
	)
	for {
		visited[next] = true

		page, err := l.opts.Fetcher.Fetch(ctx, next)
		if err != nil {
			return err
		}
		doc, err := page.Document()
		if err != nil {
			return &providers.ParseError{Adapter: a.Name(), Capability: "body", URL: next, Err: err}
		}
		body, err := a.Body(doc, page.URL)
		if err != nil {
			return err
		}
		if len(pages) == 0 && body.Title != "" {
			title = body.Title
		}
		pages = append(pages, body.Text)

		u, ok := a.NextPage(doc, page.URL)
		if !ok || visited[u] {
			break
		}
		if len(pages) >= l.opts.MaxPages {
			l.log.Warn("chapter page limit reached", zap.String("book", id), zap.Int("index", ref.Index), zap.Int("pages", len(pages)))
			return &providers.ParseError{
				Adapter:    a.Name(),
				Capability: "body",
				URL:        ref.URL,
				Err:        fmt.Errorf("%w: next page %s after %d pages", ErrPageLimit, u, len(pages)),
			}
		}
		next = u
	}

	text := normalize.Normalize(pages, title, a.Boilerplate())
	if n := normalize.Length(text); n < l.opts.MinBodyLength {
		return &providers.ParseError{
			Adapter:    a.Name(),
			Capability: "body",
			URL:        ref.URL,
			Err:        fmt.Errorf("%w: %d characters after normalization", providers.ErrBodyMissing, n),
		}
	}

	res, err := l.opts.Store.Put(ctx, chapters.Content{
		BookID:      id,
		Index:       ref.Index,
		Title:       ref.Title,
		Text:        text,
		FetchedAt:   l.opts.Clock.Now(),
		Fingerprint: normalize.Fingerprint(text),
	})
	if err != nil {
		return err
	}
	if res == store.Drifted {
		l.log.Info("chapter changed upstream", zap.String("book", id), zap.Int("index", ref.Index))
	}
	return nil
}

// Reason classifies a chapter failure for the manifest.
func Reason(err error) string {
	var se *fetch.StatusError
	var st *store.StoreError
	switch {
	case providers.IsParse(err):
		return "parse"
	case errors.Is(err, fetch.ErrNotFound):
		return "not-found"
	case fetch.IsTransient(err):
		return "transient"
	case errors.As(err, &se):
		return "http-4xx"
	case errors.As(err, &st):
		return "store"
	default:
		return "error"
	}
}

// Wait blocks until the book's running batch settles and returns the
// resulting state. Without a running batch it returns the current state.
func (l *Library) Wait(ctx context.Context, id string) (State, error) {
	l.mu.Lock()
	r := l.runs[id]
	l.mu.Unlock()

	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	b, err := l.Book(ctx, id)
	if err != nil {
		return "", err
	}
	return b.State, nil
}

// CancelDownload stops the book's running batch. Queued chapters return to
// Pending; Done chapters stay readable. Other books are unaffected.
func (l *Library) CancelDownload(id string) {
	l.mu.Lock()
	r := l.runs[id]
	l.mu.Unlock()

	if r == nil || r.batch == nil {
		return
	}
	l.log.Info("download cancelled", zap.String("book", id))
	r.batch.Cancel()
}

// Subscribe streams the progress of the book's running batch, starting with
// a snapshot. The stream closes after the Final event; without a running
// batch it holds only the current snapshot.
func (l *Library) Subscribe(ctx context.Context, id string) (<-chan Progress, func(), error) {
	l.mu.Lock()
	r := l.runs[id]
	l.mu.Unlock()

	if r != nil {
		ch, unsubscribe := r.hub.subscribe()
		return ch, unsubscribe, nil
	}

	b, err := l.Book(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	refs, err := l.Manifest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	h := newHub(Progress{})
	h.close(tally(id, b.State, refs))
	ch, unsubscribe := h.subscribe()
	return ch, unsubscribe, nil
}
