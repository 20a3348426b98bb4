// Package downloader schedules chapter jobs on per-host worker pools shared
// by every book, retrying transient failures with exponential backoff.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/brogergvhs/noveld/internal/clock"
	"github.com/brogergvhs/noveld/internal/fetch"
	"github.com/brogergvhs/noveld/internal/metrics"
	"go.uber.org/zap"
)

type JobState int

const (
	Queued JobState = iota
	Running
	Succeeded
	Failed
	Cancelled
)

func (s JobState) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("job(%d)", int(s))
	}
}

// Job fetches one chapter. Attempts and NextAttemptAt are updated while the
// job retries; Err holds the final error of a Failed job.
type Job struct {
	BookID        string
	Index         int
	URL           string
	Host          string
	Attempts      int
	NextAttemptAt time.Time
	State         JobState
	Err           error

	batch *Batch
}

// ErrCancelled is the Err of a job settled by a batch cancel.
var ErrCancelled = errors.New("download cancelled")

type Options struct {
	// Workers per host. Matches the gate's in-flight bound.
	Workers     int
	MaxAttempts uint
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Clock       clock.Clock
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

type Scheduler struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	pools  map[string]*pool
	closed bool
}

func New(opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 4
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		pools:  map[string]*pool{},
	}
}

// Close stops the workers once their current job ends.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) pool(host string) (*pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("scheduler closed")
	}
	p, ok := s.pools[host]
	if !ok {
		p = newPool(host)
		s.pools[host] = p
		s.wg.Add(s.opts.Workers)
		for i := 0; i < s.opts.Workers; i++ {
			go s.worker(p)
		}
	}
	return p, nil
}

// Queued reports the number of jobs waiting for host, including jobs
// backing off before their next attempt.
func (s *Scheduler) Queued(host string) int {
	s.mu.Lock()
	p, ok := s.pools[host]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return p.len()
}

// Do runs fn inline with the scheduler's retry policy: transient errors
// retry with exponential backoff up to MaxAttempts, anything else returns at
// once. Queued jobs do not go through Do; their retries are requeued.
// onWait, if set, sees when each backoff wait ends.
func (s *Scheduler) Do(ctx context.Context, host string, fn func(ctx context.Context) error, onWait func(next time.Time)) error {
	err := retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(s.opts.MaxAttempts),
		retry.Delay(s.opts.BaseBackoff),
		retry.MaxDelay(s.opts.MaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(fetch.IsTransient),
		retry.LastErrorOnly(true),
		retry.WithTimer(&backoffTimer{clock: s.opts.Clock, onWait: onWait}),
		retry.OnRetry(func(n uint, err error) {
			if n+1 >= s.opts.MaxAttempts {
				return
			}
			s.opts.Metrics.ObserveRetry(host)
			s.opts.Logger.Debug("retrying",
				zap.String("host", host),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// backoffTimer waits on the injected clock and reports each deadline.
type backoffTimer struct {
	clock  clock.Clock
	onWait func(next time.Time)
}

func (t *backoffTimer) After(d time.Duration) <-chan time.Time {
	if t.onWait != nil {
		t.onWait(t.clock.Now().Add(d))
	}
	return t.clock.After(d)
}

// run makes one attempt at j. A transient failure with attempts left puts
// the job back on its host queue once its backoff elapses, so the worker
// moves on to other jobs instead of sleeping.
func (s *Scheduler) run(j *Job) {
	b := j.batch

	if b.ctx.Err() != nil {
		b.settle(j, Cancelled, ErrCancelled)
		return
	}

	j.State = Running
	if b.opts.OnStart != nil {
		b.opts.OnStart(j)
	}

	j.Attempts++
	err := b.opts.Work(b.ctx, j)

	switch {
	case err == nil:
		b.settle(j, Succeeded, nil)
	case b.ctx.Err() != nil:
		b.settle(j, Cancelled, ErrCancelled)
	case fetch.IsTransient(err) && uint(j.Attempts) < s.opts.MaxAttempts:
		s.retryLater(j, err)
	default:
		s.opts.Logger.Debug("job failed",
			zap.String("book", j.BookID),
			zap.Int("index", j.Index),
			zap.Int("attempts", j.Attempts),
			zap.Error(err),
		)
		b.settle(j, Failed, err)
	}
}

// backoff is the wait before attempt n+1: BaseBackoff doubled per attempt,
// capped at MaxBackoff.
func (s *Scheduler) backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > 30 {
		return s.opts.MaxBackoff
	}
	d := s.opts.BaseBackoff << (n - 1)
	if d <= 0 || d > s.opts.MaxBackoff {
		return s.opts.MaxBackoff
	}
	return d
}

func (s *Scheduler) retryLater(j *Job, err error) {
	b := j.batch
	d := s.backoff(j.Attempts)
	j.State = Queued
	j.NextAttemptAt = s.opts.Clock.Now().Add(d)

	s.opts.Metrics.ObserveRetry(j.Host)
	s.opts.Logger.Debug("retrying",
		zap.String("host", j.Host),
		zap.String("book", j.BookID),
		zap.Int("index", j.Index),
		zap.Int("attempt", j.Attempts),
		zap.Duration("backoff", d),
		zap.Error(err),
	)

	s.mu.Lock()
	p, ok := s.pools[j.Host]
	if s.closed || !ok {
		s.mu.Unlock()
		b.settle(j, Cancelled, ErrCancelled)
		return
	}
	p.delay()
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer p.undelay()
		select {
		case <-s.opts.Clock.After(d):
			p.push(j)
		case <-b.ctx.Done():
			b.settle(j, Cancelled, ErrCancelled)
		case <-s.ctx.Done():
			b.settle(j, Cancelled, ErrCancelled)
		}
	}()
}

// BatchOptions are the callbacks of one batch. Work performs a single
// attempt; OnStart and OnDone run on the worker goroutine.
type BatchOptions struct {
	Work    func(ctx context.Context, j *Job) error
	OnStart func(j *Job)
	OnDone  func(j *Job)
}

// Batch groups the jobs of one download run so they can be cancelled and
// awaited together.
type Batch struct {
	s    *Scheduler
	opts BatchOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	outstanding int
	sealed      bool
	done        chan struct{}
}

func (s *Scheduler) NewBatch(parent context.Context, opts BatchOptions) *Batch {
	ctx, cancel := context.WithCancel(parent)
	return &Batch{
		s:      s,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Enqueue hands jobs to their host pools. Jobs of a cancelled batch settle
// as Cancelled immediately.
func (b *Batch) Enqueue(jobs ...*Job) {
	for _, j := range jobs {
		j.batch = b
		j.State = Queued

		b.mu.Lock()
		b.outstanding++
		b.mu.Unlock()

		if b.ctx.Err() != nil {
			b.settle(j, Cancelled, ErrCancelled)
			continue
		}

		host, err := fetch.HostOf(j.URL)
		if err != nil {
			b.settle(j, Failed, err)
			continue
		}
		j.Host = host

		p, err := b.s.pool(host)
		if err != nil {
			b.settle(j, Cancelled, err)
			continue
		}
		p.push(j)
	}
}

// Seal marks the batch complete; Done closes once every job has settled.
func (b *Batch) Seal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealed = true
	b.maybeFinish()
}

// Cancel purges queued jobs, reporting them Cancelled, and aborts running
// ones through their context.
func (b *Batch) Cancel() {
	b.cancel()

	b.s.mu.Lock()
	pools := make([]*pool, 0, len(b.s.pools))
	for _, p := range b.s.pools {
		pools = append(pools, p)
	}
	b.s.mu.Unlock()

	for _, p := range pools {
		for _, j := range p.purge(b) {
			b.settle(j, Cancelled, ErrCancelled)
		}
	}
}

func (b *Batch) Cancelled() bool {
	return b.ctx.Err() != nil
}

func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the sealed batch settles or ctx ends.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batch) settle(j *Job, state JobState, err error) {
	j.State = state
	j.Err = err
	if b.opts.OnDone != nil {
		b.opts.OnDone(j)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.outstanding--
	b.maybeFinish()
}

func (b *Batch) maybeFinish() {
	if b.sealed && b.outstanding == 0 {
		select {
		case <-b.done:
		default:
			close(b.done)
			b.cancel()
		}
	}
}
