package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/brogergvhs/noveld/internal/clock"
	"github.com/brogergvhs/noveld/internal/metrics"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// GateOptions configures per-host politeness.
//   - MaxInFlight: concurrent requests allowed per host (default 2).
//   - MinDelay: minimum spacing between request starts on one host.
//   - OnAdmit: optional hook called with the admission slot of each request.
type GateOptions struct {
	MaxInFlight int
	MinDelay    time.Duration
	Clock       clock.Clock
	Metrics     *metrics.Metrics
	OnAdmit     func(host string, at time.Time)
}

// Gate admits requests per host. It is shared by every book, so the bounds
// hold no matter which book issues a request.
type Gate struct {
	opts GateOptions

	mu    sync.Mutex
	hosts map[string]*hostGate
}

type hostGate struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	limiter *rate.Limiter
}

func NewGate(opts GateOptions) *Gate {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 2
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Gate{opts: opts, hosts: map[string]*hostGate{}}
}

func (g *Gate) host(name string) *hostGate {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.hosts[name]
	if !ok {
		limit := rate.Inf
		if g.opts.MinDelay > 0 {
			limit = rate.Every(g.opts.MinDelay)
		}
		h = &hostGate{
			sem:     semaphore.NewWeighted(int64(g.opts.MaxInFlight)),
			limiter: rate.NewLimiter(limit, 1),
		}
		g.hosts[name] = h
	}
	return h
}

// Acquire blocks until a request to host may start. The returned release
// must be called once the request completes.
func (g *Gate) Acquire(ctx context.Context, host string) (func(), error) {
	h := g.host(host)

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	h.mu.Lock()
	now := g.opts.Clock.Now()
	r := h.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	slot := now.Add(wait)
	h.mu.Unlock()

	if wait > 0 {
		select {
		case <-g.opts.Clock.After(wait):
		case <-ctx.Done():
			r.CancelAt(g.opts.Clock.Now())
			h.sem.Release(1)
			return nil, ctx.Err()
		}
	}

	if g.opts.OnAdmit != nil {
		g.opts.OnAdmit(host, slot)
	}
	g.opts.Metrics.Admitted(host, wait)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.opts.Metrics.Released(host)
			h.sem.Release(1)
		})
	}, nil
}

// Polite wraps a Fetcher so every request passes through the gate.
func Polite(f Fetcher, g *Gate, m *metrics.Metrics) Fetcher {
	return &politeFetcher{next: f, gate: g, metrics: m}
}

type politeFetcher struct {
	next    Fetcher
	gate    *Gate
	metrics *metrics.Metrics
}

func (p *politeFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	host, err := HostOf(rawURL)
	if err != nil {
		return nil, err
	}

	release, err := p.gate.Acquire(ctx, host)
	if err != nil {
		return nil, err
	}
	defer release()

	page, err := p.next.Fetch(ctx, rawURL)
	switch {
	case err == nil:
		p.metrics.ObserveFetch(host, "ok", len(page.Body))
	case IsTransient(err):
		p.metrics.ObserveFetch(host, "transient", 0)
	case ctx.Err() != nil:
		p.metrics.ObserveFetch(host, "cancelled", 0)
	default:
		p.metrics.ObserveFetch(host, "error", 0)
	}
	return page, err
}
