package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brogergvhs/noveld/internal/clock"
	"github.com/brogergvhs/noveld/internal/config"
	"github.com/brogergvhs/noveld/internal/downloader"
	"github.com/brogergvhs/noveld/internal/fetch"
	"github.com/brogergvhs/noveld/internal/library"
	"github.com/brogergvhs/noveld/internal/metrics"
	"github.com/brogergvhs/noveld/internal/providers"
	"github.com/brogergvhs/noveld/internal/providers/generic"
	"github.com/brogergvhs/noveld/internal/store"
	"github.com/brogergvhs/noveld/internal/ui"
	"github.com/brogergvhs/noveld/internal/util"
)

// app is the engine wired from the effective config.
type app struct {
	cfg     *config.Config
	log     *ui.Logger
	metrics *metrics.Metrics
	store   *store.Store
	sched   *downloader.Scheduler
	lib     *library.Library
}

func openApp(ctx context.Context) (*app, error) {
	cfg, usedPath, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logSvc, err := ui.NewLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}
	logSvc.Debugf("config: %s", usedPath)

	if err := os.MkdirAll(cfg.LibraryDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create library folder: %w", err)
	}

	client, err := util.NewHTTPClient(util.HTTPClientOptions{
		Timeout:          cfg.RequestTimeout + 5*time.Second,
		UserAgent:        util.PickUserAgent(cfg.UserAgent),
		Cookie:           cfg.Cookie,
		CookieFile:       cfg.CookieFile,
		CloudflareBypass: cfg.CloudflareBypass,
		DebugLogger:      logSvc,
	})
	if err != nil {
		return nil, err
	}

	clk := clock.New()
	m := metrics.New()
	z := logSvc.Zap()

	gate := fetch.NewGate(fetch.GateOptions{
		MaxInFlight: cfg.MaxInFlight,
		MinDelay:    cfg.MinDelay,
		Clock:       clk,
		Metrics:     m,
	})
	fetcher := fetch.Polite(fetch.NewHTTPFetcher(client, fetch.HTTPOptions{Timeout: cfg.RequestTimeout}), gate, m)

	blobs, err := store.NewFSBlobs(filepath.Join(cfg.LibraryDir, "blobs"))
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, store.Options{
		DBPath: filepath.Join(cfg.LibraryDir, "catalog.db"),
		Blobs:  blobs,
		Clock:  clk,
		Logger: z.Named("store"),
	})
	if err != nil {
		return nil, err
	}

	sched := downloader.New(downloader.Options{
		Workers:     cfg.MaxInFlight,
		MaxAttempts: uint(cfg.MaxAttempts),
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		Clock:       clk,
		Metrics:     m,
		Logger:      z.Named("scheduler"),
	})

	lib, err := library.New(library.Options{
		Store:         st,
		Fetcher:       fetcher,
		Registry:      providers.NewRegistry(generic.Sites(cfg.ExtraHosts, cfg.MinBodyLength)...),
		Scheduler:     sched,
		Metrics:       m,
		Clock:         clk,
		Logger:        z.Named("library"),
		MinBodyLength: cfg.MinBodyLength,
		MaxPages:      cfg.MaxPages,
	})
	if err != nil {
		sched.Close()
		_ = st.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: logSvc, metrics: m, store: st, sched: sched, lib: lib}, nil
}

func (a *app) Close() {
	a.lib.Close()
	a.sched.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warnf("closing store: %v", err)
	}
	a.log.Sync()
}

// resolve maps a CLI book reference to an id.
func (a *app) resolve(ctx context.Context, ref string) (library.Book, error) {
	id, err := a.lib.Resolve(ctx, ref)
	if err != nil {
		return library.Book{}, err
	}
	return a.lib.Book(ctx, id)
}

func parseDurationFlag(name, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: %w", name, v, err)
	}
	return d, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
