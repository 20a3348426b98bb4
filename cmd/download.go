package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/library"
	"github.com/brogergvhs/noveld/internal/ui"
	"github.com/brogergvhs/noveld/internal/util"

	"github.com/spf13/cobra"
)

var (
	// selection
	flagChapter string
	flagRange   string
	flagList    string

	// runtime
	flagForce       bool
	flagDryRun      bool
	flagMetricsAddr string
)

func init() {
	downloadCmd := &cobra.Command{
		Use:   "download <book|url>...",
		Short: "Download chapters into the library. Books are referenced by id, id prefix or URL",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDownload,
	}

	// selection
	downloadCmd.Flags().StringVar(&flagChapter, "chapter", "", "download a single chapter by index (e.g. 5)")
	downloadCmd.Flags().StringVar(&flagRange, "range", "", "download range of chapters by index (e.g. 5-12)")
	downloadCmd.Flags().StringVar(&flagList, "list", "", "download specific chapter indices (e.g. 1,3,5)")

	// runtime
	downloadCmd.Flags().BoolVar(&flagForce, "force", false, "refetch chapters that are already stored")
	downloadCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "show what would be downloaded, don't download")
	downloadCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while downloading (e.g. :9100)")

	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if flagMetricsAddr != "" {
		srv := &http.Server{Addr: flagMetricsAddr, Handler: a.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Warnf("metrics server: %v", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	selecting := flagChapter != "" || flagRange != "" || flagList != ""
	var ids []string
	var indices [][]int

	for _, ref := range args {
		b, err := addBook(ctx, a, ref)
		if err != nil {
			a.log.Errorf("%s: %v", ref, err)
			continue
		}
		refs, err := a.lib.Manifest(ctx, b.ID)
		if err != nil {
			return err
		}

		selected, err := chapters.Select(refs, flagChapter, flagRange, flagList)
		if err != nil {
			return fmt.Errorf("%s: %w", b.Title, err)
		}
		if len(selected) == 0 {
			a.log.Warnf("%s: no chapters selected", b.Title)
			continue
		}

		if flagDryRun {
			fmt.Printf("%s  %s: %d chapters selected\n", shortID(b.ID), b.Title, len(selected))
			for _, r := range selected {
				if r.State == chapters.Done && !flagForce {
					continue
				}
				fmt.Printf("%5d) %s  [%s]\n       %s\n", r.Index, r.Title, r.State, r.URL)
			}
			continue
		}

		ids = append(ids, b.ID)
		if selecting {
			indices = append(indices, chapters.Indices(selected))
		} else {
			indices = append(indices, nil)
		}
	}

	if flagDryRun {
		return nil
	}
	if len(ids) == 0 {
		return fmt.Errorf("nothing to download")
	}

	return downloadBatches(ctx, a, ids, indices, flagForce)
}

func downloadBooks(ctx context.Context, a *app, ids []string, opts library.DownloadOptions) error {
	indices := make([][]int, len(ids))
	return downloadBatches(ctx, a, ids, indices, opts.Force)
}

// downloadBatches runs one batch per book with a progress bar each. An
// interrupt cancels the batches; chapters already stored stay stored.
func downloadBatches(ctx context.Context, a *app, ids []string, indices [][]int, force bool) error {
	ictx, stop := util.InterruptContext(ctx, "")
	defer stop()

	pm := ui.NewProgressManager()
	stats := &ui.Stats{}
	start := time.Now()

	var started []string
	var wg sync.WaitGroup

	for i, id := range ids {
		b, err := a.lib.Book(ctx, id)
		if err != nil {
			return err
		}

		err = a.lib.StartDownload(ctx, id, library.DownloadOptions{Indices: indices[i], Force: force})
		if errors.Is(err, library.ErrBusy) {
			a.log.Warnf("%s is busy, skipped", b.Title)
			continue
		}
		if err != nil {
			a.log.Errorf("%s: %v", b.Title, err)
			continue
		}
		started = append(started, id)

		events, unsubscribe, err := a.lib.Subscribe(ctx, id)
		if err != nil {
			return err
		}
		handle := pm.Register(b.Title)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsubscribe()
			follow(events, handle, stats)
		}()
	}

	go func() {
		<-ictx.Done()
		if ctx.Err() == nil {
			for _, id := range started {
				a.lib.CancelDownload(id)
			}
		}
	}()

	states := map[string]library.State{}
	for _, id := range started {
		st, err := a.lib.Wait(context.Background(), id)
		if err != nil {
			a.log.Errorf("%s: %v", shortID(id), err)
			continue
		}
		states[id] = st
	}
	wg.Wait()
	pm.Close()

	fmt.Println()
	fmt.Println("Download Summary:")
	fmt.Printf("Books:    %d\n", stats.Books.Load())
	fmt.Printf("Stored:   %d chapters\n", stats.Chapters.Load())
	if n := stats.Failed.Load(); n > 0 {
		fmt.Printf("Failed:   %d\n", n)
	}
	fmt.Printf("Time:     %s\n", time.Since(start).Round(time.Second))

	if ictx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("interrupted")
	}
	for id, st := range states {
		if st == library.StatePartiallyFailed {
			fmt.Printf("\n%s has failed chapters; run `noveld download %s` to retry them.\n", shortID(id), shortID(id))
		}
	}
	return nil
}

// follow drives a progress bar from a book's progress stream.
func follow(events <-chan library.Progress, h *ui.ProgressHandle, stats *ui.Stats) {
	var last library.Progress
	for p := range events {
		last = p
		h.Update(p.Done, p.Failed, p.Total)
		if p.Final {
			break
		}
	}
	h.MarkDone()

	stats.Books.Add(1)
	stats.Chapters.Add(int64(last.Done))
	stats.Failed.Add(int64(last.Failed))
}
