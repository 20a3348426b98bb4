package util

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
)

const partialSuffix = ".partial"

// InterruptContext is cancelled on SIGINT or SIGTERM. Partial exports under
// cleanupDir are removed when that happens.
func InterruptContext(parent context.Context, cleanupDir string) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-ctx.Done()
		if parent.Err() != nil {
			return
		}
		if cleanupDir != "" {
			CleanupPartialFiles(cleanupDir)
		}
	}()

	return ctx, stop
}

// PartialPath is where an export is written before it is renamed into place.
func PartialPath(final string) string {
	return final + partialSuffix
}

func CleanupPartialFiles(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, partialSuffix) {
			continue
		}
		full := filepath.Join(dir, name)
		if err := os.Remove(full); err != nil {
			fmt.Fprintf(os.Stderr, "Error cleaning up %s: %v\n", full, err)
		}
	}
}
