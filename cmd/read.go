package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/library"
	"github.com/brogergvhs/noveld/internal/store"

	"github.com/spf13/cobra"
)

var (
	flagReadNext  bool
	flagReadPrev  bool
	flagReadFetch bool
)

func init() {
	readCmd := &cobra.Command{
		Use:   "read <book> [index]",
		Short: "Print a stored chapter. Without an index, continues from the saved position",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runRead,
	}
	readCmd.Flags().BoolVar(&flagReadNext, "next", false, "read the chapter after the saved position")
	readCmd.Flags().BoolVar(&flagReadPrev, "prev", false, "read the chapter before the saved position")
	readCmd.Flags().BoolVar(&flagReadFetch, "fetch", false, "download the chapter first when it is not stored")

	rootCmd.AddCommand(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.resolve(ctx, args[0])
	if err != nil {
		return err
	}

	index := max(b.Position, chapters.Origin)
	switch {
	case len(args) == 2:
		index, err = strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid chapter index %q", args[1])
		}
	case flagReadNext && b.Position > 0:
		index = b.Position + 1
	case flagReadPrev:
		index = b.Position - 1
	}

	if index < chapters.Origin {
		return fmt.Errorf("already at the first chapter")
	}

	c, err := a.lib.ReadChapter(ctx, b.ID, index)
	if errors.Is(err, store.ErrMissing) && flagReadFetch {
		if err := a.lib.StartDownload(ctx, b.ID, library.DownloadOptions{Indices: []int{index}}); err != nil {
			return err
		}
		if _, err := a.lib.Wait(ctx, b.ID); err != nil {
			return err
		}
		c, err = a.lib.ReadChapter(ctx, b.ID, index)
	}
	if errors.Is(err, store.ErrMissing) {
		return fmt.Errorf("chapter %d of %s is not downloaded; run `noveld download %s --chapter %d` or pass --fetch",
			index, b.Title, shortID(b.ID), index)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s\n\n%s\n", c.Title, c.Text)

	if err := a.lib.SetPosition(ctx, b.ID, index); err != nil {
		a.log.Warnf("saving position: %v", err)
	}
	return nil
}
