package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/ui"
	"github.com/brogergvhs/noveld/internal/util"

	"github.com/spf13/cobra"
)

var (
	flagExportFormat string
	flagExportOutput string
)

func init() {
	exportCmd := &cobra.Command{
		Use:   "export <book>",
		Short: "Write a book's stored chapters as one text file or a zip of chapter files",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	exportCmd.Flags().StringVar(&flagExportFormat, "format", "txt", "txt or zip")
	exportCmd.Flags().StringVar(&flagExportOutput, "output", ".", "output folder")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if flagExportFormat != "txt" && flagExportFormat != "zip" {
		return fmt.Errorf("unknown format %q (want txt or zip)", flagExportFormat)
	}

	ctx, stop := util.InterruptContext(cmd.Context(), flagExportOutput)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.resolve(ctx, args[0])
	if err != nil {
		return err
	}

	if err := os.MkdirAll(flagExportOutput, 0755); err != nil {
		return fmt.Errorf("cannot create output folder: %w", err)
	}
	out := filepath.Join(flagExportOutput, chapters.SafeName(b.Title)+"."+flagExportFormat)

	stats := &ui.Stats{}
	var missing []int

	err = util.WriteFileAtomic(out, func(w io.Writer) error {
		var err error
		if flagExportFormat == "txt" {
			missing, err = a.lib.Assemble(ctx, b.ID, w)
			return err
		}

		cz := util.NewChapterZip(w)
		missing, err = a.lib.Chapters(ctx, b.ID, func(c chapters.Content) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return cz.Add(c)
		})
		if err != nil {
			return err
		}
		return cz.Close()
	})
	if err != nil {
		return err
	}

	if info, err := os.Stat(out); err == nil {
		stats.Bytes.Store(info.Size())
	}

	fmt.Printf("Wrote %s (%s)\n", out, util.Human(stats.Bytes.Load()))
	if len(missing) > 0 {
		fmt.Printf("%d chapters are not downloaded yet and were skipped: %v\n", len(missing), missing)
	}
	return nil
}
