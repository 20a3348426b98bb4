package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/brogergvhs/noveld/internal/chapters"

	"github.com/spf13/cobra"
)

var flagTOCSearch string

func init() {
	tocCmd := &cobra.Command{
		Use:   "toc <book>",
		Short: "Show a book's chapter list with download state",
		Args:  cobra.ExactArgs(1),
		RunE:  runTOC,
	}
	tocCmd.Flags().StringVar(&flagTOCSearch, "search", "", "only chapters whose title contains this text or number")

	rootCmd.AddCommand(tocCmd)
}

func runTOC(cmd *cobra.Command, args []string) error {
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

	refs, err := a.lib.SearchChapters(ctx, b.ID, flagTOCSearch)
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s  [%s]\n\n", shortID(b.ID), b.Title, b.State)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, r := range refs {
		mark := " "
		if r.Index == b.Position {
			mark = ">"
		}
		note := ""
		if r.State == chapters.Failed && r.Reason != "" {
			note = "(" + r.Reason + ")"
		}
		_, _ = fmt.Fprintf(w, "%s%5d\t%s\t%s\t%s\n", mark, r.Index, r.State, r.Title, note)
	}
	return w.Flush()
}
