package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/brogergvhs/noveld/internal/chapters"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the books in the library",
		Args:  cobra.NoArgs,
		RunE:  runList,
	})
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	books, err := a.lib.Books(ctx)
	if err != nil {
		return err
	}
	if len(books) == 0 {
		fmt.Println("Library is empty. Add a book with `noveld add <url>`.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tSTATE\tSTORED\tREAD")

	for _, b := range books {
		refs, err := a.lib.Manifest(ctx, b.ID)
		if err != nil {
			return err
		}
		done := 0
		for _, r := range refs {
			if r.State == chapters.Done {
				done++
			}
		}
		read := "-"
		if b.Position > 0 {
			read = fmt.Sprint(b.Position)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n", shortID(b.ID), b.Title, b.Author, b.State, done, len(refs), read)
	}

	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to flush table output: %v\n", err)
	}
	return nil
}
