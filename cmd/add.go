package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/brogergvhs/noveld/internal/library"
	"github.com/brogergvhs/noveld/internal/store"

	"github.com/spf13/cobra"
)

var flagAddDownload bool

func init() {
	addCmd := &cobra.Command{
		Use:   "add <url>...",
		Short: "Add books by their detail page URL and load their chapter lists",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAdd,
	}
	addCmd.Flags().BoolVar(&flagAddDownload, "download", false, "start downloading right after adding")

	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var ids []string
	for _, u := range args {
		b, err := addBook(ctx, a, u)
		if err != nil {
			a.log.Errorf("%s: %v", u, err)
			continue
		}
		refs, err := a.lib.Manifest(ctx, b.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s (%s)  %d chapters\n", shortID(b.ID), b.Title, b.Adapter, len(refs))
		ids = append(ids, b.ID)
	}

	if len(ids) == 0 {
		return fmt.Errorf("no books added")
	}
	if !flagAddDownload {
		return nil
	}
	return downloadBooks(ctx, a, ids, library.DownloadOptions{})
}

// addBook resolves ref against the library and submits it when it is a URL
// the library does not know yet.
func addBook(ctx context.Context, a *app, ref string) (library.Book, error) {
	b, err := a.resolve(ctx, ref)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, store.ErrBookNotFound) {
		return library.Book{}, err
	}
	if _, cerr := library.CanonicalURL(ref); cerr != nil {
		return library.Book{}, err
	}

	id, err := a.lib.SubmitBook(ctx, ref)
	if err != nil {
		return library.Book{}, err
	}
	return a.lib.Book(ctx, id)
}
