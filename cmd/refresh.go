package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "refresh <book>...",
		Short: "Re-read the chapter lists of books and append new chapters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, ref := range args {
				b, err := a.resolve(ctx, ref)
				if err != nil {
					a.log.Errorf("%s: %v", ref, err)
					continue
				}
				added, err := a.lib.RefreshManifest(ctx, b.ID)
				if err != nil {
					a.log.Errorf("%s: %v", b.Title, err)
					continue
				}
				fmt.Printf("%s  %s: %d new chapters\n", shortID(b.ID), b.Title, added)
			}
			return nil
		},
	})
}
