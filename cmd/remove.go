package cmd

import (
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var flagYes bool

func init() {
	rmCmd := &cobra.Command{
		Use:     "rm <book>",
		Aliases: []string{"remove"},
		Short:   "Delete a book with all of its stored chapters",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if !flagYes && !confirm(fmt.Sprintf("Delete %q and its stored chapters", b.Title)) {
				fmt.Println("Aborted.")
				return nil
			}

			if err := a.lib.DeleteBook(ctx, b.ID); err != nil {
				return err
			}
			fmt.Printf("Removed %s (%s)\n", b.Title, shortID(b.ID))
			return nil
		},
	}
	rmCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "do not ask for confirmation")

	rootCmd.AddCommand(rmCmd)
}

// confirm asks a yes/no question. Anything but an explicit yes, including
// Ctrl-C, is a no.
func confirm(label string) bool {
	prompt := promptui.Prompt{Label: label, IsConfirm: true}
	_, err := prompt.Run()
	return err == nil
}
