package cmd

import (
	"fmt"

	"github.com/brogergvhs/noveld/internal/config"

	"github.com/spf13/cobra"
)

var flagResetLibrary bool

var configResetCmd = &cobra.Command{
	Use:   "reset [label]",
	Short: "Restore a config's defaults, keeping its library folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, err := labelOrActive(args)
		if err != nil {
			return err
		}

		cfg, err := config.ResetConfig(label, !flagResetLibrary)
		if err != nil {
			return err
		}

		fmt.Printf("Reset config %q:\n", label)
		cfg.Print()
		return nil
	},
}

func init() {
	configResetCmd.Flags().BoolVar(&flagResetLibrary, "library", false, "also reset library_dir to the default location")
	configCmd.AddCommand(configResetCmd)
}
