package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brogergvhs/noveld/internal/config"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var (
	flagAddClean  bool
	flagAddSwitch bool
)

var configAddCmd = &cobra.Command{
	Use:   "add [label]",
	Short: "Save the effective settings (active profile, env and flags) as a new profile",
	Example: `  noveld config add polite --max-in-flight 1 --min-delay 2s
  noveld config add archive --library ~/novels --clean`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var label string
		if len(args) == 1 {
			label = args[0]
		} else {
			prompt := promptui.Prompt{
				Label: "Label for the new config",
				Validate: func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("label cannot be empty")
					}
					return nil
				},
			}
			var err error
			if label, err = prompt.Run(); err != nil {
				return fmt.Errorf("cancelled")
			}
			label = strings.TrimSpace(label)
		}

		var base *config.Config
		if !flagAddClean {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			base = cfg
		}

		path, err := config.CreateConfig(label, base)
		if err != nil {
			return err
		}
		fmt.Printf("Created config %q at %s\n", label, path)

		if flagAddSwitch {
			if err := config.SwitchConfig(label); err != nil {
				return err
			}
			fmt.Println("Switched to:", label)
		}
		return nil
	},
}

func init() {
	configAddCmd.Flags().BoolVar(&flagAddClean, "clean", false, "start from the built-in defaults instead of the effective settings")
	configAddCmd.Flags().BoolVar(&flagAddSwitch, "switch", false, "make the new config active")
	configCmd.AddCommand(configAddCmd)
}
