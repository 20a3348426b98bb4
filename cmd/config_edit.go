package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/brogergvhs/noveld/internal/config"

	"github.com/spf13/cobra"
)

var configEditCmd = &cobra.Command{
	Use:   "edit [label]",
	Short: "Open a config in $EDITOR and check it afterwards",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, err := labelOrActive(args)
		if err != nil {
			return err
		}

		path, err := config.ConfigPathByLabel(label)
		if err != nil {
			return err
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}

		ed := exec.CommandContext(cmd.Context(), editor, path)
		ed.Stdin = os.Stdin
		ed.Stdout = os.Stdout
		ed.Stderr = os.Stderr
		if err := ed.Run(); err != nil {
			return fmt.Errorf("failed to open editor: %w", err)
		}

		if _, err := config.LoadFile(path); err != nil {
			return fmt.Errorf("saved, but the file does not parse and noveld will refuse it: %w", err)
		}
		fmt.Printf("Config %q is valid.\n", label)
		return nil
	},
}

// labelOrActive is the single optional label argument, or the active one.
func labelOrActive(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	label, err := config.CurrentLabel()
	if err != nil {
		return "", fmt.Errorf("no active config; run `noveld config init` first: %w", err)
	}
	return label, nil
}

func init() {
	configCmd.AddCommand(configEditCmd)
}
