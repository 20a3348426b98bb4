package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/brogergvhs/noveld/internal/config"

	"github.com/spf13/cobra"
)

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List config profiles with their library and request limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := config.ListConfigs()
		if err != nil {
			return fmt.Errorf("cannot read configs directory: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No configs yet. Run `noveld config init` to create one.")
			return nil
		}
		return writeProfiles(os.Stdout, list)
	},
}

// writeProfiles renders one row per profile. A profile that fails to parse
// still gets a row so it can be fixed with `config edit`.
func writeProfiles(out io.Writer, list []config.Profile) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "LABEL\tACTIVE\tLIBRARY\tIN-FLIGHT\tMIN-DELAY")

	for _, p := range list {
		active := ""
		if p.Active {
			active = "*"
		}
		if p.Err != nil {
			_, _ = fmt.Fprintf(w, "%s\t%s\tinvalid: %v\t-\t-\n", p.Label, active, p.Err)
			continue
		}
		c := p.Config
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", p.Label, active, c.LibraryDir, c.MaxInFlight, c.MinDelay)
	}

	return w.Flush()
}

func init() {
	configCmd.AddCommand(configListCmd)
}
