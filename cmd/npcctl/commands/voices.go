package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List catalog NPCs and their voices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(map[string]interface{}{
				"default_voice": cat.DefaultVoice,
				"voices":        cat.Voices(),
				"npcs":          cat.List(),
			})
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVOICE")
		for _, npc := range cat.List() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", npc.ID, npc.Name, npc.Voice)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Printf("\ndefault voice: %s\n", cat.DefaultVoice)
		return nil
	},
}
