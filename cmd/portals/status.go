package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/openmined/portals/internal/core"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every pair with its pending decision and last sync time",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		if err := app.requireStore(); err != nil {
			return err
		}

		pairs, err := app.store.ListPairs()
		if err != nil {
			return err
		}
		if len(pairs) == 0 {
			fmt.Println("no pairs tracked")
			return nil
		}

		engine := app.engine()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tREMOTE\tSTATUS\tLAST SYNC")
		for _, pair := range pairs {
			status := "unknown"
			decision, err := engine.Preview(cmd.Context(), pair)
			switch {
			case err != nil:
				status = fmt.Sprintf("error: %v", err)
			case pair.State != nil && pair.State.HasConflict:
				status = "CONFLICT"
			case decision.Status == core.NoChange:
				status = "up to date"
			default:
				status = fmt.Sprintf("pending %s", decision.Status)
			}

			lastSync := "never"
			if pair.State != nil && !pair.State.LastSync.IsZero() {
				lastSync = humanize.Time(pair.State.LastSync)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", pair.LocalPath, pair.RemoteID, status, lastSync)
		}
		return w.Flush()
	},
}
