package main

import (
	"fmt"

	"github.com/openmined/portals/internal/core"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var syncCmd = &cobra.Command{
	Use:   "sync [path]",
	Short: "One-shot sync of all pairs, or of a single path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		if err := app.requireStore(); err != nil {
			return err
		}
		engine := app.engine()

		var pairs []*core.SyncPair
		if len(args) == 1 {
			pair, err := app.pairByPath(args[0])
			if err != nil {
				return err
			}
			pairs = append(pairs, pair)
		} else {
			pairs, err = app.store.ListPairs()
			if err != nil {
				return err
			}
		}
		if len(pairs) == 0 {
			fmt.Println("no pairs to sync")
			return nil
		}

		var g errgroup.Group
		g.SetLimit(4)
		results := make([]*core.SyncDecision, len(pairs))
		failures := make([]error, len(pairs))
		for i, pair := range pairs {
			g.Go(func() error {
				result, err := engine.Sync(cmd.Context(), pair)
				if err != nil {
					failures[i] = err
					return nil
				}
				results[i] = &result.Decision
				return nil
			})
		}
		_ = g.Wait()

		conflicts := 0
		failed := 0
		for i, pair := range pairs {
			switch {
			case failures[i] != nil:
				failed++
				fmt.Printf("  %-40s FAILED: %v\n", pair.LocalPath, failures[i])
			case results[i].Status == core.Conflict:
				conflicts++
				fmt.Printf("  %-40s CONFLICT (resolve with 'portals resolve %s')\n", pair.LocalPath, pair.LocalPath)
			case results[i].Status == core.NoChange:
				fmt.Printf("  %-40s up to date\n", pair.LocalPath)
			default:
				fmt.Printf("  %-40s %s\n", pair.LocalPath, results[i].Status)
			}
		}

		fmt.Printf("synced %d pairs, %d conflicts, %d failures\n", len(pairs), conflicts, failed)
		if failed > 0 {
			return fmt.Errorf("%d pairs failed to sync", failed)
		}
		return nil
	},
}
