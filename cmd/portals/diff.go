package main

import (
	"fmt"

	portalsync "github.com/openmined/portals/internal/sync"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <path>",
	Short: "Show a unified diff of the local file against its remote document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		if err := app.requireStore(); err != nil {
			return err
		}

		pair, err := app.pairByPath(args[0])
		if err != nil {
			return err
		}

		resolver := portalsync.NewResolver(app.engine())
		diff, err := resolver.Preview(cmd.Context(), pair)
		if err != nil {
			return err
		}
		if diff == "" {
			fmt.Println("no differences")
			return nil
		}
		fmt.Print(diff)
		return nil
	},
}
