package main

import (
	"fmt"

	portalsync "github.com/openmined/portals/internal/sync"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Resolve a conflicted pair with an explicit strategy",
	Long: `Applies one resolution strategy to a conflicted pair:

  --strategy local   keep the local version (force push)
  --strategy remote  keep the remote version (force pull)
  --strategy merge   write a merge document with conflict markers into the
                     local file; edit it, then run 'resolve --complete'`,
	Args: cobra.ExactArgs(1),
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

		complete, _ := cmd.Flags().GetBool("complete")
		if complete {
			result, err := resolver.CompleteManualMerge(cmd.Context(), pair)
			if err != nil {
				return err
			}
			fmt.Printf("merge completed, %s pushed at %s\n", pair.LocalPath, result.SyncedAt.Format("15:04:05"))
			return nil
		}

		strategyFlag, _ := cmd.Flags().GetString("strategy")
		var strategy portalsync.Strategy
		switch strategyFlag {
		case "local":
			strategy = portalsync.StrategyUseLocal
		case "remote":
			strategy = portalsync.StrategyUseRemote
		case "merge":
			strategy = portalsync.StrategyManualMerge
		default:
			return fmt.Errorf("unknown strategy %q (want local, remote or merge)", strategyFlag)
		}

		result, err := resolver.Resolve(cmd.Context(), pair, strategy)
		if err != nil {
			return err
		}
		if result == nil {
			fmt.Printf("merge document written to %s\nedit it, then run: portals resolve %s --complete\n", pair.LocalPath, pair.LocalPath)
			return nil
		}
		fmt.Printf("resolved %s using %s\n", pair.LocalPath, strategyFlag)
		return nil
	},
}

func init() {
	resolveCmd.Flags().String("strategy", "", "resolution strategy: local | remote | merge")
	resolveCmd.Flags().Bool("complete", false, "finish a manual merge by pushing the edited file")
}
