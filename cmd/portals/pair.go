package main

import (
	"fmt"
	"path/filepath"

	"github.com/openmined/portals/internal/core"
	"github.com/spf13/cobra"
)

var pairCmd = &cobra.Command{
	Use:   "pair <local-path> <remote-id>",
	Short: "Explicitly pair one local file with one remote document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		if err := app.requireStore(); err != nil {
			return err
		}

		relPath := filepath.ToSlash(filepath.Clean(args[0]))
		remoteID := args[1]

		if !app.ignores.Tracked(relPath) {
			return fmt.Errorf("%s is not a tracked path (check include patterns and .portalsignore)", relPath)
		}

		state, err := app.store.Load()
		if err != nil {
			return err
		}
		if existing := state.PairByLocalPath(relPath); existing != nil {
			return fmt.Errorf("%s is already paired with %s", relPath, existing.RemoteID)
		}
		if existing := state.PairByRemoteID(remoteID); existing != nil {
			return fmt.Errorf("remote %s is already paired with %s", remoteID, existing.LocalPath)
		}

		ok, err := app.remote.Exists(cmd.Context(), remoteID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("remote document %s does not exist", remoteID)
		}
		pair := core.NewSyncPair(relPath, remoteID, app.remote.Platform())
		if err := app.store.AddPair(pair); err != nil {
			return err
		}

		localOK, err := app.local.Exists(cmd.Context(), relPath)
		if err != nil {
			return err
		}
		if !localOK {
			// first sync classifies as pull and materializes the file
			fmt.Printf("paired %s <-> %s (local file missing, 'portals sync' will pull it)\n", relPath, remoteID)
			return nil
		}

		fmt.Printf("paired %s <-> %s\n", relPath, remoteID)
		return nil
	},
}
