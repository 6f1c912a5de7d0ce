package main

import (
	"fmt"
	"path"

	"github.com/openmined/portals/internal/core"
	"github.com/openmined/portals/internal/hierarchy"
	"github.com/openmined/portals/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the tracked tree and mirror it to the remote",
	Long: `Creates the .portals state directory, scans the data directory for
markdown files, creates the matching remote hierarchy (parents before
children) and establishes a sync pair per file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		rootID, _ := cmd.Flags().GetString("root-id")

		if err := app.store.Init(); err != nil {
			return err
		}

		paths, err := app.scanTracked()
		if err != nil {
			return fmt.Errorf("scan %s: %w", app.local.Root(), err)
		}

		state, err := app.store.Load()
		if err != nil {
			return err
		}

		// known mapping: directories from the hierarchy records, files
		// from their pairs
		existing := map[string]string{}
		for p, rec := range state.Hierarchy {
			if !rec.Archived {
				existing[p] = rec.RemoteID
			}
		}
		for _, pair := range state.Pairs {
			existing[pair.LocalPath] = pair.RemoteID
		}

		// current hashes for present files, last-synced hashes for gone ones
		hashes := map[string]string{}
		for _, pair := range state.Pairs {
			hashes[pair.LocalPath] = pair.BaseHash()
		}
		for _, p := range paths {
			doc, err := app.local.Read(cmd.Context(), p)
			if err != nil {
				return err
			}
			hashes[p] = doc.ContentHash
		}

		tree := hierarchy.BuildTree(paths)
		plan := hierarchy.Plan(tree, existing, hashes)
		if len(plan) == 0 {
			fmt.Println("nothing to do, tree is already mirrored")
			return nil
		}

		// persist everything that reached the remote, even when the plan
		// aborted partway: a rerun must not create those nodes again
		applied, applyErr := hierarchy.Apply(cmd.Context(), plan, app.remote, rootID, existing)

		err = app.store.Mutate(func(s *store.State) error {
			for _, op := range applied {
				switch op.Kind {
				case hierarchy.OpCreateDir:
					s.Hierarchy[op.Path] = &store.HierarchyRecord{RemoteID: existing[op.Path]}
					if parent := path.Dir(op.Path); parent != "." {
						if rec := s.Hierarchy[parent]; rec != nil {
							rec.Children = append(rec.Children, path.Base(op.Path))
						}
					}
				case hierarchy.OpCreateFile:
					pair := core.NewSyncPair(op.Path, existing[op.Path], app.remote.Platform())
					s.Pairs[pair.ID] = pair
				case hierarchy.OpRename:
					if pair := s.PairByLocalPath(op.OldPath); pair != nil {
						pair.LocalPath = op.Path
					}
				case hierarchy.OpArchive:
					if pair := s.PairByRemoteID(op.RemoteID); pair != nil {
						delete(s.Pairs, pair.ID)
					}
					if rec := s.Hierarchy[op.Path]; rec != nil {
						rec.Archived = true
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if applyErr != nil {
			return fmt.Errorf("%w (%d of %d operations applied, rerun init to continue)", applyErr, len(applied), len(plan))
		}

		fmt.Printf("initialized %s: %d operations applied, %d files tracked\n", app.local.Root(), len(applied), len(paths))
		return nil
	},
}

func init() {
	initCmd.Flags().String("root-id", "root", "remote locator of the container holding the tree")
}
