package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/openmined/portals/internal/config"
	"github.com/openmined/portals/internal/core"
	"github.com/openmined/portals/internal/store"
	portalsync "github.com/openmined/portals/internal/sync"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the tree and the remote, syncing changes as they happen",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		if err := app.requireStore(); err != nil {
			return err
		}

		// one watch session per tree
		if err := app.store.Acquire(); err != nil {
			return err
		}
		defer app.store.Release()

		snapshot := store.NewPollSnapshot(app.store.SnapshotPath())
		if err := snapshot.Open(); err != nil {
			return err
		}
		defer snapshot.Close()

		watcher := portalsync.NewFileWatcher(app.local.Root(), app.ignores, app.cfg.Debounce())
		engine := app.engine(portalsync.WithEchoSuppressor(watcher))

		var pollerOpts []portalsync.PollerOption
		if app.cfg.Mode == config.ModeDryRun {
			// nothing mutates in dry run, the snapshot included
			pollerOpts = append(pollerOpts, portalsync.WithSnapshotReadOnly())
		}
		poller := portalsync.NewRemotePoller(app.store, snapshot, app.resolveAdapter, app.cfg.PollInterval(), pollerOpts...)

		opts := []portalsync.OrchestratorOption{
			portalsync.WithConflictHandler(func(pair *core.SyncPair, _ core.SyncDecision) {
				fmt.Printf("\nconflict on %s, resolve with: portals resolve %s --strategy local|remote|merge\n",
					pair.LocalPath, pair.LocalPath)
			}),
		}
		if app.cfg.Mode == config.ModePrompt {
			opts = append(opts, portalsync.WithPrompter(&terminalPrompter{in: bufio.NewReader(os.Stdin)}))
		}

		orch, err := portalsync.NewOrchestrator(app.cfg, app.store, engine, watcher, poller, opts...)
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true
		fmt.Printf("watching %s (mode: %s, debounce: %s, poll: %s)\n",
			app.local.Root(), app.cfg.Mode, app.cfg.Debounce(), app.cfg.PollInterval())
		return orch.Run(cmd.Context())
	},
}

// terminalPrompter asks on stdin with the discrete yes/no/always/quit answer
// set.
type terminalPrompter struct {
	in *bufio.Reader
}

func (p *terminalPrompter) Ask(event portalsync.ChangeEvent, decision core.SyncDecision) (portalsync.PromptAnswer, error) {
	fmt.Printf("%s changed (%s): apply %s? [y]es / [n]o / [a]lways / [q]uit: ",
		event.Path, event.Origin, decision.Status)

	for {
		line, err := p.in.ReadString('\n')
		if err != nil {
			return portalsync.AnswerQuit, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return portalsync.AnswerYes, nil
		case "n", "no":
			return portalsync.AnswerNo, nil
		case "a", "always":
			return portalsync.AnswerAlways, nil
		case "q", "quit":
			return portalsync.AnswerQuit, nil
		default:
			fmt.Print("please answer y, n, a or q: ")
		}
	}
}
