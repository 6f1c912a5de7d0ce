package main

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/openmined/portals/internal/adapter"
	"github.com/openmined/portals/internal/adapter/httpdoc"
	"github.com/openmined/portals/internal/adapter/localfs"
	"github.com/openmined/portals/internal/config"
	"github.com/openmined/portals/internal/core"
	"github.com/openmined/portals/internal/store"
	portalsync "github.com/openmined/portals/internal/sync"
)

// app wires the store, adapters and engine for one command invocation.
type app struct {
	cfg     config.Config
	store   *store.MetadataStore
	local   *localfs.Adapter
	remote  adapter.Adapter
	ignores *portalsync.IgnoreList
}

func newApp() (*app, error) {
	cfg, err := currentConfig()
	if err != nil {
		return nil, err
	}

	local, err := localfs.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	if cfg.RemoteURL == "" {
		return nil, &core.ConfigError{Key: "remote_url", Reason: "must be set (flag --remote or config)"}
	}
	var opts []httpdoc.Option
	if cfg.RemoteToken != "" {
		opts = append(opts, httpdoc.WithToken(cfg.RemoteToken))
	}
	remote := httpdoc.New(cfg.RemoteURL, opts...)

	ignores := portalsync.NewIgnoreList(local.Root(), nil)
	ignores.Load()

	return &app{
		cfg:     cfg,
		store:   store.NewMetadataStore(local.Root()),
		local:   local,
		remote:  remote,
		ignores: ignores,
	}, nil
}

func (a *app) resolveAdapter(platform string) (adapter.Adapter, error) {
	if platform == a.remote.Platform() {
		return a.remote, nil
	}
	return nil, fmt.Errorf("no adapter for platform %q", platform)
}

func (a *app) engine(opts ...portalsync.EngineOption) *portalsync.Engine {
	return portalsync.NewEngine(a.store, a.local, a.resolveAdapter, opts...)
}

// requireStore fails commands that need an initialized tree.
func (a *app) requireStore() error {
	if !a.store.Exists() {
		return fmt.Errorf("%s is not initialized, run 'portals init' first", a.local.Root())
	}
	return nil
}

// pairByPath finds the tracked pair for a relative path.
func (a *app) pairByPath(relPath string) (*core.SyncPair, error) {
	state, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	pair := state.PairByLocalPath(filepath.ToSlash(relPath))
	if pair == nil {
		return nil, fmt.Errorf("no pair tracks %s", relPath)
	}
	return pair, nil
}

// scanTracked walks the data dir and returns the relative paths the ignore
// list tracks.
func (a *app) scanTracked() ([]string, error) {
	var paths []string
	root := a.local.Root()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == store.MetadataDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if a.ignores.Tracked(rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
