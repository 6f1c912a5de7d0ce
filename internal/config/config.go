// Package config is the explicit configuration value consumed by the sync
// core. It is produced once at startup (viper + flags in the CLI) and passed
// in; nothing reads ambient global state.
package config

import (
	"fmt"
	"time"

	"github.com/openmined/portals/internal/core"
)

// Mode selects how the watch orchestrator acts on decisions.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
	ModeDryRun Mode = "dry_run"
)

// Resolution is the default conflict-resolution strategy offered to the user.
type Resolution string

const (
	ResolutionManual Resolution = "manual"
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
)

type Config struct {
	DataDir             string     `json:"data_dir" mapstructure:"data_dir"`
	RemoteURL           string     `json:"remote_url" mapstructure:"remote_url"`
	RemoteToken         string     `json:"remote_token,omitempty" mapstructure:"remote_token"`
	DebounceSeconds     float64    `json:"debounce_seconds" mapstructure:"debounce_seconds"`
	PollIntervalSeconds int        `json:"poll_interval_seconds" mapstructure:"poll_interval_seconds"`
	Mode                Mode       `json:"mode" mapstructure:"mode"`
	ConflictResolution  Resolution `json:"conflict_resolution" mapstructure:"conflict_resolution"`
}

// Default returns the configuration used when no file, env or flag overrides
// a key.
func Default() Config {
	return Config{
		DebounceSeconds:     2.0,
		PollIntervalSeconds: 30,
		Mode:                ModeAuto,
		ConflictResolution:  ResolutionManual,
	}
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return &core.ConfigError{Key: "data_dir", Reason: "must not be empty"}
	}
	if c.DebounceSeconds <= 0 {
		return &core.ConfigError{Key: "debounce_seconds", Reason: "must be positive"}
	}
	if c.PollIntervalSeconds <= 0 {
		return &core.ConfigError{Key: "poll_interval_seconds", Reason: "must be positive"}
	}
	switch c.Mode {
	case ModeAuto, ModePrompt, ModeDryRun:
	default:
		return &core.ConfigError{Key: "mode", Reason: fmt.Sprintf("unknown mode %q", c.Mode)}
	}
	switch c.ConflictResolution {
	case ResolutionManual, ResolutionLocal, ResolutionRemote:
	default:
		return &core.ConfigError{Key: "conflict_resolution", Reason: fmt.Sprintf("unknown strategy %q", c.ConflictResolution)}
	}
	return nil
}

// Debounce returns the local-event coalescing window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds * float64(time.Second))
}

// PollInterval returns the remote polling cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
