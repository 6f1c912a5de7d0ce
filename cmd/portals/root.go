package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openmined/portals/internal/config"
	"github.com/openmined/portals/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	home, _        = os.UserHomeDir()
	defaultDataDir = filepath.Join(home, "Portals")
	configDir      = filepath.Join(home, ".portals")
)

var rootCmd = &cobra.Command{
	Use:     "portals",
	Short:   "Bidirectional sync between a local markdown tree and remote document stores",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	SilenceErrors: false,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.SortFlags = false
	pf.StringP("config", "c", "", "config file (default ~/.portals/config.json)")
	pf.StringP("datadir", "d", defaultDataDir, "tracked markdown directory")
	pf.StringP("remote", "r", "", "remote document server URL")
	pf.String("mode", string(config.ModeAuto), "watch mode: auto | prompt | dry_run")
	pf.Float64("debounce", 2.0, "local event debounce window in seconds")
	pf.Int("poll-interval", 30, "remote poll interval in seconds")

	rootCmd.AddCommand(initCmd, pairCmd, syncCmd, statusCmd, diffCmd, resolveCmd, watchCmd)
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		path, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("data_dir", cmd.Flags().Lookup("datadir"))
	viper.BindPFlag("remote_url", cmd.Flags().Lookup("remote"))
	viper.BindPFlag("mode", cmd.Flags().Lookup("mode"))
	viper.BindPFlag("debounce_seconds", cmd.Flags().Lookup("debounce"))
	viper.BindPFlag("poll_interval_seconds", cmd.Flags().Lookup("poll-interval"))

	viper.SetEnvPrefix("PORTALS")
	viper.AutomaticEnv()

	return nil
}

// currentConfig assembles the explicit config value the core consumes.
func currentConfig() (config.Config, error) {
	cfg := config.Default()
	cfg.DataDir = viper.GetString("data_dir")
	cfg.RemoteURL = viper.GetString("remote_url")
	cfg.RemoteToken = viper.GetString("remote_token")
	if viper.IsSet("debounce_seconds") {
		cfg.DebounceSeconds = viper.GetFloat64("debounce_seconds")
	}
	if viper.IsSet("poll_interval_seconds") {
		cfg.PollIntervalSeconds = viper.GetInt("poll_interval_seconds")
	}
	if mode := viper.GetString("mode"); mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if res := viper.GetString("conflict_resolution"); res != "" {
		cfg.ConflictResolution = config.Resolution(res)
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
