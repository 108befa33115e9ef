package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/wagaya/voicerelay/internal/config"
)

var (
	configFile string
	serverURL  string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:          "voiceclient",
	Short:        "Talk in a voice relay channel",
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.ResolvePath(), "config file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "relay WebSocket URL (overrides client.server_url)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "print debugging information")
}

// loadConfig reads the config file, or the defaults when it does not exist,
// and applies the command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
	case err != nil:
		return nil, fmt.Errorf("load config: %w", err)
	}

	if serverURL != "" {
		cfg.Client.ServerURL = serverURL
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
