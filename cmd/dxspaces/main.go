package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/patina/dxspaces/internal/config"
)

var (
	configFile string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "dxspaces",
	Short: "HTTP gateway to an n-dimensional array fabric",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("DXSPACES_CONFIG"), "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "listen address, overrides the configured one")
	rootCmd.AddCommand(gatewayCmd, nodeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dxspaces failed: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the settings and builds the process logger
func setup() (*config.Settings, *slog.Logger, error) {
	settings, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	level, err := settings.LogLevel()
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return settings, logger, nil
}
