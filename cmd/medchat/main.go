// Command medchat runs the medical chat backend: the analytics ledger, the
// chat session API and a terminal chat client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/medchat/internal/config"
	"github.com/suPer8Hu/medchat/internal/logging"
)

const (
	Version = "0.1.0"
	appName = "medchat"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads .env files and the environment; a non-empty logLevel flag
// overrides LOG_LEVEL.
func loadConfig(logLevel string) config.Config {
	config.LoadDotEnv()
	cfg := config.Load()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logging.New(cfg.LogLevel)
	return cfg
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Medical multi-agent chat backend",
		Long: `medchat hosts the analytics ledger and the chat session API, and
ships a terminal client for talking to the clinical, literature, symptom
and drug-interaction agents.

Configuration comes from the environment (and .env / .env.local).`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")

	cmd.AddCommand(
		serveCmd(&logLevel),
		chatCmd(&logLevel),
		summaryCmd(&logLevel),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}
