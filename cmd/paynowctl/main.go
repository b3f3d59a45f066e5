package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taxi/internal/app"
	"taxi/internal/config"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "paynowctl",
		Short:        "Operator tools for Paynow payments",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(simulateWebhookCmd())
	rootCmd.AddCommand(checkHashCmd())
	rootCmd.AddCommand(findReferenceCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the same environment configuration the server uses and a
// logger that writes to stderr so command output stays clean.
func loadConfig() (*config.Config, *logrus.Logger) {
	cfg := config.Load()
	logger := app.NewLogger(cfg.Log)
	logger.SetOutput(os.Stderr)
	return cfg, logger
}
