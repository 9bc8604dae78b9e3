package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ent0n29/intake/internal/config"
	"github.com/ent0n29/intake/internal/intakeclient"
	"github.com/ent0n29/intake/internal/observability"
)

var (
	serverURL string
	logLevel  string

	clientCfg config.ClientConfig
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "intakectl",
	Short: "Talk to the project intake interviewer from a terminal",
	Long: `intakectl runs a voice-first intake conversation against an intake server.

Speech is captured through a streaming recognizer when the server has cloud
credentials, through a local recognizer command otherwise, and falls back to
typed input when neither is available.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadClientConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "intake server base URL (default from INTAKE_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default from LOG_LEVEL)")
}

func loadClientConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if cmd.Flags().Changed("server") {
		cfg.ServerURL = serverURL
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	clientCfg = cfg
	logger = observability.NewLogger(os.Stderr, cfg.LogLevel)
	return nil
}

func newAPIClient() *intakeclient.Client {
	return intakeclient.New(clientCfg.ServerURL, intakeclient.WithLogger(logger))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
