package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/apolo-dex/smartlink/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "smartlink",
		Short: "Links DEX wallets to Telegram accounts for Smart Bot analysis",
		Long: `smartlink runs the gateway that decides whether the connected wallet is
linked to a Telegram identity, shows the Telegram login dialog when it is not,
and exchanges the login for an analysis session.`,
		SilenceUsage: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the link gateway",
		RunE:  runServe,
	}
	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Check the cached session locally and against the backend",
		RunE:  runValidate,
	}
	sandboxCmd = &cobra.Command{
		Use:   "sandbox",
		Short: "Run an in-memory stand-in for the backend session API",
		RunE:  runSandbox,
	}

	backendURL   string
	port         string
	sandboxLinks []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend-url", "", "backend session API base URL (overrides BACKEND_URL)")
	serveCmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	sandboxCmd.Flags().StringVar(&port, "port", "", "listen port (overrides SANDBOX_PORT)")
	sandboxCmd.Flags().StringSliceVar(&sandboxLinks, "link", nil, "pre-linked wallet as address=telegram_id, repeatable")

	rootCmd.AddCommand(serveCmd, validateCmd, sandboxCmd)
}

// loadConfig reads .env and the environment, then applies flag overrides
func loadConfig() (*config.Config, *slog.Logger, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}
	if backendURL != "" {
		if err := os.Setenv("BACKEND_URL", backendURL); err != nil {
			return nil, nil, fmt.Errorf("failed to apply --backend-url: %w", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if port != "" {
		cfg.Port = port
	}

	return cfg, newLogger(cfg.LogLevel), nil
}

func newLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}
