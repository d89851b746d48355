package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"perp-trading-agent/config"
	"perp-trading-agent/internal/auth"
	"perp-trading-agent/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command. Running it without a subcommand
// starts the agent.
func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "perp-agent",
		Short: "Autonomous perpetual-futures trading agent",
		Long: `perp-agent runs one trading loop per configured bot against a
Binance-compatible USDT-M futures exchange. Each cycle reconciles protective
orders, asks a decision source for an action, gates it and executes it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return os.Setenv("CONFIG_FILE", configPath)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (default config.json)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start every configured bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent()
		},
	})
	rootCmd.AddCommand(newSampleConfigCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newTokenCmd())

	return rootCmd
}

func newSampleConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sample-config [PATH]",
		Short: "Write a sample configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.sample.json"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.GenerateSampleConfig(path); err != nil {
				return fmt.Errorf("failed to write sample config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sample configuration written to %s\n", path)
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK: %d bots\n", len(cfg.Bots))
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var subject, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue a JWT for the bot control endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			m, err := auth.NewJWTManager(cfg.ServerConfig.JWTSecret, ttl)
			if err != nil {
				return fmt.Errorf("set JWT_SECRET first: %w", err)
			}
			token, err := m.GenerateToken(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "Token role (operator or viewer)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

// runAgent starts every service and blocks until SIGINT or SIGTERM
func runAgent() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration rejected", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Startup failed", "error", err)
		return err
	}

	if err := a.Start(ctx); err != nil {
		a.Shutdown(time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second)
		return err
	}
	logger.Info("Agent running", "bots", len(cfg.Bots), "mock_mode", cfg.ExchangeConfig.MockMode)

	<-ctx.Done()
	logger.Info("Shutting down...")

	a.Shutdown(time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second)
	logger.Info("Shutdown complete")
	return nil
}
