// Package cmd provides the command-line interface for hawser.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"hawser/pkg/config"
	"hawser/pkg/helper/log"
)

var (
	// Configuration
	cfg        *config.Config
	configPath string

	// Root command
	rootCmd = &cobra.Command{
		Use:   "hawser",
		Short: "Hawser is a client-side connection pool and dialer",
		Long: `A diagnostic CLI for the hawser connector library: dial endpoints through
the pool, exercise the cached resolver, and run a debug server exposing
pool statistics and Prometheus metrics`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return cfg.Validate()
			}
			loaded, err := config.LoadFromFile(configPath)
			if err != nil {
				return err
			}
			*cfg = *loaded
			return nil
		},
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cfg = config.NewDefaultConfig()
	rootCmd.SetGlobalNormalizationFunc(normalizeFlags)
	cfg.AddFlagsToCommand(rootCmd)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file (takes precedence over the other flags)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newDialCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newServeCmd())
}

// normalizeFlags accepts flags spelled with underscores as well as dashes.
func normalizeFlags(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// setupCommand creates a logger and a context cancelled on SIGINT/SIGTERM.
func setupCommand(ctx context.Context) (log.Logger, context.Context, context.CancelFunc) {
	logger := createLogger()
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			logger.Info("Received termination signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	return logger, ctx, cancel
}

func createLogger() log.Logger {
	level := log.ParseLevel(cfg.LogLevel)
	if cfg.JSONLogs {
		return log.NewStructuredLogger(level)
	}
	return log.NewBasicLogger(level)
}
