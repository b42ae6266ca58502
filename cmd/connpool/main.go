// Package main provides the connpool CLI: it runs a pooled workload against a single server.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/actual-software/connpool/internal/config"
	common "github.com/actual-software/connpool/pkg/common/config"
)

var (
	// Version is the application version, set at build time.
	Version = "v1.0.0"
	// BuildTime is the build timestamp, set at build time.
	BuildTime = "unknown"
	// GitCommit is the git commit hash, set at build time.
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ignoring error: writing to stderr in error path.
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "connpool",
		Short: "connpool - pooled connections to a single server",
		Long: `connpool keeps a bounded pool of connections to one server, runs a
checkout workload against it and exposes pool metrics and health.`,
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolP("quiet", "q", false, "Suppress all logging output")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	return rootCmd
}

func run(cmd *cobra.Command, args []string) error {
	orchestrator := InitializeApplicationOrchestrator(cmd)

	return orchestrator.ExecuteApplication(args)
}

func initLogger(level string, quiet bool, loggingConfig *common.LoggingConfig) (*zap.Logger, error) {
	if quiet {
		return zap.NewNop(), nil
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	outputPaths := []string{loggingConfig.Output}
	if loggingConfig.Output == "" {
		outputPaths = []string{"stdout"}
	}

	encoding := loggingConfig.Format
	if encoding == "" {
		encoding = "json"
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if loggingConfig.IncludeCaller {
		config.EncoderConfig.CallerKey = "caller"
		config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	} else {
		config.EncoderConfig.CallerKey = zapcore.OmitKey
	}

	if loggingConfig.Sampling.Enabled {
		config.Sampling = &zap.SamplingConfig{
			Initial:    loggingConfig.Sampling.Initial,
			Thereafter: loggingConfig.Sampling.Thereafter,
		}
	}

	return config.Build()
}

// versionCmd creates the version command.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			displayVersionInformation(cmd.OutOrStdout())
		},
	}
}

// displayVersionInformation prints version details.
func displayVersionInformation(w io.Writer) {
	_, _ = fmt.Fprintf(w, "connpool\n")
	_, _ = fmt.Fprintf(w, "Version: %s\n", Version)
	_, _ = fmt.Fprintf(w, "Build Time: %s\n", BuildTime)
	_, _ = fmt.Fprintf(w, "Git Commit: %s\n", GitCommit)
}

// configCmd creates the config command, which prints the effective configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Loads the configuration file and environment overrides, validates them
and prints the result as YAML with secrets redacted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("failed to get config flag: %w", err)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			out, err := cfg.YAML()
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}

			_, err = cmd.OutOrStdout().Write(out)

			return err
		},
	}
}
