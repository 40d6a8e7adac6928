// Package cmd implements the streamsearch-worker CLI: a per-bucket worker
// that feeds documents into a bucket's slot file and runs searches over it.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/streamsearch/engine/internal/config"
	"github.com/streamsearch/engine/internal/logging"
)

var (
	bucketDir string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "streamsearch-worker",
	Short: "Per-bucket streaming search worker",
	Long: `streamsearch-worker hosts one storage bucket: it owns the bucket's
slot file and codec registry, feeds documents into it, and evaluates
structured queries against the document stream, emitting top-K results.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&bucketDir, "bucket", "b", ".", "bucket directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig layers the bucket's config file and flags, and sets up
// logging.
func loadConfig() (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(bucketDir)
	if err != nil {
		return nil, nil, nil, err
	}
	if logLevel != "" {
		cfg.Worker.LogLevel = logLevel
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Worker.LogLevel
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, cleanup, nil
}
