package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "0.1.0"

type options struct {
	configFile string
	logLevel   string
	pretty     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "fetchz",
		Short: "Run configured fetch pipelines",
		Long: `fetchz downloads files from SSH, FTP, HTTP or SQL sources, decompresses and
parses them, and combines the records they hold, following a pipeline
declared in a configuration file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "fetchz.yaml", "pipeline configuration file")
	root.PersistentFlags().StringVarP(&opts.logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newValidateCmd(opts))
	root.AddCommand(newStagesCmd())
	return root
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
