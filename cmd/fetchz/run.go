package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/zoobzio/fetchz"
	"github.com/zoobzio/fetchz/config"
	"github.com/zoobzio/fetchz/registry"
	"go.uber.org/zap"
)

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [input...]",
		Short: "Run the configured pipeline once per input",
		Long: `Run feeds each input argument to the pipeline and writes each result to
standard output as JSON. Without arguments the pipeline's configured input
is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(opts.logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, args, cmd, logger)
		},
	}
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "indent JSON output")
	return cmd
}

func run(ctx context.Context, opts *options, args []string, cmd *cobra.Command, logger *zap.Logger) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}

	inputs := make([]any, 0, len(args))
	for _, a := range args {
		inputs = append(inputs, a)
	}
	if len(inputs) == 0 {
		if cfg.Pipeline.Input == nil {
			return errors.New("no input given and pipeline has no configured input")
		}
		inputs = append(inputs, cfg.Pipeline.Input)
	}

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID), zap.String("pipeline", cfg.Pipeline.Name))
	ctx = fetchz.WithRunID(ctx, runID)
	ctx = fetchz.WithReporter(ctx, fetchz.LogReporter(logger))

	res, err := cfg.Open(ctx, logger)
	if err != nil {
		return err
	}
	defer res.Close() //nolint:errcheck

	seq, err := cfg.Build(res, logger)
	if err != nil {
		return err
	}
	defer seq.Close() //nolint:errcheck

	_ = seq.OnStageComplete(func(_ context.Context, e fetchz.SequenceEvent) error { //nolint:errcheck
		logger.Debug("stage complete",
			zap.String("stage", e.StageName),
			zap.Int("number", e.StageNumber),
			zap.Bool("success", e.Success),
			zap.Duration("duration", e.Duration))
		return nil
	})

	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
	if opts.pretty {
		enc.SetIndent("", "  ")
	}
	for _, in := range inputs {
		logger.Info("running pipeline", zap.Any("input", in))
		result, err := seq.Process(ctx, in)
		if err != nil {
			return fmt.Errorf("pipeline %q: %w", cfg.Pipeline.Name, err)
		}
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}
	logger.Info("pipeline finished", zap.Int("inputs", len(inputs)))
	return nil
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration builds a pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			res, err := cfg.Open(cmd.Context(), zap.NewNop())
			if err != nil {
				return err
			}
			defer res.Close() //nolint:errcheck

			seq, err := cfg.Build(res, zap.NewNop())
			if err != nil {
				return err
			}
			defer seq.Close() //nolint:errcheck

			fmt.Fprintf(cmd.OutOrStdout(), "pipeline %q is valid\n", cfg.Pipeline.Name)
			for i, name := range seq.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %2d. %s\n", i+1, name)
			}
			return nil
		},
	}
}

func newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List the stage types a pipeline may use",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, t := range registry.New().Types() {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
		},
	}
}
