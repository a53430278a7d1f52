package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/model"
)

func newBenchCmd(configPath *string) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Warm up the model and measure per-frame latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return bench(ctx, cmd.OutOrStdout(), *configPath, cmd.Flags().Changed("config"), steps)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 100, "number of frames to time")
	return cmd
}

func bench(ctx context.Context, out io.Writer, configPath string, explicit bool, steps int) error {
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}
	var level slog.LevelVar
	level.Set(levelFor(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(&level))

	reg := config.NewRegistry()
	registerBuiltinBackends(reg, cfg.Tokenizer)
	res, err := reg.CreateModel(cfg.Model)
	if err != nil {
		return err
	}
	b := &backends{Model: res}
	defer b.Close()

	if err := model.Warmup(ctx, res, cfg.Model.WarmupFrames); err != nil {
		return fmt.Errorf("warm-up: %w", err)
	}
	result, err := model.Bench(ctx, res, steps)
	if err != nil {
		return err
	}
	size, err := model.FrameSize(res)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, benchReport(cfg.Model.Backend, size, result))
	return nil
}
