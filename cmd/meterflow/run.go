package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ghalamif/MeterFlow/internal/adapters/tui"
	"github.com/ghalamif/MeterFlow/pkg/meterflow"
)

var runTUI bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the live monitor, HTTP API and optional archive recorder",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := meterflow.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var opts []meterflow.RuntimeOption
		if runTUI && cfg.Log.File == "" {
			// The dashboard owns the terminal.
			opts = append(opts, meterflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		}

		rt, err := meterflow.NewRuntime(ctx, cfg, opts...)
		if err != nil {
			return err
		}
		if !runTUI {
			return rt.Run(ctx)
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- rt.Run(ctx) }()

		uiErr := tui.New(rt, rt, 0).Run(ctx)
		cancel()
		if err := <-done; err != nil {
			return err
		}
		return uiErr
	},
}

func init() {
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the terminal dashboard")
}
