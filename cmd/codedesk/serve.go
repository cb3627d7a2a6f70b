package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codedesk/internal/backend"
	"codedesk/internal/config"
	"codedesk/internal/harness"
	"codedesk/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backend: spawn the harness and pump its event stream",
	Long: `Opens the workspace database, spawns the configured harness server in
its own process group, and consumes its event stream until interrupted.
The stream is redialed with backoff if it drops while the harness is
still alive.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.DatabasePath(workspace), cfg.GetBusyTimeout())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	proc, client, err := startHarness(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := proc.Stop(5 * time.Second); err != nil {
			logger.Warn("harness shutdown", zap.Error(err))
		}
	}()

	b, err := backend.New(st, client)
	if err != nil {
		return err
	}

	logger.Info("serving",
		zap.String("workspace", workspace),
		zap.String("harness", client.BaseURL()))

	for {
		err := b.Run(ctx)
		if ctx.Err() != nil {
			logger.Info("shutting down")
			return nil
		}
		if err != nil {
			logger.Warn("event stream dropped", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-time.After(time.Second):
		}
	}
}

func startHarness(ctx context.Context, cfg *config.Config) (*harness.Process, *harness.Client, error) {
	proc, err := harness.StartProcess(harness.ProcessOptions{
		Command:  cfg.Harness.Command,
		Args:     cfg.Harness.Args,
		Hostname: cfg.Harness.Hostname,
		Port:     cfg.Harness.Port,
		Dir:      workspace,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start harness: %w", err)
	}

	client := harness.NewClient(proc.Hostname(), proc.Port(), cfg.GetRequestTimeout())

	readyCtx, cancel := context.WithTimeout(ctx, cfg.GetStartupTimeout())
	defer cancel()
	if err := proc.WaitReady(readyCtx, client); err != nil {
		proc.Stop(2 * time.Second)
		if errors.Is(err, context.Canceled) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("harness startup: %w", err)
	}
	return proc, client, nil
}
