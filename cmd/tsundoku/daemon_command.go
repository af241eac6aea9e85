package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"tsundoku/internal/daemon"
	"tsundoku/internal/logging"
	"tsundoku/internal/metrics"
	"tsundoku/internal/notifications"
	"tsundoku/internal/tracker"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduled status checks and announcement discovery in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			journal := logging.NewJournal(logging.DefaultJournalCapacity)
			logger, err := ctx.newLogger(cfg, ctx.logLevel(""), journal)
			if err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			collector := metrics.NewCollector(registry)

			tr, err := tracker.Open(signalCtx, cfg, logger, journal, collector)
			if err != nil {
				return err
			}

			d, err := daemon.New(cfg, tr, logger, daemon.Options{
				Collector: collector,
				Gatherer:  registry,
				Notifier:  notifications.NewService(cfg),
			})
			if err != nil {
				_ = tr.Close()
				return fmt.Errorf("create daemon: %w", err)
			}

			if err := d.Start(signalCtx); err != nil {
				_ = tr.Close()
				if errors.Is(err, daemon.ErrLocked) {
					return fmt.Errorf("%w (lock %s)", err, cfg.Daemon.LockPath)
				}
				return err
			}
			if addr := d.Addr(); addr != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Serving status and metrics on http://%s\n", addr)
			}

			<-signalCtx.Done()
			logger.Info("tsundoku daemon shutting down")
			return d.Close()
		},
	}
}
