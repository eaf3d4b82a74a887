package main

import (
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/asmogo/gonostrpool/internal/xlog"
	"github.com/asmogo/gonostrpool/pool"
	"github.com/spf13/cobra"
)

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "connect to the configured relay set and report status changes",
		Run:   runConnect,
	}
}

func runConnect(cmd *cobra.Command, _ []string) {
	cfg := loadConfig()
	xlog.New(xlog.Options{Format: cfg.LogFormat, Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := pool.New(ctx,
		pool.WithMaxRelays(cfg.MaxRelays),
		pool.WithNotifier(func(n pool.Notification) {
			slog.Info("relay notification", "relay", n.Relay, "kind", n.Kind)
		}),
	)
	defer p.Shutdown()

	for _, url := range cfg.NostrRelays {
		if _, err := p.AddRelay(url, pool.CapRead|pool.CapWrite, true); err != nil {
			slog.Error("add relay failed", "relay", url, "err", err)
		}
	}

	slog.Info("connecting, press ctrl-c to stop", "relays", cfg.NostrRelays)
	<-ctx.Done()
	slog.Info("shutting down")
	time.Sleep(100 * time.Millisecond)
}
