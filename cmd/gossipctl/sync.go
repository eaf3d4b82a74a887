package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/asmogo/gonostrpool/internal/xlog"
	"github.com/asmogo/gonostrpool/nostr"
	"github.com/asmogo/gonostrpool/pool"
	"github.com/asmogo/gonostrpool/store/memory"
	syncpkg "github.com/asmogo/gonostrpool/sync"
	"github.com/spf13/cobra"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "negentropy-reconcile the local (empty) store against every configured relay",
		Run:   runSync,
	}
	cmd.Flags().Int("kind", int(nostr.KindTextNote), usageFilter)
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) {
	cfg := loadConfig()
	xlog.New(xlog.Options{Format: cfg.LogFormat, Level: cfg.LogLevel})
	kind, err := cmd.Flags().GetInt("kind")
	if err != nil {
		slog.Error("flag kind", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.IdleTimeout+cfg.ConnectTimeout)
	defer cancel()

	p := pool.New(ctx, pool.WithMaxRelays(cfg.MaxRelays))
	defer p.Shutdown()

	filter := nostr.Filter{Kinds: []nostr.Kind{nostr.Kind(kind)}}
	targets := make(map[string]nostr.Filter, len(cfg.NostrRelays))
	for _, url := range cfg.NostrRelays {
		if _, err := p.AddRelay(url, pool.CapRead|pool.CapWrite, true); err != nil {
			slog.Error("add relay failed", "relay", url, "err", err)
			continue
		}
		targets[url] = filter
	}
	p.Connect()
	time.Sleep(cfg.ConnectTimeout)

	st := memory.New()
	out, err := p.Sync(ctx, targets, st, syncpkg.DefaultOptions())
	if err != nil {
		slog.Error("sync failed", "err", err)
		return
	}
	for url, summary := range out.Val {
		slog.Info("reconciled relay", "relay", url,
			"local", len(summary.Local), "remote", len(summary.Remote),
			"sent", len(summary.Sent), "received", len(summary.Received),
			"send_failures", len(summary.SendFailures))
	}
	for url, reason := range out.Failed {
		slog.Warn("sync failed for relay", "relay", url, "reason", reason)
	}
}
