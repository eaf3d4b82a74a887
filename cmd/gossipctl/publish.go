package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/asmogo/gonostrpool/internal/xlog"
	"github.com/asmogo/gonostrpool/nostr"
	"github.com/asmogo/gonostrpool/pool"
	"github.com/asmogo/gonostrpool/signer"
	"github.com/spf13/cobra"
)

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "sign and publish a text note to every configured relay",
		Run:   runPublish,
	}
	cmd.Flags().String("content", "", usageContent)
	return cmd
}

func runPublish(cmd *cobra.Command, _ []string) {
	cfg := loadConfig()
	xlog.New(xlog.Options{Format: cfg.LogFormat, Level: cfg.LogLevel})
	content := requireFlagString(cmd, "content")

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.OKTimeout+cfg.ConnectTimeout)
	defer cancel()

	keys, err := newSigner(cfg.NostrPrivateKey)
	if err != nil {
		slog.Error("build signer", "err", err)
		return
	}
	pubKey, err := keys.PublicKey(ctx)
	if err != nil {
		slog.Error("derive public key", "err", err)
		return
	}

	p := pool.New(ctx, pool.WithMaxRelays(cfg.MaxRelays))
	defer p.Shutdown()

	urls := make([]string, 0, len(cfg.NostrRelays))
	for _, url := range cfg.NostrRelays {
		if _, err := p.AddRelay(url, pool.CapWrite, true); err != nil {
			slog.Error("add relay failed", "relay", url, "err", err)
			continue
		}
		urls = append(urls, url)
	}
	p.Connect()
	time.Sleep(cfg.ConnectTimeout)

	unsigned := nostr.UnsignedEvent{
		PubKey:    pubKey,
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindTextNote,
		Content:   content,
	}
	event, err := keys.Sign(ctx, unsigned)
	if err != nil {
		slog.Error("sign event", "err", err)
		return
	}

	out := p.SendEvent(ctx, urls, event, cfg.OKTimeout)
	slog.Info("publish complete", "id", event.ID, "succeeded", out.Succeeded(), "failed", out.Failed)
}

func newSigner(privateKeyHex string) (*signer.Keys, error) {
	if privateKeyHex == "" {
		return signer.NewRandom()
	}
	return signer.New(privateKeyHex)
}
