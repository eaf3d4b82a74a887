package main

import (
	"fmt"
	"log/slog"

	"github.com/asmogo/gonostrpool/config"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{Use: "gossipctl"}
	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(syncCmd())
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.LoadConfig[config.Config]()
	if err != nil {
		panic(err)
	}
	if len(cfg.NostrRelays) == 0 {
		slog.Info("no relays configured, using default relays", "relays", config.DefaultRelays)
		cfg.NostrRelays = config.DefaultRelays
	}
	return cfg
}

const (
	usageContent = "content for the published text note"
	usageFilter  = "kind to reconcile (defaults to text notes)"
)

func requireFlagString(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("gossipctl: flag %s: %v", name, err))
	}
	return v
}
