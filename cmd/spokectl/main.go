package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/relaychat/internal/logging"
	"github.com/danmuck/relaychat/internal/node"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "cmd/spokectl/config.toml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "spoke config path")
	network := flag.String("network", "", "override the configured network id")
	flag.Parse()

	_ = godotenv.Load()
	logging.ConfigureRuntime()

	cfg, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spokectl: %v\n", err)
		os.Exit(1)
	}
	if *network != "" {
		cfg.Network = *network
	}
	spoke, err := node.NewSpoke(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spokectl: %v\n", err)
		os.Exit(1)
	}
	log.Info().Str("node", spoke.NodeID()).Str("network", spoke.Network().String()).Msg("spokectl starting")
	if err := spoke.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "spokectl: %v\n", err)
		os.Exit(1)
	}
}

func resolveConfig(path string) (node.SpokeConfig, error) {
	cfg := node.DefaultSpokeConfig()
	if _, err := os.Stat(path); err == nil {
		if cfg, err = loadServiceConfig(path); err != nil {
			return node.SpokeConfig{}, err
		}
	} else if !errors.Is(err, os.ErrNotExist) || path != defaultConfigPath {
		return node.SpokeConfig{}, err
	}
	if v := os.Getenv("RELAYCHAT_JOIN_TOKEN"); v != "" {
		cfg.JoinToken = v
	}
	if v := os.Getenv("RELAYCHAT_API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv("RELAYCHAT_HUB_ADDR"); v != "" {
		cfg.HubAddr = v
	}
	return cfg, nil
}
