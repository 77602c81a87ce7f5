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

const defaultConfigPath = "cmd/hubctl/config.toml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "hub config path")
	flag.Parse()

	_ = godotenv.Load()
	logging.ConfigureRuntime()

	cfg, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hubctl: %v\n", err)
		os.Exit(1)
	}
	hub, err := node.NewHub(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hubctl: %v\n", err)
		os.Exit(1)
	}
	log.Info().Str("node", hub.NodeID()).Msg("hubctl starting")
	if err := hub.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "hubctl: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfig loads path when it exists and applies environment overrides.
func resolveConfig(path string) (node.HubConfig, error) {
	cfg := node.DefaultHubConfig()
	if _, err := os.Stat(path); err == nil {
		if cfg, err = loadServiceConfig(path); err != nil {
			return node.HubConfig{}, err
		}
	} else if !errors.Is(err, os.ErrNotExist) || path != defaultConfigPath {
		return node.HubConfig{}, err
	}
	if v := os.Getenv("RELAYCHAT_JOIN_TOKEN"); v != "" {
		cfg.JoinToken = v
	}
	if v := os.Getenv("RELAYCHAT_JOIN_TOKEN_HASH"); v != "" {
		cfg.JoinTokenHash = v
	}
	return cfg, nil
}
