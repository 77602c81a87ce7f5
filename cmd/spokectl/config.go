package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/config"
	"github.com/danmuck/relaychat/internal/node"
)

func loadServiceConfig(path string) (node.SpokeConfig, error) {
	cfg := node.DefaultSpokeConfig()

	var raw config.SpokeConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return node.SpokeConfig{}, fmt.Errorf("load spoke config: %w", err)
	}

	if meta.IsDefined("id") {
		cfg.NodeID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("network") {
		network, err := chat.ParseNetworkID(raw.Network)
		if err != nil {
			return node.SpokeConfig{}, err
		}
		cfg.Network = network.String()
	}
	if meta.IsDefined("port_id") {
		cfg.PortID = strings.TrimSpace(raw.PortID)
	}
	if meta.IsDefined("hub_addr") {
		cfg.HubAddr = strings.TrimSpace(raw.HubAddr)
	}
	if meta.IsDefined("discover") {
		cfg.Discover = raw.Discover
	}
	if meta.IsDefined("hub_name") {
		cfg.HubName = strings.TrimSpace(raw.HubName)
	}
	if meta.IsDefined("discover_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DiscoverTimeout))
		if err != nil {
			return node.SpokeConfig{}, fmt.Errorf("parse discover_timeout: %w", err)
		}
		cfg.DiscoverTimeout = d
	}
	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("join_token") {
		cfg.JoinToken = raw.JoinToken
	}
	if meta.IsDefined("api_token") {
		cfg.APIToken = raw.APIToken
	}
	if meta.IsDefined("api_token_hash") {
		cfg.APITokenHash = strings.TrimSpace(raw.APITokenHash)
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("store") {
		if err := raw.Store.Validate(); err != nil {
			return node.SpokeConfig{}, fmt.Errorf("spoke store: %w", err)
		}
		cfg.Store = raw.Store
	}
	if meta.IsDefined("session") {
		sess, err := raw.Session.Apply(cfg.Session)
		if err != nil {
			return node.SpokeConfig{}, fmt.Errorf("spoke session: %w", err)
		}
		if err := sess.ValidateClientTransport(); err != nil {
			return node.SpokeConfig{}, fmt.Errorf("spoke session: %w", err)
		}
		cfg.Session = sess
	}
	return cfg, nil
}
