package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/relaychat/internal/config"
	"github.com/danmuck/relaychat/internal/node"
)

func loadServiceConfig(path string) (node.HubConfig, error) {
	cfg := node.DefaultHubConfig()

	var raw config.HubConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return node.HubConfig{}, fmt.Errorf("load hub config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.NodeID = id
		}
	}
	if meta.IsDefined("port_id") {
		cfg.PortID = strings.TrimSpace(raw.PortID)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
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
	if meta.IsDefined("join_token_hash") {
		cfg.JoinTokenHash = strings.TrimSpace(raw.JoinTokenHash)
	}
	if meta.IsDefined("advertise") {
		cfg.Advertise = raw.Advertise
	}
	if meta.IsDefined("store") {
		if err := raw.Store.Validate(); err != nil {
			return node.HubConfig{}, fmt.Errorf("hub store: %w", err)
		}
		cfg.Store = raw.Store
	}
	if meta.IsDefined("session") {
		sess, err := raw.Session.Apply(cfg.Session)
		if err != nil {
			return node.HubConfig{}, fmt.Errorf("hub session: %w", err)
		}
		if err := sess.ValidateServerTransport(); err != nil {
			return node.HubConfig{}, fmt.Errorf("hub session: %w", err)
		}
		cfg.Session = sess
	}
	return cfg, nil
}
