package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/relaychat/internal/node"
	"github.com/danmuck/relaychat/internal/protocol/session"
)

func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

// Apply overlays every set field onto base.
func (c SessionConfig) Apply(base session.Config) (session.Config, error) {
	if v := strings.TrimSpace(c.Transport); v != "" {
		base.Transport = session.TransportKind(strings.ToLower(v))
	}
	if v := strings.TrimSpace(c.SecurityMode); v != "" {
		base.SecurityMode = session.SecurityMode(v)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", c.ConnectTimeout, &base.ConnectTimeout},
		{"handshake_timeout", c.HandshakeTimeout, &base.HandshakeTimeout},
		{"write_timeout", c.WriteTimeout, &base.WriteTimeout},
		{"idle_timeout", c.IdleTimeout, &base.IdleTimeout},
		{"sweep_interval", c.SweepInterval, &base.SweepInterval},
		{"backoff.initial_delay", c.Backoff.InitialDelay, &base.Backoff.InitialDelay},
		{"backoff.max_delay", c.Backoff.MaxDelay, &base.Backoff.MaxDelay},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.raw)
		if err != nil {
			return session.Config{}, err
		}
		if v > 0 {
			*d.dst = v
		}
	}
	if c.Backoff.Multiplier > 0 {
		base.Backoff.Multiplier = c.Backoff.Multiplier
	}
	if c.Backoff.Jitter != nil {
		base.Backoff.Jitter = *c.Backoff.Jitter
	}
	if c.TLS != (session.TLSConfig{}) {
		base.TLS = c.TLS
	}
	return base.WithDefaults(), nil
}

// Node converts a validated hub file into daemon settings.
func (c HubConfig) Node() (node.HubConfig, error) {
	out := node.DefaultHubConfig()
	setString(&out.NodeID, c.ID)
	setString(&out.PortID, c.PortID)
	setString(&out.ListenAddr, c.ListenAddr)
	setString(&out.HTTPAddr, c.HTTPAddr)
	out.CORSOrigins = c.CorsOrigins
	out.JoinToken = c.JoinToken
	out.JoinTokenHash = c.JoinTokenHash
	out.Advertise = c.Advertise
	if strings.TrimSpace(c.Store.Backend) != "" {
		out.Store = c.Store
	}
	sess, err := c.Session.Apply(out.Session)
	if err != nil {
		return node.HubConfig{}, err
	}
	out.Session = sess
	return out, nil
}

// Node converts a validated spoke file into daemon settings.
func (c SpokeConfig) Node() (node.SpokeConfig, error) {
	out := node.DefaultSpokeConfig()
	setString(&out.NodeID, c.ID)
	setString(&out.Network, c.Network)
	setString(&out.PortID, c.PortID)
	out.HubAddr = strings.TrimSpace(c.HubAddr)
	out.Discover = c.Discover
	out.HubName = strings.TrimSpace(c.HubName)
	d, err := parseDuration("discover_timeout", c.DiscoverTimeout)
	if err != nil {
		return node.SpokeConfig{}, err
	}
	if d > 0 {
		out.DiscoverTimeout = d
	}
	setString(&out.HTTPAddr, c.HTTPAddr)
	out.CORSOrigins = c.CorsOrigins
	out.JoinToken = c.JoinToken
	out.APIToken = c.APIToken
	out.APITokenHash = c.APITokenHash
	out.MaxConnectAttempts = c.MaxConnectAttempts
	if strings.TrimSpace(c.Store.Backend) != "" {
		out.Store = c.Store
	}
	sess, err := c.Session.Apply(out.Session)
	if err != nil {
		return node.SpokeConfig{}, err
	}
	out.Session = sess
	return out, nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
