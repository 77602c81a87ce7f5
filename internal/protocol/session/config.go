package session

import (
	"strings"
	"time"
)

// SecurityMode selects how strict the transport security checks are.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TransportKind is the byte stream a link runs over.
type TransportKind string

const (
	TransportQUIC TransportKind = "quic"
	TransportTCP  TransportKind = "tcp"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay"`
	Multiplier   float64       `toml:"multiplier"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Jitter       bool          `toml:"jitter"`
}

// TLSConfig names certificate material for a link endpoint.
type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// Config defines link timing and transport defaults.
type Config struct {
	Transport        TransportKind `toml:"transport"`
	SecurityMode     SecurityMode  `toml:"security_mode"`
	ConnectTimeout   time.Duration `toml:"connect_timeout"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`
	WriteTimeout     time.Duration `toml:"write_timeout"`
	IdleTimeout      time.Duration `toml:"idle_timeout"`
	SweepInterval    time.Duration `toml:"sweep_interval"`
	Backoff          BackoffConfig `toml:"backoff"`
	TLS              TLSConfig     `toml:"tls"`
}

func DefaultConfig() Config {
	return Config{
		Transport:        TransportQUIC,
		SecurityMode:     SecurityModeDevelopment,
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      5 * time.Minute,
		SweepInterval:    time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     10 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills every zero field from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(string(c.Transport)) == "" {
		c.Transport = def.Transport
	}
	c.Transport = TransportKind(strings.ToLower(strings.TrimSpace(string(c.Transport))))
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
