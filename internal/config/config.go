package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/protocol/session"
	"github.com/danmuck/relaychat/internal/store"
	"github.com/pelletier/go-toml/v2"
)

// SessionConfig is the file form of session.Config. Durations are strings
// such as "5s" or "250ms".
type SessionConfig struct {
	Transport        string            `toml:"transport"`
	SecurityMode     string            `toml:"security_mode"`
	ConnectTimeout   string            `toml:"connect_timeout"`
	HandshakeTimeout string            `toml:"handshake_timeout"`
	WriteTimeout     string            `toml:"write_timeout"`
	IdleTimeout      string            `toml:"idle_timeout"`
	SweepInterval    string            `toml:"sweep_interval"`
	Backoff          BackoffConfig     `toml:"backoff"`
	TLS              session.TLSConfig `toml:"tls"`
}

type BackoffConfig struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       *bool   `toml:"jitter"`
}

type HubConfig struct {
	ID            string        `toml:"id"`
	PortID        string        `toml:"port_id"`
	ListenAddr    string        `toml:"listen_addr"`
	HTTPAddr      string        `toml:"http_addr"`
	CorsOrigins   []string      `toml:"cors_origins"`
	JoinToken     string        `toml:"join_token"`
	JoinTokenHash string        `toml:"join_token_hash"`
	Advertise     bool          `toml:"advertise"`
	Store         store.Config  `toml:"store"`
	Session       SessionConfig `toml:"session"`
}

type SpokeConfig struct {
	ID                 string        `toml:"id"`
	Network            string        `toml:"network"`
	PortID             string        `toml:"port_id"`
	HubAddr            string        `toml:"hub_addr"`
	Discover           bool          `toml:"discover"`
	HubName            string        `toml:"hub_name"`
	DiscoverTimeout    string        `toml:"discover_timeout"`
	HTTPAddr           string        `toml:"http_addr"`
	CorsOrigins        []string      `toml:"cors_origins"`
	JoinToken          string        `toml:"join_token"`
	APIToken           string        `toml:"api_token"`
	APITokenHash       string        `toml:"api_token_hash"`
	MaxConnectAttempts int           `toml:"max_connect_attempts"`
	Store              store.Config  `toml:"store"`
	Session            SessionConfig `toml:"session"`
}

func LoadHubConfig(path string) (HubConfig, error) {
	var cfg HubConfig
	if err := loadToml(path, &cfg); err != nil {
		return HubConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = "hub"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":7443"
	}
	if err := ValidateHubConfig(cfg); err != nil {
		return HubConfig{}, err
	}
	return cfg, nil
}

func LoadSpokeConfig(path string) (SpokeConfig, error) {
	var cfg SpokeConfig
	if err := loadToml(path, &cfg); err != nil {
		return SpokeConfig{}, err
	}
	if err := ValidateSpokeConfig(cfg); err != nil {
		return SpokeConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateHubConfig(cfg HubConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("hub config missing id")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("hub config missing listen_addr")
	}
	if err := cfg.Store.Validate(); err != nil {
		return fmt.Errorf("hub config store invalid: %w", err)
	}
	sess, err := cfg.Session.Apply(session.DefaultConfig())
	if err != nil {
		return fmt.Errorf("hub config session invalid: %w", err)
	}
	if err := sess.ValidateServerTransport(); err != nil {
		return fmt.Errorf("hub config session invalid: %w", err)
	}
	return nil
}

func ValidateSpokeConfig(cfg SpokeConfig) error {
	if _, err := chat.ParseNetworkID(cfg.Network); err != nil {
		return fmt.Errorf("spoke config network invalid: %w", err)
	}
	if strings.TrimSpace(cfg.HubAddr) == "" && !cfg.Discover {
		return fmt.Errorf("spoke config requires hub_addr or discover = true")
	}
	if cfg.MaxConnectAttempts < 0 {
		return fmt.Errorf("spoke config max_connect_attempts must be >= 0")
	}
	if _, err := parseDuration("discover_timeout", cfg.DiscoverTimeout); err != nil {
		return err
	}
	if err := cfg.Store.Validate(); err != nil {
		return fmt.Errorf("spoke config store invalid: %w", err)
	}
	sess, err := cfg.Session.Apply(session.DefaultConfig())
	if err != nil {
		return fmt.Errorf("spoke config session invalid: %w", err)
	}
	if err := sess.ValidateClientTransport(); err != nil {
		return fmt.Errorf("spoke config session invalid: %w", err)
	}
	return nil
}
