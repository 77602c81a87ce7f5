package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "hub":
		return hubTemplate, nil
	case "spoke":
		return spokeTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const hubTemplate = `id = "hub"
port_id = "wasm.hub"
listen_addr = ":7443"
http_addr = ":8080"
cors_origins = ["http://localhost:3000"]
join_token = "change-me"
advertise = true

[store]
backend = "sqlite"
path = "local/hub.db"

[session]
transport = "quic"
security_mode = "development"
handshake_timeout = "5s"
write_timeout = "10s"
idle_timeout = "5m"
sweep_interval = "1s"
`

const spokeTemplate = `id = "neutron"
network = "neutron"
hub_addr = "127.0.0.1:7443"
discover = false
http_addr = ":8081"
cors_origins = ["http://localhost:3000"]
join_token = "change-me"
api_token = "change-me-too"
max_connect_attempts = 0

[store]
backend = "sqlite"
path = "local/neutron.db"

[session]
transport = "quic"
security_mode = "development"
connect_timeout = "5s"

[session.backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "10s"
jitter = true
`
