package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw    string
		want   zerolog.Level
		wantOK bool
	}{
		{raw: "", want: zerolog.InfoLevel, wantOK: false},
		{raw: "debug", want: zerolog.DebugLevel, wantOK: true},
		{raw: " WARNING ", want: zerolog.WarnLevel, wantOK: true},
		{raw: "off", want: zerolog.Disabled, wantOK: true},
		{raw: "loud", want: zerolog.InfoLevel, wantOK: false},
	}
	for _, tc := range tests {
		got, ok := parseLevel(tc.raw)
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("parseLevel(%q): expected (%v,%v), got (%v,%v)", tc.raw, tc.want, tc.wantOK, got, ok)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogBypass, "not-a-bool")

	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel {
		t.Fatalf("expected error level, got %v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatalf("expected timestamp disabled")
	}
	if !cfg.NoColor {
		t.Fatalf("expected no color")
	}
	if cfg.Bypass {
		t.Fatalf("expected invalid bypass value to be ignored")
	}
}

func TestNewLoggerWritesAndBypasses(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: zerolog.InfoLevel, NoColor: true, Out: &buf})
	logger.Info().Str("channel", "channel-0").Msg("hub.ChannelConnect registered")
	logger.Debug().Msg("dropped")
	out := buf.String()
	if !strings.Contains(out, "hub.ChannelConnect registered") || !strings.Contains(out, "channel=channel-0") {
		t.Fatalf("unexpected log output: %q", out)
	}
	if strings.Contains(out, "dropped") {
		t.Fatalf("expected debug entry filtered, got %q", out)
	}

	buf.Reset()
	nop := NewLogger(Config{Level: zerolog.DebugLevel, Bypass: true, Out: &buf})
	nop.Info().Msg("silent")
	if buf.Len() != 0 {
		t.Fatalf("expected bypass logger to write nothing, got %q", buf.String())
	}
}
