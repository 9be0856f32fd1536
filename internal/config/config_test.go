package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func parsePeer(t *testing.T, env map[string]string, args ...string) PeerConfig {
	t.Helper()
	cfg := DefaultPeerConfig()
	if err := cfg.ApplyEnv(envMap(env)); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func parseServer(t *testing.T, env map[string]string, args ...string) ServerConfig {
	t.Helper()
	cfg := DefaultServerConfig()
	if err := cfg.ApplyEnv(envMap(env)); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func TestPeerConfig_Defaults(t *testing.T) {
	cfg := parsePeer(t, nil)

	if cfg.SignalURL != "http://localhost:8080" {
		t.Errorf("expected default signal URL, got %s", cfg.SignalURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %s", cfg.LogLevel)
	}
	if cfg.Port != 0 {
		t.Errorf("expected Port 0, got %d", cfg.Port)
	}
	if cfg.PoolSize != 5 {
		t.Errorf("expected PoolSize 5, got %d", cfg.PoolSize)
	}
	if cfg.RaceTimeout != 10*time.Second {
		t.Errorf("expected RaceTimeout 10s, got %s", cfg.RaceTimeout)
	}
	if len(cfg.StunServers) == 0 {
		t.Error("expected default STUN servers")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestPeerConfig_EnvFallback(t *testing.T) {
	cfg := parsePeer(t, map[string]string{
		"QUICSHARE_SIGNAL_URL":   "https://signal.example.com",
		"QUICSHARE_PORT":         "55441",
		"QUICSHARE_STUN_SERVERS": "a.example:3478, b.example:3478",
		"QUICSHARE_AUTO_ACCEPT":  "true",
		"QUICSHARE_RACE_TIMEOUT": "3s",
	})

	if cfg.SignalURL != "https://signal.example.com" {
		t.Errorf("expected env signal URL, got %s", cfg.SignalURL)
	}
	if cfg.Port != 55441 {
		t.Errorf("expected Port 55441, got %d", cfg.Port)
	}
	if len(cfg.StunServers) != 2 || cfg.StunServers[1] != "b.example:3478" {
		t.Errorf("unexpected STUN servers %v", cfg.StunServers)
	}
	if !cfg.AutoAccept {
		t.Error("expected AutoAccept from env")
	}
	if cfg.RaceTimeout != 3*time.Second {
		t.Errorf("expected RaceTimeout 3s, got %s", cfg.RaceTimeout)
	}
}

func TestPeerConfig_FlagsOverrideEnv(t *testing.T) {
	cfg := parsePeer(t,
		map[string]string{"QUICSHARE_PORT": "55441", "QUICSHARE_LOG_LEVEL": "warn"},
		"--port", "6000", "--log-level", "debug", "-y", "-o", "/tmp/in",
	)

	if cfg.Port != 6000 {
		t.Errorf("expected Port 6000 (from flag), got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel debug (from flag), got %s", cfg.LogLevel)
	}
	if !cfg.AutoAccept {
		t.Error("expected AutoAccept from -y")
	}
	if cfg.OutDir != "/tmp/in" {
		t.Errorf("expected OutDir /tmp/in, got %s", cfg.OutDir)
	}
}

func TestPeerConfig_BadEnv(t *testing.T) {
	cfg := DefaultPeerConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"QUICSHARE_PORT":         "many",
		"QUICSHARE_RACE_TIMEOUT": "soon",
	}))
	if err == nil {
		t.Fatal("expected error for malformed env values")
	}
}

func TestPeerConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PeerConfig)
	}{
		{"bad scheme", func(c *PeerConfig) { c.SignalURL = "ftp://x" }},
		{"no host", func(c *PeerConfig) { c.SignalURL = "http://" }},
		{"port range", func(c *PeerConfig) { c.Port = 70000 }},
		{"pool size", func(c *PeerConfig) { c.PoolSize = 0 }},
		{"race timeout", func(c *PeerConfig) { c.RaceTimeout = 0 }},
		{"chunk size", func(c *PeerConfig) { c.ChunkSize = 1 }},
		{"out dir", func(c *PeerConfig) { c.OutDir = " " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPeerConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestServerConfig_Defaults(t *testing.T) {
	cfg := parseServer(t, nil)

	if cfg.Addr != ":8080" {
		t.Errorf("expected Addr :8080, got %s", cfg.Addr)
	}
	if cfg.RoomTTL != 10*time.Minute {
		t.Errorf("expected RoomTTL 10m, got %s", cfg.RoomTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestServerConfig_EnvAndFlags(t *testing.T) {
	cfg := parseServer(t,
		map[string]string{"QUICSHARE_ADDR": ":7070", "QUICSHARE_ROOM_TTL": "1m", "QUICSHARE_CONNECT_BURST": "3"},
		"--addr", ":9090",
	)

	if cfg.Addr != ":9090" {
		t.Errorf("expected Addr :9090 (from flag), got %s", cfg.Addr)
	}
	if cfg.RoomTTL != time.Minute {
		t.Errorf("expected RoomTTL 1m (from env), got %s", cfg.RoomTTL)
	}
	if cfg.ConnectBurst != 3 {
		t.Errorf("expected ConnectBurst 3, got %d", cfg.ConnectBurst)
	}
}

func TestServerConfig_Validate(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxMessageBytes = 10
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for tiny message limit")
	}
}
