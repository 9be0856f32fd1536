// Package config holds the peer and signaling server settings.
//
// Values resolve as defaults, then QUICSHARE_* environment variables, then
// command-line flags. Callers apply the environment before binding flags so
// that flag defaults already reflect it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/sheerbytes/quicshare/internal/candidate"
	"github.com/sheerbytes/quicshare/internal/connect"
	"github.com/sheerbytes/quicshare/internal/transfer"
)

const envPrefix = "QUICSHARE_"

// PeerConfig holds configuration for the quicshare peer.
type PeerConfig struct {
	SignalURL   string
	LogLevel    string
	StunServers []string
	// Port fixes the responder's UDP port; 0 lets the OS choose.
	Port        int
	PoolSize    int
	OutDir      string
	AutoAccept  bool
	RaceTimeout time.Duration
	ChunkSize   int
}

// DefaultPeerConfig returns the built-in peer defaults.
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		SignalURL:   "http://localhost:8080",
		LogLevel:    "info",
		StunServers: append([]string(nil), candidate.DefaultStunServers...),
		PoolSize:    candidate.DefaultPoolSize,
		OutDir:      ".",
		RaceTimeout: connect.DefaultRaceTimeout,
		ChunkSize:   transfer.DefaultChunkSize,
	}
}

// ApplyEnv overrides fields from QUICSHARE_* variables read through getenv.
func (c *PeerConfig) ApplyEnv(getenv func(string) string) error {
	e := envReader{getenv: getenv}
	e.setString("SIGNAL_URL", &c.SignalURL)
	e.setString("LOG_LEVEL", &c.LogLevel)
	e.setList("STUN_SERVERS", &c.StunServers)
	e.setInt("PORT", &c.Port)
	e.setInt("POOL_SIZE", &c.PoolSize)
	e.setString("OUT_DIR", &c.OutDir)
	e.setBool("AUTO_ACCEPT", &c.AutoAccept)
	e.setDuration("RACE_TIMEOUT", &c.RaceTimeout)
	e.setInt("CHUNK_SIZE", &c.ChunkSize)
	return e.err()
}

// BindFlags registers the peer flags on fs, defaulting to the current values.
func (c *PeerConfig) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.SignalURL, "signal-url", c.SignalURL, "signaling server URL")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringSliceVar(&c.StunServers, "stun", c.StunServers, "STUN servers (host:port, repeatable)")
	fs.IntVar(&c.Port, "port", c.Port, "fixed UDP port when hosting (0 = any)")
	fs.IntVar(&c.PoolSize, "pool-size", c.PoolSize, "minimum number of UDP ports reserved when joining")
	fs.StringVarP(&c.OutDir, "out", "o", c.OutDir, "directory for received files")
	fs.BoolVarP(&c.AutoAccept, "yes", "y", c.AutoAccept, "accept incoming files without asking")
	fs.DurationVar(&c.RaceTimeout, "race-timeout", c.RaceTimeout, "how long to try candidate endpoints")
	fs.IntVar(&c.ChunkSize, "chunk-size", c.ChunkSize, "transfer chunk size in bytes")
}

// Validate reports the first invalid setting.
func (c PeerConfig) Validate() error {
	if err := validateURL(c.SignalURL); err != nil {
		return err
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.PoolSize < 1 || c.PoolSize > 64 {
		return fmt.Errorf("pool size %d out of range (1..64)", c.PoolSize)
	}
	if c.RaceTimeout <= 0 {
		return errors.New("race timeout must be positive")
	}
	if c.ChunkSize < 4*1024 || c.ChunkSize > transfer.MaxFrameLength*16 {
		return fmt.Errorf("chunk size %d out of range", c.ChunkSize)
	}
	if strings.TrimSpace(c.OutDir) == "" {
		return errors.New("output directory must not be empty")
	}
	return nil
}

// ServerConfig holds configuration for the signaling server.
type ServerConfig struct {
	Addr     string
	LogLevel string
	RoomTTL  time.Duration
	// ConnectRate is the sustained per-IP websocket connect rate per second.
	ConnectRate     float64
	ConnectBurst    int
	MaxMessageBytes int64
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		LogLevel:        "info",
		RoomTTL:         10 * time.Minute,
		ConnectRate:     1,
		ConnectBurst:    10,
		MaxMessageBytes: 64 * 1024,
	}
}

// ApplyEnv overrides fields from QUICSHARE_* variables read through getenv.
func (c *ServerConfig) ApplyEnv(getenv func(string) string) error {
	e := envReader{getenv: getenv}
	e.setString("ADDR", &c.Addr)
	e.setString("LOG_LEVEL", &c.LogLevel)
	e.setDuration("ROOM_TTL", &c.RoomTTL)
	e.setFloat("CONNECT_RATE", &c.ConnectRate)
	e.setInt("CONNECT_BURST", &c.ConnectBurst)
	e.setInt64("MAX_MESSAGE_BYTES", &c.MaxMessageBytes)
	return e.err()
}

// BindFlags registers the server flags on fs.
func (c *ServerConfig) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.DurationVar(&c.RoomTTL, "room-ttl", c.RoomTTL, "how long a room lives")
	fs.Float64Var(&c.ConnectRate, "connect-rate", c.ConnectRate, "websocket connects per second per IP")
	fs.IntVar(&c.ConnectBurst, "connect-burst", c.ConnectBurst, "websocket connect burst per IP")
	fs.Int64Var(&c.MaxMessageBytes, "max-message-bytes", c.MaxMessageBytes, "largest accepted signaling message")
}

// Validate reports the first invalid setting.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("listen address must not be empty")
	}
	if c.RoomTTL <= 0 {
		return errors.New("room TTL must be positive")
	}
	if c.ConnectRate <= 0 || c.ConnectBurst < 1 {
		return errors.New("connect rate and burst must be positive")
	}
	if c.MaxMessageBytes < 1024 {
		return fmt.Errorf("max message bytes %d too small", c.MaxMessageBytes)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid signal URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid signal URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("signal URL has no host")
	}
	return nil
}

// envReader collects parse errors while reading variables.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) lookup(name string) (string, bool) {
	if e.getenv == nil {
		return "", false
	}
	v := strings.TrimSpace(e.getenv(envPrefix + name))
	return v, v != ""
}

func (e *envReader) fail(name string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

func (e *envReader) setString(name string, dst *string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *envReader) setList(name string, dst *[]string) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) setInt(name string, dst *int) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setInt64(name string, dst *int64) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(name string, dst *float64) {
	if v, ok := e.lookup(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(name string, dst *bool) {
	if v, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(name string, dst *time.Duration) {
	if v, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}
