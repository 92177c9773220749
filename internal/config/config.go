// Package config provides configuration management for the aesdsocket
// server, in the shape of the teacher's internal/config: a struct with
// JSON load/save and a DefaultConfig constructor, overridable by flags and
// environment variables in cmd/aesdsocket.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
)

// Config holds the aesdsocket server configuration.
type Config struct {
	// Addr is the TCP listen address (spec §6: port 9000, IPv4).
	Addr string `json:"addr"`

	// LogLevel selects the slog level: debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// MirrorPath is the on-disk file the log device mirrors appends to
	// (spec §6's "Persisted state"). Empty disables the mirror.
	MirrorPath string `json:"mirror_path"`

	// ChunkSize is the read/recv chunk size (spec §4.4's BUF constant),
	// expressed as a human-readable size ("1KB", "1024").
	ChunkSize datasize.ByteSize `json:"chunk_size"`

	// InjectorInterval is the timestamp injector's period (spec §4.5's
	// INTERVAL constant).
	InjectorInterval time.Duration `json:"injector_interval"`

	// CharDeviceMode models the log backend being the external character
	// device (spec §4.5/§6): when true, the timestamp injector and the
	// on-disk mirror are both skipped, since the character device is its
	// own canonical, self-lifecycled log.
	CharDeviceMode bool `json:"char_device_mode"`
}

// DefaultAddr, DefaultMirrorPath, DefaultChunkSize and
// DefaultInjectorInterval mirror the constants named in spec.md (port
// 9000, /var/tmp/aesdsocketdata, BUF=1024, INTERVAL=10s).
const (
	DefaultAddr             = ":9000"
	DefaultMirrorPath       = "/var/tmp/aesdsocketdata"
	DefaultChunkSize        = 1024 * datasize.B
	DefaultInjectorInterval = 10 * time.Second
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:             DefaultAddr,
		LogLevel:         "info",
		MirrorPath:       DefaultMirrorPath,
		ChunkSize:        DefaultChunkSize,
		InjectorInterval: DefaultInjectorInterval,
		CharDeviceMode:   false,
	}
}

// Load loads configuration from a JSON file, falling back to defaults for
// any field the file does not set and returning DefaultConfig unchanged if
// path does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a JSON file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EnvOrDefault returns the environment variable value if set, otherwise
// the fallback — the helper cmd/aesdsocket uses for the defaults of its
// string flags (addr, mirror, loglevel).
func EnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
