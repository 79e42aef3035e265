// Package config holds the collaboration bridge configuration.
//
// A Config is assembled from built-in defaults, an optional TOML or YAML
// file and KEYSTORM_COLLAB_* environment variables, in increasing order
// of precedence. Command-line flags are applied by the caller on top of
// the loaded value.
//
//	[server]
//	host = "localhost:50053"
//	username = "alice"
//
//	[sync]
//	wait_for_ack = true
//	auto_create = false
//
//	[presence]
//	palette = ["red", "green", "blue"]
package config

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/keystorm-collab/internal/config/loader"
	"github.com/dshills/keystorm-collab/internal/logging"
	"github.com/dshills/keystorm-collab/internal/presence"
	"github.com/dshills/keystorm-collab/internal/remote"
)

// DefaultHost is the server address used when none is configured.
const DefaultHost = "loopback"

// DefaultOutboundQueue is the per-buffer outbound queue capacity.
const DefaultOutboundQueue = 64

// Config is the complete bridge configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Sync     SyncConfig     `toml:"sync" yaml:"sync"`
	Presence PresenceConfig `toml:"presence" yaml:"presence"`
	Logging  LoggingConfig  `toml:"logging" yaml:"logging"`
}

// ServerConfig identifies the collaboration server and the local user.
type ServerConfig struct {
	Host     string `toml:"host" yaml:"host"`
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
}

// SyncConfig controls the buffer synchronization paths.
type SyncConfig struct {
	// WaitForAck makes the local change listener block until the remote
	// service acknowledges the outbound delta.
	WaitForAck bool `toml:"wait_for_ack" yaml:"wait_for_ack"`

	// AutoCreate creates missing buffers on attach.
	AutoCreate bool `toml:"auto_create" yaml:"auto_create"`

	// TempDir is the parent of workspace temp roots. Empty means os.TempDir.
	TempDir string `toml:"temp_dir" yaml:"temp_dir"`

	// OutboundQueue bounds pending outbound deltas per buffer.
	OutboundQueue int `toml:"outbound_queue" yaml:"outbound_queue"`
}

// PresenceConfig controls remote cursor rendering.
type PresenceConfig struct {
	Palette []string `toml:"palette" yaml:"palette"`
}

// LoggingConfig controls the logger.
type LoggingConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
		},
		Sync: SyncConfig{
			WaitForAck:    true,
			OutboundQueue: DefaultOutboundQueue,
		},
		Presence: PresenceConfig{
			Palette: append([]string(nil), presence.DefaultColorNames...),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.Presence.Palette = append([]string(nil), c.Presence.Palette...)
	return &out
}

// Remote returns the connection parameters for the remote service.
func (c *Config) Remote() remote.Config {
	return remote.Config{
		Host:     c.Server.Host,
		Username: c.Server.Username,
		Password: c.Server.Password,
	}
}

// LogLevel returns the configured log level, falling back to Info.
func (c *Config) LogLevel() logging.Level {
	level, ok := logging.ParseLevel(c.Logging.Level)
	if !ok {
		return logging.LevelInfo
	}
	return level
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.Server.Host == "" {
		errs.Add("server.host", "must not be empty")
	}
	if c.Sync.OutboundQueue < 1 {
		errs.Add("sync.outbound_queue", "must be at least 1, got %d", c.Sync.OutboundQueue)
	}
	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		errs.Add("logging.level", "unknown level %q", c.Logging.Level)
	}
	if len(c.Presence.Palette) == 0 {
		errs.Add("presence.palette", "must not be empty")
	} else if _, err := presence.ParsePalette(c.Presence.Palette); err != nil {
		errs.Add("presence.palette", "%v", err)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Options configures Load.
type Options struct {
	// FS is the file system used to read the config file.
	FS loader.FileSystem

	// Env loads environment overrides. Nil disables them.
	Env loader.Loader
}

// DefaultOptions reads from the OS file system and environment.
func DefaultOptions() Options {
	return Options{
		FS:  loader.DefaultFS(),
		Env: loader.NewEnvLoader(loader.DefaultEnvPrefix),
	}
}

// Load builds a configuration from defaults, the file at path (optional,
// skipped when empty or missing) and the environment, then validates it.
func Load(path string) (*Config, error) {
	return LoadWith(path, DefaultOptions())
}

// LoadWith is Load with explicit sources.
func LoadWith(path string, opts Options) (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	if path != "" {
		fl, err := loader.ForPath(opts.FS, path)
		if err != nil {
			return nil, err
		}
		fileData, err := fl.Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, fileData)
	}

	if opts.Env != nil {
		envData, err := opts.Env.Load()
		if err != nil {
			return nil, fmt.Errorf("loading environment: %w", err)
		}
		merged = loader.DeepMerge(merged, envData)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func toMap(c *Config) (map[string]any, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := toml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}
