// Package config provides YAML-based configuration loading for the client.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root client configuration. The Open-frame values are static
// per connection; changing them never changes the state machine's logic.
type Config struct {
	// ContainerID identifies this client in the Open frame. Empty means
	// generate one per connection.
	ContainerID string `mapstructure:"container_id"`

	// Hostname sent in the Open frame. Empty means use the dialed host.
	Hostname string `mapstructure:"hostname"`

	// MaxFrameSize advertised to the peer.
	MaxFrameSize uint32 `mapstructure:"max_frame_size"`

	// ChannelMax bounds the number of channels admitted on one connection.
	// It is advertised in the Open frame and enforced locally by admission.
	ChannelMax uint16 `mapstructure:"channel_max"`

	// IdleTimeoutMS advertised in the Open frame; 0 disables idle timeout.
	IdleTimeoutMS uint32 `mapstructure:"idle_timeout_ms"`

	// Properties advertised in the Open frame properties map.
	Properties Properties `mapstructure:"properties"`

	// Transport selects the link kind.
	Transport TransportConfig `mapstructure:"transport"`

	// Log holds logging configuration.
	Log LogConfig `mapstructure:"log"`
}

// Properties are the product strings advertised to the peer.
type Properties struct {
	Product  string `mapstructure:"product"`
	Version  string `mapstructure:"version"`
	Platform string `mapstructure:"platform"`
}

// TransportConfig selects and tunes the outbound link.
type TransportConfig struct {
	// Kind: tcp or quic.
	Kind string `mapstructure:"kind"`
	// DialTimeoutMS bounds connection establishment; 0 means no limit.
	DialTimeoutMS int `mapstructure:"dial_timeout_ms"`
	// InsecureSkipVerify disables TLS verification for the quic kind.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		MaxFrameSize:  131072,
		ChannelMax:    100,
		IdleTimeoutMS: 0,
		Properties: Properties{
			Product:  "rabbitmq-amqp1.0-client",
			Version:  "0.1.0",
			Platform: runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH,
		},
		Transport: TransportConfig{Kind: "tcp", DialTimeoutMS: 10000},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/amqp-client.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty), otherwise
// it searches common locations and supports environment overrides. Environment
// variables use the prefix AMQP and `.`/`-` are replaced with `_`.
// Example: AMQP_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AMQP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("container_id", cfg.ContainerID)
	v.SetDefault("hostname", cfg.Hostname)
	v.SetDefault("max_frame_size", cfg.MaxFrameSize)
	v.SetDefault("channel_max", cfg.ChannelMax)
	v.SetDefault("idle_timeout_ms", cfg.IdleTimeoutMS)
	v.SetDefault("properties.product", cfg.Properties.Product)
	v.SetDefault("properties.version", cfg.Properties.Version)
	v.SetDefault("properties.platform", cfg.Properties.Platform)
	v.SetDefault("transport.kind", cfg.Transport.Kind)
	v.SetDefault("transport.dial_timeout_ms", cfg.Transport.DialTimeoutMS)
	v.SetDefault("transport.insecure_skip_verify", cfg.Transport.InsecureSkipVerify)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		if envPath := os.Getenv("AMQP_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("amqp-client")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".amqp-client"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	switch c.Transport.Kind {
	case "", "tcp":
		c.Transport.Kind = "tcp"
	case "quic":
	default:
		return fmt.Errorf("invalid transport.kind: %q", c.Transport.Kind)
	}

	if c.ChannelMax == 0 {
		return errors.New("channel_max must be at least 1")
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
