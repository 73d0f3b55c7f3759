// Package config loads node configuration from an optional YAML file,
// applying defaults and validating the result. CLI flags override file
// values; that merge happens in the cli package.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr        = ":0"
	DefaultTopic             = "test-topic"
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultSeenTTL           = 2 * time.Minute
	DefaultIdleTimeout       = 60 * time.Second
)

// Duration wraps time.Duration so YAML values like "10s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type DiscoveryConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Group    string   `yaml:"group"`
	Interval Duration `yaml:"interval" validate:"gt=0"`
}

type MeshConfig struct {
	Low    int `yaml:"low" validate:"gt=0,ltefield=Target"`
	Target int `yaml:"target" validate:"ltefield=High"`
	High   int `yaml:"high"`
}

type Config struct {
	ListenAddr  string `yaml:"listen_addr" validate:"required"`
	Topic       string `yaml:"topic" validate:"required"`
	Nick        string `yaml:"nick"`
	HistoryPath string `yaml:"history_path"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	Mesh      MeshConfig      `yaml:"mesh"`

	HeartbeatInterval Duration `yaml:"heartbeat_interval" validate:"gt=0"`
	SeenTTL           Duration `yaml:"seen_ttl" validate:"gt=0"`
	IdleTimeout       Duration `yaml:"idle_timeout" validate:"gt=0"`
}

func Default() Config {
	return Config{
		ListenAddr: DefaultListenAddr,
		Topic:      DefaultTopic,
		Discovery: DiscoveryConfig{
			Enabled:  true,
			Group:    "239.41.7.53:9477",
			Interval: Duration(15 * time.Second),
		},
		Mesh: MeshConfig{
			Low:    4,
			Target: 6,
			High:   12,
		},
		HeartbeatInterval: Duration(DefaultHeartbeatInterval),
		SeenTTL:           Duration(DefaultSeenTTL),
		IdleTimeout:       Duration(DefaultIdleTimeout),
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
