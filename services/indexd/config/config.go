package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for indexd.
type Config struct {
	ListenAddress string     `yaml:"listen"`
	DatabasePath  string     `yaml:"database"`
	Node          NodeConfig `yaml:"node"`
}

// NodeConfig describes the upstream node event stream.
type NodeConfig struct {
	WebsocketURL string   `yaml:"websocket_url"`
	Reconnect    Duration `yaml:"reconnect"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7410"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "indexd.db"
	}
	if cfg.Node.WebsocketURL == "" {
		cfg.Node.WebsocketURL = "ws://127.0.0.1:8080/ws/events"
	}
	if cfg.Node.Reconnect.Duration <= 0 {
		cfg.Node.Reconnect.Duration = 5 * time.Second
	}
}

func validate(cfg Config) error {
	parsed, err := url.Parse(cfg.Node.WebsocketURL)
	if err != nil {
		return fmt.Errorf("parse node websocket url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("node websocket url must use ws or wss scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("node websocket url must include a host")
	}
	return nil
}
