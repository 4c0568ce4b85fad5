package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models pmsim.yml.
type Config struct {
	Game struct {
		Difficulty     string `yaml:"difficulty"`
		RandomizeStart bool   `yaml:"randomize_start"`
	} `yaml:"game"`
	Catalog struct {
		Dir string `yaml:"dir"`
	} `yaml:"catalog"`
	Server   ServerConfig    `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	BasePath      string `yaml:"base_path"`
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
}

// WebhookConfig describes one outbound delivery target for service events.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Active reports whether the hook should be dispatched.
func (w WebhookConfig) Active() bool {
	return w.Enabled == nil || *w.Enabled
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pmsim config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Game.Difficulty {
	case "", "easy", "normal", "hard":
	default:
		return fmt.Errorf("config.game.difficulty must be easy, normal or hard")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.TokenTTLHours < 0 {
		return fmt.Errorf("config.server.token_ttl_hours must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, evt := range hook.Events {
			if evt == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event type", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pmsim.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `game:
  difficulty: normal
  randomize_start: true

catalog:
  # Directory with tickets.json, events.json and narratives.json.
  # Empty uses the built-in catalog.
  dir: ""

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""
  token_ttl_hours: 720

webhooks: []
`
