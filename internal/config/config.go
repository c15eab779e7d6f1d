package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const fileName = "taskboard.yml"

// Config models taskboard.yml.
type Config struct {
	API struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"api"`
	Channel struct {
		// URL of the push channel; empty means /ws on the API host.
		URL                     string `yaml:"url"`
		HandshakeTimeoutSeconds int    `yaml:"handshake_timeout_seconds"`
	} `yaml:"channel"`
	Session struct {
		ValidateOnStart bool `yaml:"validate_on_start"`
	} `yaml:"session"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tb config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
		return Default(), nil
	}
	return nil, err
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("config.api.base_url is required")
	}
	if err := checkURL("config.api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.API.TimeoutSeconds < 0 {
		return fmt.Errorf("config.api.timeout_seconds must not be negative")
	}
	if c.Channel.URL != "" {
		if err := checkURL("config.channel.url", c.Channel.URL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.Channel.HandshakeTimeoutSeconds < 0 {
		return fmt.Errorf("config.channel.handshake_timeout_seconds must not be negative")
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %s URL", key, strings.Join(schemes, " or "))
}

// APITimeout is the REST request timeout.
func (c *Config) APITimeout() time.Duration {
	if c.API.TimeoutSeconds == 0 {
		return 10 * time.Second
	}
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c *Config) HandshakeTimeout() time.Duration {
	if c.Channel.HandshakeTimeoutSeconds == 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Channel.HandshakeTimeoutSeconds) * time.Second
}

// ChannelURL returns the configured push channel URL, or /ws on the API
// host with the matching websocket scheme.
func (c *Config) ChannelURL() string {
	if c.Channel.URL != "" {
		return c.Channel.URL
	}
	return DeriveChannelURL(c.API.BaseURL)
}

// DeriveChannelURL maps http(s)://host/... to ws(s)://host/ws.
func DeriveChannelURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: "/ws"}).String()
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// GenerateDefault returns default config YAML for apiURL.
func GenerateDefault(apiURL string) string {
	return fmt.Sprintf(defaultTemplate, apiURL)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(DefaultAPIURL))).Decode(&cfg)
	return &cfg
}

// DefaultAPIURL is where the task API listens in a local setup.
const DefaultAPIURL = "http://localhost:5000/api"

// FromYAML parses and validates config from raw YAML bytes. Keys left out
// keep their default values.
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

// Write stores cfg as the workspace config.
func Write(workspace string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(workspace), data, 0o644)
}

const defaultTemplate = `api:
  base_url: %s
  timeout_seconds: 10

channel:
  # empty: /ws on the API host
  url: ""
  handshake_timeout_seconds: 10

session:
  validate_on_start: false
`
