package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"ascend/internal/domain"
)

const fileName = "ascend.yml"

// Config models ascend.yml.
type Config struct {
	Game struct {
		StartLevel       int                `yaml:"start_level"`
		LevelTitle       string             `yaml:"level_title"`
		Constraints      domain.Constraints `yaml:"constraints"`
		UnlockedApps     []string           `yaml:"unlocked_apps"`
		UnlockedContacts []string           `yaml:"unlocked_contacts"`
	} `yaml:"game"`
	Dialogue Dialogue `yaml:"dialogue"`
	Content  struct {
		Dir   string `yaml:"dir"`
		Watch bool   `yaml:"watch"`
	} `yaml:"content"`
	Server struct {
		Addr           string   `yaml:"addr"`
		BasePath       string   `yaml:"base_path"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Logging Logging `yaml:"logging"`
	Storage struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"storage"`
}

// Dialogue holds traversal timing. Delays are scaled by TimeScale;
// a zero scale makes every reveal immediate.
type Dialogue struct {
	DefaultRevealDelayMs   int     `yaml:"default_reveal_delay_ms"`
	AutoAdvanceDelayMs     int     `yaml:"auto_advance_delay_ms"`
	NotificationDurationMs int     `yaml:"notification_duration_ms"`
	TimeScale              float64 `yaml:"time_scale"`
	Strict                 bool    `yaml:"strict"`
}

// Scale converts a content delay in milliseconds into a wall-clock duration.
func (d Dialogue) Scale(ms int) time.Duration {
	if ms <= 0 || d.TimeScale <= 0 {
		return 0
	}
	return time.Duration(float64(ms) * d.TimeScale * float64(time.Millisecond))
}

// AutoAdvanceDelay is the fixed pause between an auto-advancing node and its target.
func (d Dialogue) AutoAdvanceDelay() time.Duration {
	return d.Scale(d.AutoAdvanceDelayMs)
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ascend config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Game.StartLevel < 0 {
		return fmt.Errorf("config.game.start_level must be >= 0")
	}
	for _, m := range domain.Metrics {
		v := c.Game.Constraints.Get(m)
		if v < 0 || v > 100 {
			return fmt.Errorf("config.game.constraints.%s must be within [0,100], got %d", m, v)
		}
	}
	for _, id := range c.Game.UnlockedApps {
		if id == "" {
			return fmt.Errorf("config.game.unlocked_apps contains empty app id")
		}
	}
	for _, id := range c.Game.UnlockedContacts {
		if id == "" {
			return fmt.Errorf("config.game.unlocked_contacts contains empty contact id")
		}
	}
	if c.Dialogue.DefaultRevealDelayMs < 0 {
		return fmt.Errorf("config.dialogue.default_reveal_delay_ms must be >= 0")
	}
	if c.Dialogue.AutoAdvanceDelayMs < 0 {
		return fmt.Errorf("config.dialogue.auto_advance_delay_ms must be >= 0")
	}
	if c.Dialogue.NotificationDurationMs < 0 {
		return fmt.Errorf("config.dialogue.notification_duration_ms must be >= 0")
	}
	if c.Dialogue.TimeScale < 0 {
		return fmt.Errorf("config.dialogue.time_scale must be >= 0")
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.logging.format must be json or console")
	}
	if c.Server.BasePath != "" && c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
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
  start_level: 1
  level_title: "The Handover"
  constraints:
    schedule: 100
    budget: 100
    morale: 100
    scope: 50
  unlocked_apps: [chatter, email]
  unlocked_contacts: [contact_vane]

dialogue:
  default_reveal_delay_ms: 1000
  auto_advance_delay_ms: 500
  notification_duration_ms: 5000
  time_scale: 1
  strict: false

content:
  dir: ""
  watch: false

server:
  addr: ":8080"
  base_path: /v0
  allowed_origins: []

logging:
  level: info
  format: console

storage:
  enabled: true
`
