package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ModeProduction = "production"
	ModeDemo       = "demo"
)

// Config models opcopilot.yml.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Data    DataConfig    `yaml:"data"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Intents IntentsConfig `yaml:"intents"`
}

// EngineConfig holds the scheduling and classification policy.
type EngineConfig struct {
	Mode                    string  `yaml:"mode"`
	MaxPhases               int     `yaml:"max_phases"`
	StagingOffsetDays       int     `yaml:"staging_offset_days"`
	DefaultDurationDays     int     `yaml:"default_duration_days"`
	REMDeviationThreshold   float64 `yaml:"rem_deviation_threshold"`
	RealizationThreshold    float64 `yaml:"realization_threshold"`
	AmendmentBudgetBaseline float64 `yaml:"amendment_budget_baseline"`
	AmendmentDelayBaseline  float64 `yaml:"amendment_delay_baseline"`
	QuickAccessSize         int     `yaml:"quick_access_size"`
	DeadlineWindowDays      int     `yaml:"deadline_window_days"`
}

type DataConfig struct {
	DemoData  string `yaml:"demo_data"`
	Templates string `yaml:"templates"`
	Watch     bool   `yaml:"watch"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
	// JWTSecret, when set, requires an HS256 bearer token on every write.
	JWTSecret string `yaml:"jwt_secret"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type IntentsConfig struct {
	SigningKey string          `yaml:"signing_key"`
	Webhooks   []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Demo reports whether synthesized phases use the presentation rotation.
func (c *Config) Demo() bool {
	return c.Engine.Mode == ModeDemo
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with opco config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Engine.Mode {
	case ModeProduction, ModeDemo:
	default:
		return fmt.Errorf("config.engine.mode must be '%s' or '%s'", ModeProduction, ModeDemo)
	}
	if c.Engine.MaxPhases < 0 {
		return fmt.Errorf("config.engine.max_phases must be >= 0")
	}
	if c.Engine.StagingOffsetDays < 0 {
		return fmt.Errorf("config.engine.staging_offset_days must be >= 0")
	}
	if c.Engine.DefaultDurationDays <= 0 {
		return fmt.Errorf("config.engine.default_duration_days must be > 0")
	}
	if c.Engine.RealizationThreshold < 0 || c.Engine.RealizationThreshold > 100 {
		return fmt.Errorf("config.engine.realization_threshold must be within [0,100]")
	}
	if c.Engine.REMDeviationThreshold < 0 {
		return fmt.Errorf("config.engine.rem_deviation_threshold must be >= 0")
	}
	if c.Engine.AmendmentBudgetBaseline < 0 || c.Engine.AmendmentDelayBaseline < 0 {
		return fmt.Errorf("config.engine amendment baselines must be >= 0")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("config.log.format must be 'console' or 'json'")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not a known level", c.Log.Level)
	}
	for i, hook := range c.Intents.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.intents.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.intents.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "opcopilot.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
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

// FromYAML parses and validates config from raw YAML bytes. Keys absent from
// the document keep their default values.
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

// DemoOverrides switches cfg to the presentation preset: capped timelines
// and rotating synthesized statuses.
func DemoOverrides(cfg *Config) {
	cfg.Engine.Mode = ModeDemo
	if cfg.Engine.MaxPhases == 0 {
		cfg.Engine.MaxPhases = 8
	}
}

const defaultTemplate = `engine:
  # production: synthesized phases start as NON_DEMARREE
  # demo: synthesized phases rotate VALIDEE, EN_COURS, EN_ATTENTE, NON_DEMARREE
  mode: production
  # 0 keeps every blueprint of the template
  max_phases: 0
  staging_offset_days: 20
  default_duration_days: 30
  rem_deviation_threshold: 2000
  realization_threshold: 95
  amendment_budget_baseline: 25000
  amendment_delay_baseline: 550
  quick_access_size: 4
  deadline_window_days: 7

data:
  # empty paths use the embedded reference dataset
  demo_data: ""
  templates: ""
  watch: false

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  # empty: writes take the actor from X-Actor-Id
  jwt_secret: ""

log:
  level: info
  format: console

intents:
  signing_key: ""
  webhooks: []
`
