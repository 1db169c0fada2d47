package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rahul/trilha/internal/plan"
)

// EnvPrefix prefixes every environment override, e.g. TRILHA_MEMORY_PATH.
const EnvPrefix = "TRILHA"

type Config struct {
	App       AppConfig                 `mapstructure:"app" json:"app"`
	Gateways  map[string]GatewayConfig  `mapstructure:"gateways" json:"gateways"`
	Providers map[string]ProviderConfig `mapstructure:"providers" json:"providers"`
	Memory    MemoryConfig              `mapstructure:"memory" json:"memory"`
	Workflow  WorkflowConfig            `mapstructure:"workflow" json:"workflow"`
	Logging   LoggingConfig             `mapstructure:"logging" json:"logging"`
	Reminders ReminderConfig            `mapstructure:"reminders" json:"reminders"`
}

type AppConfig struct {
	Name      string `mapstructure:"name" json:"name"`
	Workspace string `mapstructure:"workspace" json:"workspace"`
}

type GatewayConfig struct {
	Token   string `mapstructure:"token" json:"token"`
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key" json:"api_key"`
	Model   string `mapstructure:"model" json:"model"`
	BaseURL string `mapstructure:"base_url" json:"base_url,omitempty"`
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
}

type MemoryConfig struct {
	Type string `mapstructure:"type" json:"type"`
	Path string `mapstructure:"path" json:"path"`
}

// WorkflowConfig tunes the dispatcher and the board.
type WorkflowConfig struct {
	CacheSize  int    `mapstructure:"cache_size" json:"cache_size"`
	DefaultDue string `mapstructure:"default_due" json:"default_due"`
	PromptsDir string `mapstructure:"prompts_dir" json:"prompts_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

type ReminderConfig struct {
	Enabled  bool          `mapstructure:"enabled" json:"enabled"`
	Interval time.Duration `mapstructure:"interval" json:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "trilha")
	v.SetDefault("app.workspace", ".")
	v.SetDefault("gateways.telegram.enabled", false)
	v.SetDefault("gateways.telegram.token", "")
	v.SetDefault("providers.openai.enabled", false)
	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai.base_url", "")
	v.SetDefault("memory.type", "sqlite")
	v.SetDefault("memory.path", "trilha.db")
	v.SetDefault("workflow.cache_size", 1024)
	v.SetDefault("workflow.default_due", plan.DefaultDue)
	v.SetDefault("workflow.prompts_dir", "prompts")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")
	v.SetDefault("reminders.enabled", true)
	v.SetDefault("reminders.interval", "30m")
}

// Load reads path (YAML or JSON, picked by extension) over the defaults and
// applies TRILHA_* environment overrides. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Memory.Type != "sqlite" {
		errs = append(errs, fmt.Errorf("memory.type %q is not supported", c.Memory.Type))
	}
	if c.Memory.Path == "" {
		errs = append(errs, errors.New("memory.path is required"))
	}
	if _, err := plan.ParseDue(c.Workflow.DefaultDue, time.Now()); err != nil {
		errs = append(errs, fmt.Errorf("workflow.default_due: %w", err))
	}
	if c.Workflow.CacheSize < 0 {
		errs = append(errs, errors.New("workflow.cache_size must not be negative"))
	}
	if c.Reminders.Enabled && c.Reminders.Interval <= 0 {
		errs = append(errs, errors.New("reminders.interval must be positive"))
	}
	if tg, ok := c.Telegram(); ok && tg.Token == "" {
		errs = append(errs, errors.New("gateways.telegram.token is required when telegram is enabled"))
	}
	return errors.Join(errs...)
}

// DefaultProvider returns the first enabled provider by name.
func (c *Config) DefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// Telegram returns the telegram config if enabled.
func (c *Config) Telegram() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled {
		return tg, true
	}
	return GatewayConfig{}, false
}
