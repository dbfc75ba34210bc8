package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samsaffron/groq-chat/internal/catalog"
	apperr "github.com/samsaffron/groq-chat/internal/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const appName = "groq-chat"

// Built-in provider names.
const (
	ProviderGroq      = "groq"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderDebug     = "debug"
)

// ProviderType selects the implementation behind a provider name.
type ProviderType string

const (
	ProviderTypeGroq         ProviderType = "groq"
	ProviderTypeOpenAICompat ProviderType = "openai_compatible"
	ProviderTypeAnthropic    ProviderType = "anthropic"
	ProviderTypeGemini       ProviderType = "gemini"
	ProviderTypeDebug        ProviderType = "debug"
)

// InferProviderType returns explicit when set, the built-in type for known
// names, and openai_compatible otherwise.
func InferProviderType(name string, explicit ProviderType) ProviderType {
	if explicit != "" {
		return explicit
	}
	switch name {
	case ProviderGroq:
		return ProviderTypeGroq
	case ProviderAnthropic:
		return ProviderTypeAnthropic
	case ProviderGemini:
		return ProviderTypeGemini
	case ProviderDebug:
		return ProviderTypeDebug
	default:
		return ProviderTypeOpenAICompat
	}
}

// envKeyFor returns the conventional API key variable for a provider type.
func envKeyFor(t ProviderType) string {
	switch t {
	case ProviderTypeGroq:
		return "GROQ_API_KEY"
	case ProviderTypeAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderTypeGemini:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

type Config struct {
	DefaultModel string                    `mapstructure:"default_model" yaml:"default_model"`
	MaxTokens    int                       `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature  float64                   `mapstructure:"temperature" yaml:"temperature"`
	Providers    map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Models       []catalog.Model           `mapstructure:"models" yaml:"models,omitempty"`
	Serve        ServeConfig               `mapstructure:"serve" yaml:"serve"`
	Log          LogConfig                 `mapstructure:"log" yaml:"log"`
	Telemetry    TelemetryConfig           `mapstructure:"telemetry" yaml:"telemetry"`
	Usage        UsageConfig               `mapstructure:"usage" yaml:"usage"`
}

type ProviderConfig struct {
	Type    ProviderType      `mapstructure:"type" yaml:"type,omitempty"`
	BaseURL string            `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey  string            `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	Variant string            `mapstructure:"variant" yaml:"variant,omitempty"`

	// ResolvedAPIKey is APIKey after ResolveValue and the environment fallback.
	ResolvedAPIKey string `mapstructure:"-" yaml:"-"`
}

type ServeConfig struct {
	Addr  string `mapstructure:"addr" yaml:"addr"`
	Token string `mapstructure:"token" yaml:"token,omitempty"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	Level      string `mapstructure:"level" yaml:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir,omitempty"`
}

type UsageConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir,omitempty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_tokens", 4096)
	v.SetDefault("temperature", 0.5)
	v.SetDefault("serve.addr", "127.0.0.1:8501")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("usage.enabled", true)
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GROQ_CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		dir, err := configDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.resolveProviders(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DefaultModel == "" {
		cat, _ := cfg.Catalog()
		cfg.DefaultModel = cat.Default().ID
	}
	return &cfg, nil
}

// resolveProviders fills in built-in providers and resolves secrets.
func (c *Config) resolveProviders() error {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for _, name := range []string{ProviderGroq, ProviderAnthropic, ProviderGemini, ProviderDebug} {
		if _, ok := c.Providers[name]; !ok {
			c.Providers[name] = ProviderConfig{}
		}
	}

	for name, p := range c.Providers {
		key, err := ResolveValue(p.APIKey)
		if err != nil {
			return apperr.E(apperr.Op("config.Load"), apperr.KindConfig, fmt.Sprintf("provider %s api_key", name), err)
		}
		if key == "" {
			if env := envKeyFor(InferProviderType(name, p.Type)); env != "" {
				key = os.Getenv(env)
			}
		}
		p.ResolvedAPIKey = key

		baseURL, err := ResolveValue(p.BaseURL)
		if err != nil {
			return apperr.E(apperr.Op("config.Load"), apperr.KindConfig, fmt.Sprintf("provider %s base_url", name), err)
		}
		p.BaseURL = baseURL
		c.Providers[name] = p
	}
	return nil
}

// Validate checks ranges and that the default model exists in the catalog.
func (c *Config) Validate() error {
	if c.MaxTokens < catalog.MinMaxTokens {
		return apperr.ConfigInvalid(fmt.Sprintf("max_tokens must be at least %d, got %d", catalog.MinMaxTokens, c.MaxTokens))
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return apperr.ConfigInvalid(fmt.Sprintf("temperature must be within [0, 1], got %g", c.Temperature))
	}
	if strings.TrimSpace(c.Serve.Addr) == "" {
		return apperr.ConfigInvalid("serve.addr is empty")
	}
	cat, err := c.Catalog()
	if err != nil {
		return err
	}
	if c.DefaultModel != "" {
		if _, err := cat.Get(c.DefaultModel); err != nil {
			return apperr.E(apperr.Op("config.Validate"), apperr.KindConfig, "default_model", err)
		}
	}
	for _, m := range cat.List() {
		if _, ok := c.Providers[m.Provider]; !ok {
			return apperr.ConfigInvalid(fmt.Sprintf("model %s uses unconfigured provider %q", m.ID, m.Provider))
		}
	}
	return nil
}

// Catalog returns the configured model table, or the built-in one.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	if len(c.Models) == 0 {
		return catalog.Default(), nil
	}
	return catalog.New(c.Models)
}

// Redacted returns a copy safe for display.
func (c *Config) Redacted() Config {
	out := *c
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		if p.APIKey != "" && !isReference(p.APIKey) {
			p.APIKey = "********"
		}
		p.ResolvedAPIKey = ""
		out.Providers[name] = p
	}
	if out.Serve.Token != "" {
		out.Serve.Token = "********"
	}
	return out
}

// isReference reports values that name a secret rather than contain it.
func isReference(value string) bool {
	return strings.HasPrefix(value, "$") || strings.HasPrefix(value, "op://")
}

func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Starter returns the config written by `config init`.
func Starter() Config {
	return Config{
		DefaultModel: catalog.Default().Default().ID,
		MaxTokens:    4096,
		Temperature:  0.5,
		Providers: map[string]ProviderConfig{
			ProviderGroq: {APIKey: "${GROQ_API_KEY}"},
		},
		Serve: ServeConfig{Addr: "127.0.0.1:8501"},
		Log:   LogConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28, Compress: true},
		Usage: UsageConfig{Enabled: true},
	}
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
