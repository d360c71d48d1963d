package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	ProviderXAI       = "xai"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"

	DefaultProvider      = ProviderXAI
	DefaultModel         = "grok-2"
	DefaultBaseURL       = "https://api.x.ai/v1"
	DefaultListen        = "0.0.0.0:8080"
	DefaultTimeout       = 60 * time.Second
	DefaultActivityLimit = 5
	DefaultPreviewLength = 50
)

type Config struct {
	Provider      string        `mapstructure:"provider" yaml:"provider"`
	Model         string        `mapstructure:"model" yaml:"model"`
	APIKey        string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Listen        string        `mapstructure:"listen" yaml:"listen"`
	CORSOrigins   []string      `mapstructure:"cors_origins" yaml:"cors_origins,omitempty"`
	ActivityLimit int           `mapstructure:"activity_limit" yaml:"activity_limit"`
	PreviewLength int           `mapstructure:"preview_length" yaml:"preview_length"`
	UsageLog      bool          `mapstructure:"usage_log" yaml:"usage_log"`
	Log           LogConfig     `mapstructure:"log" yaml:"log"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// providerEnv lists the credential and base URL variables consulted per
// provider when the config file leaves them empty.
var providerEnv = map[string]struct {
	key     string
	baseURL string
}{
	ProviderXAI:       {key: "XAI_API_KEY", baseURL: "XAI_API_BASE_URL"},
	ProviderOpenAI:    {key: "OPENAI_API_KEY", baseURL: "OPENAI_BASE_URL"},
	ProviderAnthropic: {key: "ANTHROPIC_API_KEY", baseURL: "ANTHROPIC_BASE_URL"},
	ProviderGemini:    {key: "GEMINI_API_KEY"},
}

// Load reads configuration from, in increasing precedence: defaults, the
// config file, a .env file in the working directory and the environment.
// An explicit path overrides the config file search.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := configDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	// The config file is optional unless named explicitly.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("GROK_MIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", DefaultProvider)
	v.SetDefault("model", DefaultModel)
	v.SetDefault("api_key", "")
	v.SetDefault("base_url", "")
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("activity_limit", DefaultActivityLimit)
	v.SetDefault("preview_length", DefaultPreviewLength)
	v.SetDefault("usage_log", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// loadDotEnv exports KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables that are already set.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, exists := os.LookupEnv(name); exists {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return fmt.Errorf("failed to export %s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) resolve() error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))

	env := providerEnv[c.Provider]
	if c.APIKey == "" && env.key != "" {
		c.APIKey = os.Getenv(env.key)
	}
	if c.BaseURL == "" && env.baseURL != "" {
		c.BaseURL = os.Getenv(env.baseURL)
	}
	if c.BaseURL == "" && c.Provider == ProviderXAI {
		c.BaseURL = DefaultBaseURL
	}

	key, err := ResolveValue(c.APIKey)
	if err != nil {
		return fmt.Errorf("api_key: %w", err)
	}
	c.APIKey = key

	baseURL, err := ResolveValue(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	c.BaseURL = strings.TrimSuffix(baseURL, "/")
	return nil
}

// Validate reports configuration values that cannot work at all. A missing
// API key is not an error here: commands that never call the API still run.
func (c *Config) Validate() error {
	if _, ok := providerEnv[c.Provider]; !ok {
		return fmt.Errorf("unknown provider %q (want xai, openai, anthropic or gemini)", c.Provider)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.ActivityLimit <= 0 {
		return fmt.Errorf("activity_limit must be positive, got %d", c.ActivityLimit)
	}
	if c.PreviewLength <= 3 {
		return fmt.Errorf("preview_length must be greater than 3, got %d", c.PreviewLength)
	}
	return nil
}

// KeyEnv returns the environment variable holding the provider credential.
func (c *Config) KeyEnv() string {
	return providerEnv[c.Provider].key
}

// MaskedKey returns the API key with all but the last four characters hidden.
func (c *Config) MaskedKey() string {
	if c.APIKey == "" {
		return "(not set)"
	}
	if len(c.APIKey) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + c.APIKey[len(c.APIKey)-4:]
}

// configDir returns $XDG_CONFIG_HOME/grok-mind or the platform equivalent.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "grok-mind"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config dir: %w", err)
	}
	return filepath.Join(dir, "grok-mind"), nil
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

// Save writes the config to path, or to the default location when path is
// empty. Keys sourced from the environment should be cleared by the caller.
func Save(cfg *Config, path string) (string, error) {
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	header := "# grok-mind configuration\n# Environment variables (XAI_API_KEY, XAI_API_BASE_URL, GROK_MIND_*) override these values.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0600); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}
