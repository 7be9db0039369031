package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/email-triage/")
	v.AddConfigPath("$HOME/.email-triage")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("EMAIL_TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Analysis defaults
	v.SetDefault("analysis.version", "v1")
	v.SetDefault("analysis.model", "cascade")
	v.SetDefault("analysis.batch_limit", 100)
	v.SetDefault("analysis.dry_run", false)

	// Tier defaults
	v.SetDefault("tiers.classifier.confidence_floor", 0.75)
	v.SetDefault("tiers.classifier.model_dir", "/data/models")
	v.SetDefault("tiers.classifier.example_window", 1000)
	v.SetDefault("tiers.fast.confidence_floor", 0.75)
	v.SetDefault("tiers.fast.timeout", "30s")
	v.SetDefault("tiers.deep.confidence_floor", 0.60)
	v.SetDefault("tiers.deep.timeout", "120s")
	v.SetDefault("tiers.human.enabled", true)

	// Training defaults
	v.SetDefault("training.threshold", 300)

	// LLM provider defaults
	v.SetDefault("llm.fast_provider", "ollama")
	v.SetDefault("llm.deep_provider", "ollama")

	// Ollama defaults
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.fast_model", "llama3.2:3b")
	v.SetDefault("ollama.deep_model", "llama3.1:8b")
	v.SetDefault("ollama.max_tokens", 500)
	v.SetDefault("ollama.temperature", 0.1)
	v.SetDefault("ollama.top_p", 0.9)

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-v2")
	v.SetDefault("bedrock.max_tokens", 1000)
	v.SetDefault("bedrock.temperature", 0.1)
	v.SetDefault("bedrock.top_p", 0.9)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-pro")
	v.SetDefault("gemini.max_tokens", 1000)
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.top_p", 0.9)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 0.9)

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.sqlite_path", "/data/email_triage.db")
	v.SetDefault("storage.mysql_dsn", "user:password@tcp(localhost:3306)/email_triage?parseTime=true")

	// Proxy defaults
	v.SetDefault("proxy.listen_address", "0.0.0.0:10025")
	v.SetDefault("proxy.upstream_address", "127.0.0.1")
	v.SetDefault("proxy.upstream_port", 10026)
	v.SetDefault("proxy.timeout", "180s")
	v.SetDefault("proxy.reject_spam", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
