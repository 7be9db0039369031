package config

import "time"

// AnalysisConfig represents the analysis run configuration
type AnalysisConfig struct {
	Version    string
	Model      string
	BatchLimit int
	DryRun     bool
}

// TierConfig represents the tunables of one analysis tier
type TierConfig struct {
	ConfidenceFloor float64
	Timeout         time.Duration
}

// ClassifierConfig represents the lightweight classifier configuration
type ClassifierConfig struct {
	ConfidenceFloor float64
	ModelDir        string
	ExampleWindow   int
}

// LLMConfig represents the configuration for the generative providers
type LLMConfig struct {
	FastProvider string
	DeepProvider string
}

// OllamaConfig represents the configuration for a local Ollama server
type OllamaConfig struct {
	BaseURL     string
	FastModel   string
	DeepModel   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// StorageConfig represents the storage backend configuration
type StorageConfig struct {
	Type       string
	SQLitePath string
	MySQLDSN   string
}

// ProxyConfig represents the SMTP triage proxy configuration
type ProxyConfig struct {
	ListenAddress   string
	UpstreamAddress string
	UpstreamPort    int
	Timeout         time.Duration
	RejectSpam      bool
}

// GetAnalysis returns the analysis run configuration
func (c *Config) GetAnalysis() AnalysisConfig {
	return AnalysisConfig{
		Version:    c.GetString("analysis.version"),
		Model:      c.GetString("analysis.model"),
		BatchLimit: c.GetInt("analysis.batch_limit"),
		DryRun:     c.GetBool("analysis.dry_run"),
	}
}

// GetClassifier returns the lightweight classifier configuration
func (c *Config) GetClassifier() ClassifierConfig {
	return ClassifierConfig{
		ConfidenceFloor: c.GetFloat64("tiers.classifier.confidence_floor"),
		ModelDir:        c.GetString("tiers.classifier.model_dir"),
		ExampleWindow:   c.GetInt("tiers.classifier.example_window"),
	}
}

// GetFastTier returns the fast generative tier configuration
func (c *Config) GetFastTier() TierConfig {
	timeout, err := c.GetDuration("tiers.fast.timeout")
	if err != nil {
		timeout = 30 * time.Second
	}
	return TierConfig{
		ConfidenceFloor: c.GetFloat64("tiers.fast.confidence_floor"),
		Timeout:         timeout,
	}
}

// GetDeepTier returns the deep generative tier configuration
func (c *Config) GetDeepTier() TierConfig {
	timeout, err := c.GetDuration("tiers.deep.timeout")
	if err != nil {
		timeout = 120 * time.Second
	}
	return TierConfig{
		ConfidenceFloor: c.GetFloat64("tiers.deep.confidence_floor"),
		Timeout:         timeout,
	}
}

// GetLLM returns the generative provider selection
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		FastProvider: c.GetString("llm.fast_provider"),
		DeepProvider: c.GetString("llm.deep_provider"),
	}
}

// GetOllama returns the Ollama configuration
func (c *Config) GetOllama() OllamaConfig {
	return OllamaConfig{
		BaseURL:     c.GetString("ollama.base_url"),
		FastModel:   c.GetString("ollama.fast_model"),
		DeepModel:   c.GetString("ollama.deep_model"),
		MaxTokens:   c.GetInt("ollama.max_tokens"),
		Temperature: float32(c.GetFloat64("ollama.temperature")),
		TopP:        float32(c.GetFloat64("ollama.top_p")),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
	}
}

// GetStorage returns the storage backend configuration
func (c *Config) GetStorage() StorageConfig {
	return StorageConfig{
		Type:       c.GetString("storage.type"),
		SQLitePath: c.GetString("storage.sqlite_path"),
		MySQLDSN:   c.GetString("storage.mysql_dsn"),
	}
}

// GetProxy returns the SMTP proxy configuration
func (c *Config) GetProxy() ProxyConfig {
	timeout, err := c.GetDuration("proxy.timeout")
	if err != nil {
		timeout = 180 * time.Second
	}
	return ProxyConfig{
		ListenAddress:   c.GetString("proxy.listen_address"),
		UpstreamAddress: c.GetString("proxy.upstream_address"),
		UpstreamPort:    c.GetInt("proxy.upstream_port"),
		Timeout:         timeout,
		RejectSpam:      c.GetBool("proxy.reject_spam"),
	}
}

// GetTrainingThreshold returns the learning trigger threshold
func (c *Config) GetTrainingThreshold() int {
	return c.GetInt("training.threshold")
}
