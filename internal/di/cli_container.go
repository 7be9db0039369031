package di

import (
	"flag"

	"github.com/spf13/viper"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/email-triage/internal/config"
	"github.com/mikey/email-triage/internal/factory"
	"github.com/mikey/email-triage/internal/logging"
)

// CLIFlags contains all command line flags for the single-shot CLI
type CLIFlags struct {
	// LLM provider flags
	FastProvider string
	DeepProvider string
	MaxTokens    int
	Temperature  float64
	TopP         float64

	// Ollama flags
	OllamaURL       string
	OllamaFastModel string
	OllamaDeepModel string

	// Bedrock flags
	BedrockRegion  string
	BedrockModelID string

	// Gemini flags
	GeminiAPIKey    string
	GeminiModelName string

	// OpenAI flags
	OpenAIAPIKey    string
	OpenAIModelName string

	// Input flags
	InputFile  string
	Verbose    bool
	JSONLog    bool
	ConfigFile string
}

// ParseFlags parses command line flags and returns a CLIFlags struct
func ParseFlags() *CLIFlags {
	flags := &CLIFlags{}

	// LLM provider flags
	flag.StringVar(&flags.FastProvider, "fast-provider", "ollama", "Fast tier LLM provider (ollama, bedrock, gemini, openai)")
	flag.StringVar(&flags.DeepProvider, "deep-provider", "ollama", "Deep tier LLM provider (ollama, bedrock, gemini, openai)")
	flag.IntVar(&flags.MaxTokens, "max-tokens", 500, "Maximum tokens for LLM response")
	flag.Float64Var(&flags.Temperature, "temperature", 0.1, "Temperature for LLM generation")
	flag.Float64Var(&flags.TopP, "top-p", 0.9, "Top-p for LLM generation")

	// Ollama flags
	flag.StringVar(&flags.OllamaURL, "ollama-url", "http://localhost:11434", "Ollama server URL")
	flag.StringVar(&flags.OllamaFastModel, "ollama-fast-model", "llama3.2:3b", "Ollama model for the fast tier")
	flag.StringVar(&flags.OllamaDeepModel, "ollama-deep-model", "llama3.1:8b", "Ollama model for the deep tier")

	// Bedrock flags
	flag.StringVar(&flags.BedrockRegion, "bedrock-region", "us-east-1", "AWS region for Bedrock")
	flag.StringVar(&flags.BedrockModelID, "bedrock-model", "anthropic.claude-v2", "Bedrock model ID")

	// Gemini flags
	flag.StringVar(&flags.GeminiAPIKey, "gemini-api-key", "", "API key for Google Gemini")
	flag.StringVar(&flags.GeminiModelName, "gemini-model", "gemini-pro", "Gemini model name")

	// OpenAI flags
	flag.StringVar(&flags.OpenAIAPIKey, "openai-api-key", "", "API key for OpenAI")
	flag.StringVar(&flags.OpenAIModelName, "openai-model", "gpt-4o-mini", "OpenAI model name")

	// Input flags
	flag.StringVar(&flags.InputFile, "file", "", "Input email file (use stdin if not specified)")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	flag.StringVar(&flags.ConfigFile, "config", "", "Path to config file (overrides command line flags)")

	flag.Parse()
	return flags
}

// BuildCLIContainer creates and configures a dependency injection container
// for the single-shot CLI. Storage is in-memory: a one-off classification
// should not touch the archive database.
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if flags.ConfigFile != "" {
			cfg, err := config.New()
			if err != nil {
				return nil, err
			}
			forceEphemeral(cfg.GetViper())
			logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
			return cfg, nil
		}

		// Create config from command line flags
		return createConfigFromFlags(flags), nil
	}); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewCascadeFactory); err != nil {
		return nil, err
	}

	// Register storage backend
	if err := container.Provide(func(f *factory.StoreFactory) (factory.TriageStore, error) {
		return f.CreateStore()
	}); err != nil {
		return nil, err
	}

	// Register generative backends
	if err := container.Provide(func(f *factory.LLMFactory) (Generators, error) {
		fast, err := f.CreateFastGenerator()
		if err != nil {
			return Generators{}, err
		}
		deep, err := f.CreateDeepGenerator()
		if err != nil {
			return Generators{}, err
		}
		return Generators{Fast: fast, Deep: deep}, nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	// One-shot runs never persist and never retrain
	forceEphemeral(v)
	v.Set("tiers.classifier.model_dir", "")
	v.Set("tiers.human.enabled", false)

	v.Set("llm.fast_provider", flags.FastProvider)
	v.Set("llm.deep_provider", flags.DeepProvider)

	v.Set("ollama.base_url", flags.OllamaURL)
	v.Set("ollama.fast_model", flags.OllamaFastModel)
	v.Set("ollama.deep_model", flags.OllamaDeepModel)
	v.Set("ollama.max_tokens", flags.MaxTokens)
	v.Set("ollama.temperature", flags.Temperature)
	v.Set("ollama.top_p", flags.TopP)

	v.Set("bedrock.region", flags.BedrockRegion)
	v.Set("bedrock.model_id", flags.BedrockModelID)
	v.Set("bedrock.max_tokens", flags.MaxTokens)
	v.Set("bedrock.temperature", flags.Temperature)
	v.Set("bedrock.top_p", flags.TopP)

	v.Set("gemini.api_key", flags.GeminiAPIKey)
	v.Set("gemini.model_name", flags.GeminiModelName)
	v.Set("gemini.max_tokens", flags.MaxTokens)
	v.Set("gemini.temperature", flags.Temperature)
	v.Set("gemini.top_p", flags.TopP)

	v.Set("openai.api_key", flags.OpenAIAPIKey)
	v.Set("openai.model_name", flags.OpenAIModelName)
	v.Set("openai.max_tokens", flags.MaxTokens)
	v.Set("openai.temperature", flags.Temperature)
	v.Set("openai.top_p", flags.TopP)

	return config.NewFromViper(v)
}

// forceEphemeral pins the settings a one-shot run must never inherit from a
// config file: emails and learned artifacts stay in memory and no decision
// is written back.
func forceEphemeral(v *viper.Viper) {
	v.Set("storage.type", "memory")
	v.Set("analysis.dry_run", true)
}
