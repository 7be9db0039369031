package factory

import (
	"fmt"

	"github.com/mikey/email-triage/internal/adapters/bedrock"
	"github.com/mikey/email-triage/internal/adapters/gemini"
	"github.com/mikey/email-triage/internal/adapters/ollama"
	"github.com/mikey/email-triage/internal/adapters/openai"
	"github.com/mikey/email-triage/internal/config"
	"github.com/mikey/email-triage/internal/core"
	"go.uber.org/zap"
)

// LLMFactory creates text generators for the fast and deep roles. Both roles
// can use any provider; with Ollama they additionally get separate models.
type LLMFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger) *LLMFactory {
	return &LLMFactory{cfg: cfg, logger: logger}
}

// CreateFastGenerator creates the tier 2 backend
func (f *LLMFactory) CreateFastGenerator() (core.TextGenerator, error) {
	return f.create(f.cfg.GetLLM().FastProvider, false)
}

// CreateDeepGenerator creates the tier 3 backend
func (f *LLMFactory) CreateDeepGenerator() (core.TextGenerator, error) {
	return f.create(f.cfg.GetLLM().DeepProvider, true)
}

func (f *LLMFactory) create(provider string, deep bool) (core.TextGenerator, error) {
	switch provider {
	case "ollama":
		ollamaCfg := f.cfg.GetOllama()
		model := ollamaCfg.FastModel
		if deep {
			model = ollamaCfg.DeepModel
		}
		return ollama.NewClient(
			ollamaCfg.BaseURL,
			model,
			ollamaCfg.MaxTokens,
			ollamaCfg.Temperature,
			ollamaCfg.TopP,
			f.logger,
		), nil
	case "openai":
		openaiCfg := f.cfg.GetOpenAI()
		return openai.NewClient(
			openaiCfg.APIKey,
			openaiCfg.ModelName,
			openaiCfg.MaxTokens,
			openaiCfg.Temperature,
			openaiCfg.TopP,
			f.logger,
		), nil
	case "gemini":
		geminiCfg := f.cfg.GetGemini()
		return gemini.NewClient(
			geminiCfg.APIKey,
			geminiCfg.ModelName,
			geminiCfg.MaxTokens,
			geminiCfg.Temperature,
			geminiCfg.TopP,
			f.logger,
		)
	case "bedrock":
		bedrockCfg := f.cfg.GetBedrock()
		return bedrock.NewClient(
			bedrockCfg.Region,
			bedrockCfg.ModelID,
			bedrockCfg.MaxTokens,
			bedrockCfg.Temperature,
			bedrockCfg.TopP,
			f.logger,
		)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}
