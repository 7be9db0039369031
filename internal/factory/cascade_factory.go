package factory

import (
	"github.com/mikey/email-triage/internal/adapters/textcat"
	"github.com/mikey/email-triage/internal/config"
	"github.com/mikey/email-triage/internal/core"
	"github.com/mikey/email-triage/internal/tiers"
	"go.uber.org/zap"
)

// Cascade bundles the wired coordinator with the handles the CLIs need.
type Cascade struct {
	Coordinator *core.EscalationCoordinator
	Rules       *tiers.RuleMatcher
	Classifier  *tiers.LightweightClassifier
}

// CascadeFactory assembles the full escalation pipeline.
type CascadeFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewCascadeFactory creates a new cascade factory
func NewCascadeFactory(cfg *config.Config, logger *zap.Logger) *CascadeFactory {
	return &CascadeFactory{cfg: cfg, logger: logger}
}

// CreateCascade wires tiers 0-3 over the given store and backends, adding
// the human tier when an operator is supplied. A nil operator yields an
// automated-only cascade (the proxy's configuration).
func (f *CascadeFactory) CreateCascade(
	st TriageStore,
	fastGen core.TextGenerator,
	deepGen core.TextGenerator,
	operator core.Operator,
) *Cascade {
	classifierCfg := f.cfg.GetClassifier()
	fastCfg := f.cfg.GetFastTier()
	deepCfg := f.cfg.GetDeepTier()
	analysisCfg := f.cfg.GetAnalysis()

	rules := tiers.NewRuleMatcher(st, f.logger)

	runtime := textcat.NewRuntime(classifierCfg.ModelDir, f.logger)
	classifier := tiers.NewLightweightClassifier(runtime, st,
		classifierCfg.ConfidenceFloor, classifierCfg.ExampleWindow, f.logger)

	fast := tiers.NewFastGenerative(fastGen, st, st, rules,
		fastCfg.ConfidenceFloor, fastCfg.Timeout, f.logger)
	deep := tiers.NewDeepGenerative(deepGen, st, st, rules,
		deepCfg.ConfidenceFloor, deepCfg.Timeout, f.logger)

	analyzers := []core.Analyzer{rules, classifier, fast, deep}
	if operator != nil {
		analyzers = append(analyzers, tiers.NewHumanReview(operator, st, st, rules, f.logger))
	}

	coordinator := core.NewEscalationCoordinator(
		analyzers,
		st,
		classifier,
		[]core.Invalidator{rules, fast, deep},
		f.cfg.GetTrainingThreshold(),
		analysisCfg.DryRun,
		f.logger,
	)

	return &Cascade{
		Coordinator: coordinator,
		Rules:       rules,
		Classifier:  classifier,
	}
}
