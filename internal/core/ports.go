package core

import (
	"context"
	"errors"
)

// Operator sentinels. Neither is an error condition for the email itself:
// a skip leaves the email unclassified for this run, a quit additionally
// aborts the remaining batch.
var (
	ErrReviewSkipped = errors.New("review skipped")
	ErrReviewQuit    = errors.New("review quit")
)

// Analyzer is the tier contract. A (nil, nil) return means the tier
// abstains and the email escalates to the next tier. Tiers never return an
// error for business outcomes (no match, low confidence, unusable model
// output); only infrastructure failures surface as errors, and the
// coordinator treats those the same as abstention.
type Analyzer interface {
	Tier() Tier
	Analyze(ctx context.Context, email *Email) (*Decision, error)
}

// Invalidator is implemented by tiers holding a lazily-loaded cache.
// Invalidate may be called at any time and forces a reload on next use.
type Invalidator interface {
	Invalidate()
}

// TextGenerator is a generative backend: prompt in, raw text out. Model,
// temperature and token limits are fixed at construction; timeouts come
// from the caller's context. The calling tier owns all parsing.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

// RuleStore persists the tier 0 pattern table.
type RuleStore interface {
	// ActiveRules returns active rules ordered by confidence desc,
	// times_matched desc.
	ActiveRules(ctx context.Context) ([]Rule, error)
	// UpsertRule inserts a rule or, on a (type, pattern, action) conflict,
	// raises the stored confidence to the max of old and new, increments
	// the learn counter and reactivates the rule.
	UpsertRule(ctx context.Context, rule Rule) error
	// RecordMatch increments a rule's match counter.
	RecordMatch(ctx context.Context, ruleID int64) error
	// RulesSummary reports the current rule table.
	RulesSummary(ctx context.Context) (*RulesSummary, error)
}

// ExampleStore persists few-shot examples for the generative tiers.
type ExampleStore interface {
	// Examples returns active examples for one tier level ordered by
	// effectiveness desc, recency desc, limited.
	Examples(ctx context.Context, tier Tier, limit int) ([]FewShotExample, error)
	AddExample(ctx context.Context, ex FewShotExample) error
}

// TrainingStore accumulates labelled examples for classifier retraining.
type TrainingStore interface {
	AddTrainingExample(ctx context.Context, ex TrainingExample) error
	// RecentExamples returns up to n of the most recent examples.
	RecentExamples(ctx context.Context, n int) ([]TrainingExample, error)
}

// AnalysisStore persists final decisions keyed by
// (email id, analysis version, model).
type AnalysisStore interface {
	SaveDecision(ctx context.Context, emailID int64, d *Decision) error
}

// EmailStore serves already-retrieved email records.
type EmailStore interface {
	// UnanalyzedEmails returns emails with no stored decision for the
	// configured analysis version and model, oldest first, limited.
	UnanalyzedEmails(ctx context.Context, limit int) ([]Email, error)
}

// ClassifierRuntime is the lightweight classification capability. The
// runtime owns model persistence and versioning; the tier owns the state
// machine around it.
type ClassifierRuntime interface {
	// Available reports whether the runtime can ever produce output.
	// Decided once at startup, not re-checked per call.
	Available() bool
	// Reload loads the latest completed, validated model version. With no
	// trained version it installs the untrained baseline, which always
	// classifies as UNKNOWN with low confidence.
	Reload(ctx context.Context) error
	Classify(ctx context.Context, text string) (*Prediction, error)
	// Retrain fits a new model on the examples, persists it and returns
	// the new version reference. It does not switch the live model; the
	// caller reloads when ready.
	Retrain(ctx context.Context, examples []TrainingExample) (string, error)
	Version() string
}

// Operator is the blocking human review channel. Review returns
// ErrReviewSkipped when the operator skips the email and ErrReviewQuit when
// the operator aborts the batch.
type Operator interface {
	Review(ctx context.Context, email *Email) (*HumanVerdict, error)
}
