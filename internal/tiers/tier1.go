package tiers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/email-triage/internal/core"
	"github.com/mikey/email-triage/internal/utils"
	"go.uber.org/zap"
)

// ClassifierState is the tier 1 model lifecycle.
type ClassifierState int

const (
	StateNotInitialized ClassifierState = iota
	StateLoading
	StateReady
	StateTraining
	StateFailed
	// StateUnavailable means the runtime capability is absent entirely,
	// decided once at construction and never re-checked per call.
	StateUnavailable
)

func (s ClassifierState) String() string {
	switch s {
	case StateNotInitialized:
		return "not_initialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateTraining:
		return "training"
	case StateFailed:
		return "failed"
	case StateUnavailable:
		return "unavailable"
	}
	return "unknown"
}

const classifierSnippetLimit = 200

// LightweightClassifier is tier 1: a fast statistical text classifier over
// subject + sender + snippet. It never sees the body; that is what makes it
// cheap. While retraining it abstains on everything.
type LightweightClassifier struct {
	runtime  core.ClassifierRuntime
	training core.TrainingStore
	logger   *zap.Logger

	confidenceFloor float64
	exampleWindow   int
	state           ClassifierState
}

// NewLightweightClassifier builds tier 1 and loads the latest model. A
// missing runtime capability parks the tier in the unavailable state; a
// failed model load falls back to the runtime's untrained baseline, which
// always abstains rather than producing unvetted guesses.
func NewLightweightClassifier(runtime core.ClassifierRuntime, training core.TrainingStore, confidenceFloor float64, exampleWindow int, logger *zap.Logger) *LightweightClassifier {
	c := &LightweightClassifier{
		runtime:         runtime,
		training:        training,
		logger:          logger,
		confidenceFloor: confidenceFloor,
		exampleWindow:   exampleWindow,
		state:           StateNotInitialized,
	}

	if runtime == nil || !runtime.Available() {
		c.state = StateUnavailable
		logger.Warn("Classifier runtime unavailable, tier 1 will escalate all emails")
		return c
	}

	c.state = StateLoading
	if err := runtime.Reload(context.Background()); err != nil {
		c.state = StateFailed
		logger.Error("Classifier model load failed", zap.Error(err))
		return c
	}
	c.state = StateReady
	logger.Info("Classifier ready", zap.String("model_version", runtime.Version()))
	return c
}

// Tier returns the tier ordinal.
func (c *LightweightClassifier) Tier() core.Tier { return core.TierClassifier }

// State exposes the current lifecycle state for monitoring.
func (c *LightweightClassifier) State() ClassifierState { return c.state }

// Analyze classifies from header fields only and accepts the prediction
// only above the confidence floor. Any non-ready state abstains.
func (c *LightweightClassifier) Analyze(ctx context.Context, email *core.Email) (*core.Decision, error) {
	if c.state != StateReady {
		return nil, nil
	}
	start := time.Now()

	pred, err := c.runtime.Classify(ctx, classifierInput(email))
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}
	if pred.Category == core.CategoryUnknown || pred.Confidence < c.confidenceFloor {
		return nil, nil
	}

	decision := &core.Decision{
		Action:            pred.Action,
		Category:          pred.Category,
		Confidence:        pred.Confidence,
		Reasoning:         fmt.Sprintf("Classifier prediction (%s)", pred.ModelVersion),
		Tier:              core.TierClassifier,
		ProcessingTime:    time.Since(start),
		DeletionCandidate: pred.Action == core.ActionDelete,
	}
	if decision.DeletionCandidate {
		decision.DeletionReason = fmt.Sprintf("Classifier labelled as %s", pred.Category)
	}
	return decision, nil
}

// classifierInput flattens the cheap email fields into one line of text.
func classifierInput(email *core.Email) string {
	var parts []string
	if s := strings.TrimSpace(email.Subject); s != "" {
		parts = append(parts, "Subject: "+s)
	}
	if s := strings.TrimSpace(email.Sender); s != "" {
		parts = append(parts, "From: "+s)
	}
	if s := strings.TrimSpace(email.Snippet); s != "" {
		parts = append(parts, "Preview: "+utils.Truncate(s, classifierSnippetLimit))
	}
	return strings.Join(parts, " | ")
}

// SetTraining toggles the training state. Entering training forces
// system-wide abstention for this tier; leaving it reloads the latest
// completed model version, falling back to the untrained baseline when no
// trained version exists.
func (c *LightweightClassifier) SetTraining(training bool) {
	if c.state == StateUnavailable {
		return
	}
	if training {
		c.state = StateTraining
		c.logger.Info("Classifier entering training mode, escalating all emails")
		return
	}

	c.state = StateLoading
	if err := c.runtime.Reload(context.Background()); err != nil {
		c.state = StateFailed
		c.logger.Error("Classifier reload after training failed", zap.Error(err))
		return
	}
	c.state = StateReady
	c.logger.Info("Classifier training complete",
		zap.String("model_version", c.runtime.Version()))
}

// Retrain fits a new model version on the most recent training examples.
// Called by the coordinator's learning trigger while the tier is in the
// training state; the subsequent SetTraining(false) loads the result.
func (c *LightweightClassifier) Retrain(ctx context.Context) error {
	if c.state == StateUnavailable {
		return nil
	}

	examples, err := c.training.RecentExamples(ctx, c.exampleWindow)
	if err != nil {
		return fmt.Errorf("failed to fetch training examples: %w", err)
	}
	if len(examples) == 0 {
		c.logger.Info("No training examples accumulated yet, skipping retrain")
		return nil
	}

	version, err := c.runtime.Retrain(ctx, examples)
	if err != nil {
		return fmt.Errorf("retraining failed: %w", err)
	}
	c.logger.Info("Trained new classifier version",
		zap.String("model_version", version),
		zap.Int("examples", len(examples)))
	return nil
}
