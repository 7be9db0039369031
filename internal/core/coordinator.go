package core

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Retrainer is the coordinator's handle on the trainable tier. SetTraining
// toggles the forced-abstain training state; Retrain performs one training
// cycle over the most recent accumulated examples.
type Retrainer interface {
	SetTraining(training bool)
	Retrain(ctx context.Context) error
}

// CoordinatorStats tracks cascade performance across a coordinator's life.
type CoordinatorStats struct {
	EmailsProcessed int
	TierHandled     map[Tier]int
	TotalTime       time.Duration
	LearningEvents  int
}

// EscalationCoordinator drives an email through the tiers strictly in
// ascending order, stopping at the first non-abstaining tier, and fires the
// learning feedback loop as accepted classifications accumulate.
type EscalationCoordinator struct {
	analyzers    []Analyzer
	analyses     AnalysisStore
	retrainer    Retrainer
	invalidators []Invalidator
	logger       *zap.Logger

	dryRun            bool
	trainingThreshold int

	classificationCount int
	stats               CoordinatorStats
}

// NewEscalationCoordinator creates a coordinator over the given tiers.
// Analyzers are ordered by tier number regardless of the order given.
// retrainer may be nil when no trainable tier is wired (the learning
// trigger then only invalidates caches).
func NewEscalationCoordinator(
	analyzers []Analyzer,
	analyses AnalysisStore,
	retrainer Retrainer,
	invalidators []Invalidator,
	trainingThreshold int,
	dryRun bool,
	logger *zap.Logger,
) *EscalationCoordinator {
	ordered := make([]Analyzer, len(analyzers))
	copy(ordered, analyzers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Tier() < ordered[j].Tier()
	})

	if trainingThreshold <= 0 {
		trainingThreshold = 300
	}

	return &EscalationCoordinator{
		analyzers:         ordered,
		analyses:          analyses,
		retrainer:         retrainer,
		invalidators:      invalidators,
		logger:            logger,
		dryRun:            dryRun,
		trainingThreshold: trainingThreshold,
		stats:             CoordinatorStats{TierHandled: make(map[Tier]int)},
	}
}

// AnalyzeEmail routes one email through the cascade. A nil decision with a
// nil error means every tier abstained (including a human skip); the email
// stays unclassified for this run. ErrReviewQuit propagates so batch
// processing can stop.
func (c *EscalationCoordinator) AnalyzeEmail(ctx context.Context, email *Email) (*Decision, error) {
	start := time.Now()

	for _, analyzer := range c.analyzers {
		decision, err := analyzer.Analyze(ctx, email)
		if err != nil {
			if errors.Is(err, ErrReviewQuit) {
				return nil, err
			}
			// Infrastructure failure inside a tier escalates like an
			// abstention; the next tier is the retry path.
			c.logger.Warn("Tier failed, escalating",
				zap.Stringer("tier", analyzer.Tier()),
				zap.Int64("email_id", email.ID),
				zap.Error(err))
			continue
		}
		if decision == nil {
			continue
		}

		c.logger.Info("Email classified",
			zap.Int64("email_id", email.ID),
			zap.Stringer("tier", decision.Tier),
			zap.String("category", string(decision.Category)),
			zap.String("action", string(decision.Action)),
			zap.Float64("confidence", decision.Confidence))

		c.finalize(ctx, email, decision, time.Since(start))
		return decision, nil
	}

	c.logger.Info("Email left unclassified", zap.Int64("email_id", email.ID))
	return nil, nil
}

func (c *EscalationCoordinator) finalize(ctx context.Context, email *Email, d *Decision, elapsed time.Duration) {
	c.stats.EmailsProcessed++
	c.stats.TierHandled[d.Tier]++
	c.stats.TotalTime += elapsed

	if c.dryRun {
		c.logger.Info("Dry run: decision not persisted",
			zap.Int64("email_id", email.ID),
			zap.String("category", string(d.Category)),
			zap.String("action", string(d.Action)))
	} else if err := c.analyses.SaveDecision(ctx, email.ID, d); err != nil {
		c.logger.Error("Failed to persist decision",
			zap.Int64("email_id", email.ID), zap.Error(err))
	}

	c.classificationCount++
	if c.classificationCount%c.trainingThreshold == 0 {
		c.triggerLearning(ctx)
	}
}

// triggerLearning runs one training cycle and invalidates every tier cache
// so all tiers observe newly committed learning artifacts on their next
// call.
func (c *EscalationCoordinator) triggerLearning(ctx context.Context) {
	c.logger.Info("Learning trigger reached",
		zap.Int("classifications", c.classificationCount),
		zap.Int("threshold", c.trainingThreshold))

	if c.retrainer != nil {
		c.retrainer.SetTraining(true)
		if err := c.retrainer.Retrain(ctx); err != nil {
			c.logger.Error("Classifier retraining failed", zap.Error(err))
		}
		c.retrainer.SetTraining(false)
	}

	for _, inv := range c.invalidators {
		inv.Invalidate()
	}
	c.stats.LearningEvents++
	c.logger.Info("Tier caches invalidated after learning event")
}

// AnalyzeBatch processes a list of emails sequentially and always returns a
// summary, even when individual emails failed or the operator quit early.
func (c *EscalationCoordinator) AnalyzeBatch(ctx context.Context, emails []Email, name string) *BatchSummary {
	start := time.Now()
	summary := &BatchSummary{
		Name:        name,
		TotalEmails: len(emails),
		TierHandled: make(map[Tier]int),
	}

	c.logger.Info("Starting batch analysis",
		zap.String("batch", name), zap.Int("emails", len(emails)))

	for i := range emails {
		if ctx.Err() != nil {
			summary.Aborted = true
			break
		}

		decision, err := c.AnalyzeEmail(ctx, &emails[i])
		if err != nil {
			if errors.Is(err, ErrReviewQuit) {
				c.logger.Info("Batch aborted by operator",
					zap.Int("processed", i), zap.Int("total", len(emails)))
				summary.Aborted = true
				break
			}
			summary.Failed++
			continue
		}
		if decision == nil {
			summary.Failed++
			continue
		}

		summary.Successful++
		summary.TierHandled[decision.Tier]++
		if decision.Tier == TierHuman {
			summary.HumanEscalations++
		}
	}

	summary.Duration = time.Since(start)
	if mins := summary.Duration.Minutes(); mins > 0 {
		summary.EmailsPerMinute = float64(summary.Successful) / mins
	}
	summary.LearningEvents = c.stats.LearningEvents

	c.logger.Info("Batch analysis complete",
		zap.String("batch", name),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Int("human", summary.HumanEscalations),
		zap.Float64("automation_rate", summary.AutomationRate()),
		zap.Bool("aborted", summary.Aborted))

	return summary
}

// Stats returns a copy of the running statistics.
func (c *EscalationCoordinator) Stats() CoordinatorStats {
	out := c.stats
	out.TierHandled = make(map[Tier]int, len(c.stats.TierHandled))
	for k, v := range c.stats.TierHandled {
		out.TierHandled[k] = v
	}
	return out
}

// ClassificationCount is the monotonic count of accepted classifications.
func (c *EscalationCoordinator) ClassificationCount() int {
	return c.classificationCount
}

// NextTrainingAt reports the classification count at which the next
// learning event fires.
func (c *EscalationCoordinator) NextTrainingAt() int {
	return (c.classificationCount/c.trainingThreshold + 1) * c.trainingThreshold
}
