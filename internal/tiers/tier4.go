package tiers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/email-triage/internal/core"
	"github.com/mikey/email-triage/internal/utils"
	"go.uber.org/zap"
)

const humanBlacklistConf = 0.98

// HumanReview is tier 4, the cascade's floor. It never abstains on its own
// judgment; only an operator skip leaves an email unclassified. Verdicts are
// ground truth, so the fan-out of learning artifacts is the widest of any
// tier.
type HumanReview struct {
	operator core.Operator
	examples core.ExampleStore
	training core.TrainingStore
	rules    *RuleMatcher
	logger   *zap.Logger
}

// NewHumanReview creates tier 4.
func NewHumanReview(
	operator core.Operator,
	examples core.ExampleStore,
	training core.TrainingStore,
	rules *RuleMatcher,
	logger *zap.Logger,
) *HumanReview {
	return &HumanReview{
		operator: operator,
		examples: examples,
		training: training,
		rules:    rules,
		logger:   logger,
	}
}

// Tier returns the tier ordinal.
func (t *HumanReview) Tier() core.Tier { return core.TierHuman }

// Analyze blocks on the operator. A skip abstains like any other tier; a
// quit propagates so the batch stops. Verdict confidence is always 1.0.
func (t *HumanReview) Analyze(ctx context.Context, email *core.Email) (*core.Decision, error) {
	start := time.Now()

	verdict, err := t.operator.Review(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrReviewSkipped) {
			t.logger.Info("Operator skipped email", zap.Int64("email_id", email.ID))
			return nil, nil
		}
		if errors.Is(err, core.ErrReviewQuit) {
			return nil, err
		}
		return nil, fmt.Errorf("operator review failed: %w", err)
	}

	reasoning := verdict.Reasoning
	if reasoning == "" {
		reasoning = fmt.Sprintf("Human classified as %s", verdict.Category)
	}

	decision := &core.Decision{
		Action:            verdict.Action,
		Category:          verdict.Category,
		Confidence:        1.0,
		Reasoning:         reasoning,
		Tier:              core.TierHuman,
		ProcessingTime:    time.Since(start),
		DeletionCandidate: verdict.Action == core.ActionDelete,
		DeletionReason:    verdict.DeletionReason,
		ImportanceScore:   verdict.ImportanceScore,
		FraudScore:        verdict.FraudScore,
	}
	if decision.Category == core.CategorySpam && decision.FraudScore == nil {
		fraud := 50
		decision.FraudScore = &fraud
	}

	t.learn(ctx, email, decision)
	return decision, nil
}

// learn fans a human verdict out to every lower tier: a gold training
// example for the classifier, few-shot examples for both generative tiers,
// and a domain blacklist rule for confirmed bulk mail.
func (t *HumanReview) learn(ctx context.Context, email *core.Email, d *core.Decision) {
	ex := core.TrainingExample{
		Subject:      email.Subject,
		Sender:       email.Sender,
		Snippet:      utils.Truncate(email.Snippet, fastSnippetLimit),
		Category:     d.Category,
		Action:       d.Action,
		Confidence:   d.Confidence,
		Reasoning:    d.Reasoning,
		GoldStandard: true,
	}
	if err := t.training.AddTrainingExample(ctx, ex); err != nil {
		t.logger.Warn("Failed to store gold training example", zap.Error(err))
	}

	for _, level := range []core.Tier{core.TierFastLLM, core.TierDeepLLM} {
		fs := core.FewShotExample{
			TierLevel:     level,
			ExampleType:   "human",
			Subject:       email.Subject,
			Sender:        email.Sender,
			Snippet:       utils.Truncate(email.Snippet, fastSnippetLimit),
			Category:      d.Category,
			Action:        d.Action,
			Reasoning:     d.Reasoning,
			Confidence:    d.Confidence,
			SourceEmailID: email.ID,
			IsActive:      true,
		}
		if level == core.TierDeepLLM {
			fs.BodyPreview = utils.Truncate(email.BodyText, deepBodyPreviewSize)
		}
		if err := t.examples.AddExample(ctx, fs); err != nil {
			t.logger.Warn("Failed to store few-shot example",
				zap.Stringer("tier_level", level), zap.Error(err))
		}
	}

	if t.rules == nil || d.Action != core.ActionDelete {
		return
	}
	if d.Category != core.CategoryPromotional && d.Category != core.CategorySpam {
		return
	}
	domain, ok := email.SenderDomain()
	if !ok {
		return
	}
	if err := t.rules.AddLearnedRule(ctx, core.RuleSenderDomain, domain,
		core.ActionDelete, d.Category, humanBlacklistConf, core.TierHuman); err != nil {
		t.logger.Warn("Failed to create blacklist rule", zap.Error(err))
	}
}
