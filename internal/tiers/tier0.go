package tiers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/email-triage/internal/core"
	"go.uber.org/zap"
)

// RuleMatcher is tier 0: a linear scan over learned deterministic patterns.
// Zero network cost; with no rules it abstains on everything, so a fresh
// system escalates every email until higher tiers have taught it.
type RuleMatcher struct {
	store  core.RuleStore
	logger *zap.Logger

	// Lazily-populated snapshot of active rules. nil means "not loaded";
	// an empty loaded slice is cached so a blank rule table does not
	// trigger a reload per call. Single-writer, at-most-stale-read.
	rules  []core.Rule
	loaded bool
}

// NewRuleMatcher creates the tier 0 rule matcher. Rules load on first use.
func NewRuleMatcher(store core.RuleStore, logger *zap.Logger) *RuleMatcher {
	return &RuleMatcher{store: store, logger: logger}
}

// Tier returns the tier ordinal.
func (m *RuleMatcher) Tier() core.Tier { return core.TierRules }

// Invalidate drops the rule cache. The next Analyze call reloads, so rules
// committed before this call are visible on the very next match attempt.
func (m *RuleMatcher) Invalidate() {
	m.rules = nil
	m.loaded = false
}

// Analyze scans active rules against the email's sender, sender address and
// subject. First match wins; rules are pre-ordered most-trusted first. No
// match means abstain.
func (m *RuleMatcher) Analyze(ctx context.Context, email *core.Email) (*core.Decision, error) {
	start := time.Now()

	rules, err := m.activeRules(ctx)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	sender := strings.ToLower(email.Sender)
	subject := strings.ToLower(email.Subject)
	senderEmail := strings.ToLower(email.SenderEmail)

	for i := range rules {
		rule := &rules[i]
		if !ruleMatches(rule, sender, subject, senderEmail) {
			continue
		}

		// Fire-and-forget usage accounting; a failed update never blocks
		// the decision.
		if err := m.store.RecordMatch(ctx, rule.ID); err != nil {
			m.logger.Warn("Failed to record rule match",
				zap.Int64("rule_id", rule.ID), zap.Error(err))
		}

		decision := &core.Decision{
			Action:            rule.Action,
			Category:          rule.Category,
			Confidence:        rule.Confidence,
			Reasoning:         fmt.Sprintf("Rule match: %s (%s)", rule.Pattern, rule.Type),
			Tier:              core.TierRules,
			ProcessingTime:    time.Since(start),
			DeletionCandidate: rule.Action == core.ActionDelete,
		}
		if decision.DeletionCandidate {
			decision.DeletionReason = fmt.Sprintf("Learned pattern: %s", rule.Pattern)
		}
		return decision, nil
	}

	return nil, nil
}

func (m *RuleMatcher) activeRules(ctx context.Context) ([]core.Rule, error) {
	if m.loaded {
		return m.rules, nil
	}

	rules, err := m.store.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	m.rules = rules
	m.loaded = true

	if len(rules) == 0 {
		m.logger.Info("No learned rules yet, tier 0 will escalate everything")
	} else {
		m.logger.Debug("Loaded rule cache", zap.Int("rules", len(rules)))
	}
	return rules, nil
}

func ruleMatches(rule *core.Rule, sender, subject, senderEmail string) bool {
	pattern := strings.ToLower(rule.Pattern)
	switch rule.Type {
	case core.RuleSenderDomain:
		return strings.Contains(senderEmail, pattern)
	case core.RuleSenderExact:
		return senderEmail == pattern
	case core.RuleSubjectPattern:
		return strings.Contains(subject, pattern)
	case core.RuleSenderPattern:
		return strings.Contains(sender, pattern)
	}
	return false
}

// AddLearnedRule upserts a rule taught by a higher tier and invalidates the
// cache so the next Analyze call sees it. The error is informational;
// callers log it and move on.
func (m *RuleMatcher) AddLearnedRule(ctx context.Context, ruleType core.RuleType, pattern string, action core.Action, category core.Category, confidence float64, createdBy core.Tier) error {
	rule := core.Rule{
		Type:          ruleType,
		Pattern:       strings.ToLower(pattern),
		Action:        action,
		Category:      category,
		Confidence:    confidence,
		LearnedFrom:   1,
		CreatedByTier: createdBy,
		IsActive:      true,
	}
	if err := m.store.UpsertRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to store rule: %w", err)
	}
	m.Invalidate()

	m.logger.Info("Learned new rule",
		zap.String("type", string(ruleType)),
		zap.String("pattern", rule.Pattern),
		zap.String("action", string(action)),
		zap.Float64("confidence", confidence),
		zap.Stringer("taught_by", createdBy))
	return nil
}

// Summary reports the rule table for monitoring.
func (m *RuleMatcher) Summary(ctx context.Context) (*core.RulesSummary, error) {
	return m.store.RulesSummary(ctx)
}
