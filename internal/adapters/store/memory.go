package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mikey/email-triage/internal/core"
	"go.uber.org/zap"
)

// analysisKey identifies one stored decision. Re-running with a bumped
// analysis version or a different model re-analyzes everything.
type analysisKey struct {
	EmailID int64
	Version string
	Model   string
}

// MemoryStore is an in-memory implementation of all the store ports. Used by
// tests and by dry experiments where nothing should outlive the process.
type MemoryStore struct {
	mu sync.RWMutex

	rules    []core.Rule
	examples []core.FewShotExample
	training []core.TrainingExample
	emails   []core.Email
	analyses map[analysisKey]core.Decision

	nextRuleID    int64
	nextExampleID int64

	analysisVersion string
	model           string
	logger          *zap.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(analysisVersion, model string, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		analyses:        make(map[analysisKey]core.Decision),
		nextRuleID:      1,
		nextExampleID:   1,
		analysisVersion: analysisVersion,
		model:           model,
		logger:          logger,
	}
}

// ActiveRules returns active rules ordered by confidence desc, then match
// count desc.
func (s *MemoryStore) ActiveRules(ctx context.Context) ([]core.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].TimesMatched > out[j].TimesMatched
	})
	return out, nil
}

// UpsertRule inserts a rule or merges it into an existing
// (type, pattern, action) row: confidence becomes the max of old and new,
// the learn counter grows and the rule reactivates.
func (s *MemoryStore) UpsertRule(ctx context.Context, rule core.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rules {
		existing := &s.rules[i]
		if existing.Type == rule.Type && existing.Pattern == rule.Pattern && existing.Action == rule.Action {
			if rule.Confidence > existing.Confidence {
				existing.Confidence = rule.Confidence
			}
			existing.LearnedFrom++
			existing.IsActive = true
			return nil
		}
	}

	rule.ID = s.nextRuleID
	s.nextRuleID++
	if rule.LearnedFrom == 0 {
		rule.LearnedFrom = 1
	}
	rule.FirstLearned = time.Now()
	s.rules = append(s.rules, rule)
	return nil
}

// RecordMatch increments a rule's match counter.
func (s *MemoryStore) RecordMatch(ctx context.Context, ruleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rules {
		if s.rules[i].ID == ruleID {
			s.rules[i].TimesMatched++
			return nil
		}
	}
	return nil
}

// RulesSummary reports the active rule table grouped by (type, action) with
// the ten most-used rules.
func (s *MemoryStore) RulesSummary(ctx context.Context) (*core.RulesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type groupKey struct {
		Type   core.RuleType
		Action core.Action
	}
	groups := make(map[groupKey]*core.RuleGroupStat)
	var active []core.Rule

	for _, r := range s.rules {
		if !r.IsActive {
			continue
		}
		active = append(active, r)
		key := groupKey{r.Type, r.Action}
		g, ok := groups[key]
		if !ok {
			g = &core.RuleGroupStat{Type: r.Type, Action: r.Action}
			groups[key] = g
		}
		g.Count++
		g.AvgConfidence += r.Confidence
		g.TotalMatches += r.TimesMatched
	}

	summary := &core.RulesSummary{TotalActive: len(active)}
	for _, g := range groups {
		g.AvgConfidence /= float64(g.Count)
		summary.Breakdown = append(summary.Breakdown, *g)
	}
	sort.Slice(summary.Breakdown, func(i, j int) bool {
		if summary.Breakdown[i].Type != summary.Breakdown[j].Type {
			return summary.Breakdown[i].Type < summary.Breakdown[j].Type
		}
		return summary.Breakdown[i].Action < summary.Breakdown[j].Action
	})

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].TimesMatched > active[j].TimesMatched
	})
	if len(active) > 10 {
		active = active[:10]
	}
	summary.TopRules = active
	return summary, nil
}

// Examples returns active few-shot examples for one tier level ordered by
// effectiveness desc then recency desc, limited.
func (s *MemoryStore) Examples(ctx context.Context, tier core.Tier, limit int) ([]core.FewShotExample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.FewShotExample
	for _, ex := range s.examples {
		if ex.IsActive && ex.TierLevel == tier {
			out = append(out, ex)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Effectiveness != out[j].Effectiveness {
			return out[i].Effectiveness > out[j].Effectiveness
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddExample stores a few-shot example.
func (s *MemoryStore) AddExample(ctx context.Context, ex core.FewShotExample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ex.ID = s.nextExampleID
	s.nextExampleID++
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	s.examples = append(s.examples, ex)
	return nil
}

// AddTrainingExample appends one labelled training sample.
func (s *MemoryStore) AddTrainingExample(ctx context.Context, ex core.TrainingExample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	s.training = append(s.training, ex)
	return nil
}

// RecentExamples returns up to n of the most recently added training samples.
func (s *MemoryStore) RecentExamples(ctx context.Context, n int) ([]core.TrainingExample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if n > 0 && len(s.training) > n {
		start = len(s.training) - n
	}
	out := make([]core.TrainingExample, len(s.training)-start)
	copy(out, s.training[start:])
	return out, nil
}

// SaveDecision records one decision keyed by email, analysis version and
// model. A repeat save overwrites.
func (s *MemoryStore) SaveDecision(ctx context.Context, emailID int64, d *core.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.analyses[analysisKey{emailID, s.analysisVersion, s.model}] = *d
	return nil
}

// AddEmail loads one email record, oldest-first order is preserved by the
// caller feeding them in date order.
func (s *MemoryStore) AddEmail(email core.Email) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails = append(s.emails, email)
}

// UnanalyzedEmails returns emails without a stored decision for the current
// analysis version and model, oldest first.
func (s *MemoryStore) UnanalyzedEmails(ctx context.Context, limit int) ([]core.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Email
	for _, e := range s.emails {
		if _, done := s.analyses[analysisKey{e.ID, s.analysisVersion, s.model}]; done {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DateSent.Before(out[j].DateSent)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Decision returns the stored decision for an email, if any. Test helper.
func (s *MemoryStore) Decision(emailID int64) (core.Decision, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.analyses[analysisKey{emailID, s.analysisVersion, s.model}]
	return d, ok
}
