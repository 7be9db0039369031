package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/mikey/email-triage/internal/core"
	"go.uber.org/zap"
)

func newStore() *MemoryStore {
	return NewMemoryStore("v1", "test", zap.NewNop())
}

func TestUpsertRule_MergesOnConflict(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	rule := core.Rule{
		Type: core.RuleSenderDomain, Pattern: "deals.example",
		Action: core.ActionDelete, Category: core.CategoryPromotional,
		Confidence: 0.90, IsActive: true,
	}
	if err := s.UpsertRule(ctx, rule); err != nil {
		t.Fatal(err)
	}

	// A weaker repeat must not lower the stored confidence.
	rule.Confidence = 0.80
	if err := s.UpsertRule(ctx, rule); err != nil {
		t.Fatal(err)
	}
	rules, _ := s.ActiveRules(ctx)
	if len(rules) != 1 {
		t.Fatalf("rules = %d, want 1 merged row", len(rules))
	}
	if rules[0].Confidence != 0.90 {
		t.Errorf("confidence = %v, want 0.90 kept", rules[0].Confidence)
	}
	if rules[0].LearnedFrom != 2 {
		t.Errorf("learned_from = %d, want 2", rules[0].LearnedFrom)
	}

	// A stronger repeat raises it.
	rule.Confidence = 0.97
	if err := s.UpsertRule(ctx, rule); err != nil {
		t.Fatal(err)
	}
	rules, _ = s.ActiveRules(ctx)
	if rules[0].Confidence != 0.97 {
		t.Errorf("confidence = %v, want 0.97", rules[0].Confidence)
	}
	if rules[0].LearnedFrom != 3 {
		t.Errorf("learned_from = %d, want 3", rules[0].LearnedFrom)
	}
}

func TestUpsertRule_DifferentActionIsNewRule(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	base := core.Rule{
		Type: core.RuleSenderDomain, Pattern: "shop.example",
		Action: core.ActionDelete, Category: core.CategoryPromotional,
		Confidence: 0.9, IsActive: true,
	}
	if err := s.UpsertRule(ctx, base); err != nil {
		t.Fatal(err)
	}
	base.Action = core.ActionArchive
	if err := s.UpsertRule(ctx, base); err != nil {
		t.Fatal(err)
	}

	rules, _ := s.ActiveRules(ctx)
	if len(rules) != 2 {
		t.Errorf("rules = %d, want 2 distinct rows", len(rules))
	}
}

func TestUpsertRule_ReactivatesInactive(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	if err := s.UpsertRule(ctx, core.Rule{
		Type: core.RuleSenderExact, Pattern: "old@ex.com",
		Action: core.ActionKeep, Category: core.CategoryWork,
		Confidence: 0.9, IsActive: false,
	}); err != nil {
		t.Fatal(err)
	}
	if rules, _ := s.ActiveRules(ctx); len(rules) != 0 {
		t.Fatal("inactive rule listed as active")
	}

	if err := s.UpsertRule(ctx, core.Rule{
		Type: core.RuleSenderExact, Pattern: "old@ex.com",
		Action: core.ActionKeep, Category: core.CategoryWork,
		Confidence: 0.85, IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}
	if rules, _ := s.ActiveRules(ctx); len(rules) != 1 {
		t.Error("conflicting upsert did not reactivate the rule")
	}
}

func TestActiveRules_Ordering(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	for _, r := range []core.Rule{
		{Type: core.RuleSenderDomain, Pattern: "a.example", Action: core.ActionDelete, Confidence: 0.80, IsActive: true},
		{Type: core.RuleSenderDomain, Pattern: "b.example", Action: core.ActionDelete, Confidence: 0.95, IsActive: true},
		{Type: core.RuleSenderDomain, Pattern: "c.example", Action: core.ActionDelete, Confidence: 0.95, IsActive: true},
	} {
		if err := s.UpsertRule(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	// Make c.example the more used of the two 0.95 rules.
	rules, _ := s.ActiveRules(ctx)
	for _, r := range rules {
		if r.Pattern == "c.example" {
			if err := s.RecordMatch(ctx, r.ID); err != nil {
				t.Fatal(err)
			}
		}
	}

	rules, _ = s.ActiveRules(ctx)
	if len(rules) != 3 {
		t.Fatalf("rules = %d", len(rules))
	}
	if rules[0].Pattern != "c.example" || rules[1].Pattern != "b.example" || rules[2].Pattern != "a.example" {
		t.Errorf("order = %s, %s, %s", rules[0].Pattern, rules[1].Pattern, rules[2].Pattern)
	}
}

func TestRulesSummary(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	for _, r := range []core.Rule{
		{Type: core.RuleSenderDomain, Pattern: "a.example", Action: core.ActionDelete, Confidence: 0.90, IsActive: true},
		{Type: core.RuleSenderDomain, Pattern: "b.example", Action: core.ActionDelete, Confidence: 0.80, IsActive: true},
		{Type: core.RuleSenderExact, Pattern: "x@y.com", Action: core.ActionKeep, Confidence: 0.95, IsActive: true},
		{Type: core.RuleSenderExact, Pattern: "dead@y.com", Action: core.ActionKeep, Confidence: 0.95, IsActive: false},
	} {
		if err := s.UpsertRule(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	summary, err := s.RulesSummary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalActive != 3 {
		t.Errorf("total active = %d, want 3", summary.TotalActive)
	}
	if len(summary.Breakdown) != 2 {
		t.Fatalf("breakdown groups = %d, want 2", len(summary.Breakdown))
	}
	for _, g := range summary.Breakdown {
		if g.Type == core.RuleSenderDomain {
			if g.Count != 2 || math.Abs(g.AvgConfidence-0.85) > 1e-9 {
				t.Errorf("domain group = %+v", g)
			}
		}
	}
}

func TestExamples_FilterOrderLimit(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	add := func(tier core.Tier, subject string, eff float64, at time.Time, active bool) {
		t.Helper()
		if err := s.AddExample(ctx, core.FewShotExample{
			TierLevel: tier, Subject: subject, Effectiveness: eff,
			CreatedAt: at, IsActive: active,
		}); err != nil {
			t.Fatal(err)
		}
	}

	add(core.TierFastLLM, "low", 0.1, base, true)
	add(core.TierFastLLM, "high", 0.9, base, true)
	add(core.TierFastLLM, "newer", 0.1, base.Add(time.Hour), true)
	add(core.TierFastLLM, "inactive", 1.0, base, false)
	add(core.TierDeepLLM, "other tier", 1.0, base, true)

	got, err := s.Examples(ctx, core.TierFastLLM, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("examples = %d, want 2", len(got))
	}
	if got[0].Subject != "high" || got[1].Subject != "newer" {
		t.Errorf("order = %s, %s", got[0].Subject, got[1].Subject)
	}
}

func TestRecentExamples_ReturnsTail(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.AddTrainingExample(ctx, core.TrainingExample{
			Subject: string(rune('a' + i)),
		}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RecentExamples(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("examples = %d, want 2", len(got))
	}
	if got[0].Subject != "d" || got[1].Subject != "e" {
		t.Errorf("tail = %s, %s", got[0].Subject, got[1].Subject)
	}
}

func TestUnanalyzedEmails(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	// Added newest-first; listing must come back oldest-first.
	s.AddEmail(core.Email{ID: 3, DateSent: base.Add(2 * time.Hour)})
	s.AddEmail(core.Email{ID: 1, DateSent: base})
	s.AddEmail(core.Email{ID: 2, DateSent: base.Add(time.Hour)})

	if err := s.SaveDecision(ctx, 1, &core.Decision{
		Action: core.ActionKeep, Category: core.CategoryWork, Confidence: 0.9,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.UnanalyzedEmails(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("emails = %d, want 2", len(got))
	}
	if got[0].ID != 2 || got[1].ID != 3 {
		t.Errorf("order = %d, %d", got[0].ID, got[1].ID)
	}

	if got, _ := s.UnanalyzedEmails(ctx, 1); len(got) != 1 || got[0].ID != 2 {
		t.Errorf("limited list = %+v", got)
	}

	if d, ok := s.Decision(1); !ok || d.Category != core.CategoryWork {
		t.Errorf("stored decision = (%+v, %v)", d, ok)
	}
}
