package tiers

import (
	"context"
	"testing"

	"github.com/mikey/email-triage/internal/core"
	"go.uber.org/zap"
)

func TestRuleMatcher_AbstainsWithNoRules(t *testing.T) {
	m := NewRuleMatcher(newTestStore(), zap.NewNop())

	decision, err := m.Analyze(context.Background(), testEmail())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if decision != nil {
		t.Errorf("expected abstention on empty rule table, got %+v", decision)
	}
}

func TestRuleMatcher_DomainMatch(t *testing.T) {
	st := newTestStore()
	m := NewRuleMatcher(st, zap.NewNop())

	err := m.AddLearnedRule(context.Background(), core.RuleSenderDomain, "Newsletter.Acme.com",
		core.ActionDelete, core.CategoryPromotional, 0.9, core.TierFastLLM)
	if err != nil {
		t.Fatalf("AddLearnedRule failed: %v", err)
	}

	email := testEmail()
	email.SenderEmail = "deals@newsletter.acme.com"
	decision, err := m.Analyze(context.Background(), email)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if decision == nil {
		t.Fatal("expected a rule match")
	}
	if decision.Action != core.ActionDelete || decision.Category != core.CategoryPromotional {
		t.Errorf("decision = %+v", decision)
	}
	if decision.Tier != core.TierRules {
		t.Errorf("tier = %v, want 0", decision.Tier)
	}
	if decision.Reasoning != "Rule match: newsletter.acme.com (sender_domain)" {
		t.Errorf("reasoning = %q", decision.Reasoning)
	}
	if !decision.DeletionCandidate {
		t.Error("DELETE decision must be a deletion candidate")
	}
}

func TestRuleMatcher_ExactMatchIsExact(t *testing.T) {
	m := NewRuleMatcher(newTestStore(), zap.NewNop())
	ctx := context.Background()

	if err := m.AddLearnedRule(ctx, core.RuleSenderExact, "jane@acme.com",
		core.ActionKeep, core.CategoryWork, 0.9, core.TierDeepLLM); err != nil {
		t.Fatalf("AddLearnedRule failed: %v", err)
	}

	email := testEmail()
	email.SenderEmail = "jane@acme.com.evil.example"
	decision, err := m.Analyze(ctx, email)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if decision != nil {
		t.Errorf("exact rule matched a superstring address: %+v", decision)
	}

	email.SenderEmail = "JANE@acme.com"
	decision, err = m.Analyze(ctx, email)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if decision == nil {
		t.Fatal("exact match must be case-insensitive")
	}
}

func TestRuleMatcher_HighestConfidenceWins(t *testing.T) {
	m := NewRuleMatcher(newTestStore(), zap.NewNop())
	ctx := context.Background()

	if err := m.AddLearnedRule(ctx, core.RuleSenderDomain, "acme.com",
		core.ActionDelete, core.CategoryPromotional, 0.80, core.TierFastLLM); err != nil {
		t.Fatal(err)
	}
	if err := m.AddLearnedRule(ctx, core.RuleSenderExact, "jane@acme.com",
		core.ActionKeep, core.CategoryWork, 0.98, core.TierHuman); err != nil {
		t.Fatal(err)
	}

	decision, err := m.Analyze(ctx, testEmail())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if decision == nil {
		t.Fatal("expected a match")
	}
	if decision.Action != core.ActionKeep {
		t.Errorf("action = %v, want the higher-confidence KEEP rule", decision.Action)
	}
}

func TestRuleMatcher_CacheInvalidation(t *testing.T) {
	st := newTestStore()
	m := NewRuleMatcher(st, zap.NewNop())
	ctx := context.Background()

	// Prime the empty cache.
	if d, _ := m.Analyze(ctx, testEmail()); d != nil {
		t.Fatalf("unexpected decision: %+v", d)
	}

	// A rule written behind the matcher's back is invisible until
	// invalidation.
	if err := st.UpsertRule(ctx, core.Rule{
		Type: core.RuleSenderDomain, Pattern: "acme.com",
		Action: core.ActionKeep, Category: core.CategoryWork,
		Confidence: 0.9, IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}
	if d, _ := m.Analyze(ctx, testEmail()); d != nil {
		t.Errorf("stale cache unexpectedly served new rule: %+v", d)
	}

	m.Invalidate()
	d, err := m.Analyze(ctx, testEmail())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if d == nil {
		t.Error("rule not visible after invalidation")
	}
}

func TestRuleMatcher_SubjectAndSenderPatterns(t *testing.T) {
	m := NewRuleMatcher(newTestStore(), zap.NewNop())
	ctx := context.Background()

	if err := m.AddLearnedRule(ctx, core.RuleSubjectPattern, "invoice",
		core.ActionKeep, core.CategoryFinancial, 0.9, core.TierHuman); err != nil {
		t.Fatal(err)
	}

	email := testEmail()
	email.Subject = "Your INVOICE for May"
	decision, err := m.Analyze(ctx, email)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if decision == nil || decision.Category != core.CategoryFinancial {
		t.Fatalf("subject pattern did not match: %+v", decision)
	}
}
