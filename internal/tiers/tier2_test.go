package tiers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mikey/email-triage/internal/core"
	"go.uber.org/zap"
)

func TestFastGenerative_AcceptsConfidentResponse(t *testing.T) {
	st := newTestStore()
	rules := NewRuleMatcher(st, zap.NewNop())
	gen := &fakeGenerator{response: `{"category": "WORK", "action": "KEEP", "confidence": 0.85, "reasoning": "Colleague sharing a report"}`}
	tier := NewFastGenerative(gen, st, st, rules, 0.75, 30*time.Second, zap.NewNop())

	d, err := tier.Analyze(context.Background(), testEmail())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if d == nil {
		t.Fatal("expected a decision")
	}
	if d.Category != core.CategoryWork || d.Action != core.ActionKeep {
		t.Errorf("decision = %+v", d)
	}
	if d.Tier != core.TierFastLLM {
		t.Errorf("tier = %v, want 2", d.Tier)
	}
	if d.Reasoning != "Colleague sharing a report" {
		t.Errorf("reasoning = %q", d.Reasoning)
	}
}

func TestFastGenerative_BackendErrorSurfaces(t *testing.T) {
	st := newTestStore()
	rules := NewRuleMatcher(st, zap.NewNop())
	gen := &fakeGenerator{err: errors.New("connection refused")}
	tier := NewFastGenerative(gen, st, st, rules, 0.75, 30*time.Second, zap.NewNop())

	d, err := tier.Analyze(context.Background(), testEmail())
	if err == nil {
		t.Fatal("expected an error from a failed backend call")
	}
	if d != nil {
		t.Errorf("decision = %+v, want nil", d)
	}
}

func TestFastGenerative_AbstainsOnGarbage(t *testing.T) {
	st := newTestStore()
	rules := NewRuleMatcher(st, zap.NewNop())
	gen := &fakeGenerator{response: "I think this is probably a work email, hard to say."}
	tier := NewFastGenerative(gen, st, st, rules, 0.75, 30*time.Second, zap.NewNop())

	d, err := tier.Analyze(context.Background(), testEmail())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if d != nil {
		t.Errorf("unparseable output must abstain, got %+v", d)
	}
}

func TestFastGenerative_AbstainsBelowFloorAndOnUnknown(t *testing.T) {
	cases := []struct {
		name     string
		response string
	}{
		{"below floor", `{"category": "WORK", "action": "KEEP", "confidence": 0.60, "reasoning": "maybe"}`},
		{"unknown category", `{"category": "UNKNOWN", "action": "KEEP", "confidence": 0.99, "reasoning": "unsure"}`},
		{"invalid category", `{"category": "RECIPES", "action": "KEEP", "confidence": 0.99, "reasoning": "x"}`},
		{"invalid action", `{"category": "WORK", "action": "FORWARD", "confidence": 0.99, "reasoning": "x"}`},
		{"confidence out of range", `{"category": "WORK", "action": "KEEP", "confidence": 1.4, "reasoning": "x"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newTestStore()
			rules := NewRuleMatcher(st, zap.NewNop())
			gen := &fakeGenerator{response: tc.response}
			tier := NewFastGenerative(gen, st, st, rules, 0.75, 30*time.Second, zap.NewNop())

			d, err := tier.Analyze(context.Background(), testEmail())
			if err != nil {
				t.Fatalf("Analyze failed: %v", err)
			}
			if d != nil {
				t.Errorf("expected abstention, got %+v", d)
			}
		})
	}
}

func TestFastGenerative_RepairsSloppyJSON(t *testing.T) {
	st := newTestStore()
	rules := NewRuleMatcher(st, zap.NewNop())
	gen := &fakeGenerator{response: "Here you go:\n```json\n{'category': 'NEWSLETTER', 'action': 'ARCHIVE', 'confidence': 0.8, 'reasoning': 'Weekly digest',}\n```"}
	tier := NewFastGenerative(gen, st, st, rules, 0.75, 30*time.Second, zap.NewNop())

	d, err := tier.Analyze(context.Background(), testEmail())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if d == nil {
		t.Fatal("repairable response must produce a decision")
	}
	if d.Category != core.CategoryNewsletter || d.Action != core.ActionArchive {
		t.Errorf("decision = %+v", d)
	}
}

func TestFastGenerative_AlwaysRecordsTrainingExample(t *testing.T) {
	st := newTestStore()
	rules := NewRuleMatcher(st, zap.NewNop())
	gen := &fakeGenerator{response: `{"category": "WORK", "action": "KEEP", "confidence": 0.80, "reasoning": "ok"}`}
	tier := NewFastGenerative(gen, st, st, rules, 0.75, 30*time.Second, zap.NewNop())

	if _, err := tier.Analyze(context.Background(), testEmail()); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	training, err := st.RecentExamples(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(training) != 1 {
		t.Fatalf("training examples = %d, want 1", len(training))
	}
	if training[0].Category != core.CategoryWork || training[0].GoldStandard {
		t.Errorf("training example = %+v", training[0])
	}

	// 0.80 clears neither the rule gate nor the example gate.
	activeRules, _ := st.ActiveRules(context.Background())
	if len(activeRules) != 0 {
		t.Errorf("rules = %d, want 0", len(activeRules))
	}
	examples, _ := st.Examples(context.Background(), core.TierFastLLM, 10)
	if len(examples) != 0 {
		t.Errorf("few-shot examples = %d, want 0", len(examples))
	}
}

func TestFastGenerative_StoredSnippetsStayValidUTF8(t *testing.T) {
	st := newTestStore()
	rules := NewRuleMatcher(st, zap.NewNop())
	gen := &fakeGenerator{response: `{"category": "WORK", "action": "KEEP", "confidence": 0.99, "reasoning": "ok"}`}
	tier := NewFastGenerative(gen, st, st, rules, 0.75, 30*time.Second, zap.NewNop())

	// Long multi-byte snippet; the storage limit falls inside a rune.
	email := testEmail()
	email.Snippet = "a" + strings.Repeat("é", 200)

	if _, err := tier.Analyze(context.Background(), email); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	training, err := st.RecentExamples(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(training) != 1 {
		t.Fatalf("training examples = %d, want 1", len(training))
	}
	if !utf8.ValidString(training[0].Snippet) {
		t.Errorf("training snippet is not valid UTF-8: %q", training[0].Snippet)
	}
	if len(training[0].Snippet) > 300 {
		t.Errorf("training snippet = %d bytes, want <= 300", len(training[0].Snippet))
	}

	examples, _ := st.Examples(context.Background(), core.TierFastLLM, 1)
	if len(examples) != 1 {
		t.Fatalf("few-shot examples = %d, want 1", len(examples))
	}
	if !utf8.ValidString(examples[0].Snippet) {
		t.Errorf("few-shot snippet is not valid UTF-8: %q", examples[0].Snippet)
	}
}

func TestFastGenerative_WhitelistRuleCreation(t *testing.T) {
	st := newTestStore()
	rules := NewRuleMatcher(st, zap.NewNop())
	gen := &fakeGenerator{response: `{"category": "WORK", "action": "KEEP", "confidence": 0.99, "reasoning": "known colleague"}`}
	tier := NewFastGenerative(gen, st, st, rules, 0.75, 30*time.Second, zap.NewNop())

	if _, err := tier.Analyze(context.Background(), testEmail()); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	activeRules, _ := st.ActiveRules(context.Background())
	if len(activeRules) != 1 {
		t.Fatalf("rules = %d, want 1", len(activeRules))
	}
	r := activeRules[0]
	if r.Type != core.RuleSenderExact || r.Pattern != "jane@acme.com" || r.Action != core.ActionKeep {
		t.Errorf("rule = %+v", r)
	}
	// 0.99 - 0.02 = 0.97, capped at 0.95.
	if r.Confidence != 0.95 {
		t.Errorf("rule confidence = %v, want 0.95", r.Confidence)
	}
	if r.CreatedByTier != core.TierFastLLM {
		t.Errorf("created by tier %v", r.CreatedByTier)
	}

	// 0.99 also clears the few-shot gate.
	examples, _ := st.Examples(context.Background(), core.TierFastLLM, 10)
	if len(examples) != 1 {
		t.Errorf("few-shot examples = %d, want 1", len(examples))
	}
}

func TestFastGenerative_BlacklistNeedsMarketingDomain(t *testing.T) {
	response := `{"category": "PROMOTIONAL", "action": "DELETE", "confidence": 0.97, "reasoning": "bulk mail"}`

	// A plain personal-looking domain never becomes a blacklist rule.
	st := newTestStore()
	rules := NewRuleMatcher(st, zap.NewNop())
	tier := NewFastGenerative(&fakeGenerator{response: response}, st, st, rules, 0.75, 30*time.Second, zap.NewNop())

	email := testEmail()
	email.SenderEmail = "friend@gmail.com"
	if _, err := tier.Analyze(context.Background(), email); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if activeRules, _ := st.ActiveRules(context.Background()); len(activeRules) != 0 {
		t.Errorf("rules = %d for non-marketing domain, want 0", len(activeRules))
	}

	// A self-identifying bulk domain does.
	st = newTestStore()
	rules = NewRuleMatcher(st, zap.NewNop())
	tier = NewFastGenerative(&fakeGenerator{response: response}, st, st, rules, 0.75, 30*time.Second, zap.NewNop())

	email = testEmail()
	email.SenderEmail = "deals@marketing.bigbox.com"
	if _, err := tier.Analyze(context.Background(), email); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	activeRules, _ := st.ActiveRules(context.Background())
	if len(activeRules) != 1 {
		t.Fatalf("rules = %d, want 1", len(activeRules))
	}
	r := activeRules[0]
	if r.Type != core.RuleSenderDomain || r.Pattern != "marketing.bigbox.com" {
		t.Errorf("rule = %+v", r)
	}
	// 0.97 - 0.05 = 0.92, above the 0.90 cap.
	if r.Confidence != 0.90 {
		t.Errorf("rule confidence = %v, want 0.90", r.Confidence)
	}
}

func TestFastGenerative_PromptContainsFewShot(t *testing.T) {
	st := newTestStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := st.AddExample(ctx, core.FewShotExample{
			TierLevel: core.TierFastLLM, ExampleType: "auto",
			Subject: "50% off everything", Sender: "deals@shop.example",
			Snippet:  "Huge savings this weekend only",
			Category: core.CategoryPromotional, Action: core.ActionDelete,
			Confidence: 0.95, IsActive: true,
		}); err != nil {
			t.Fatal(err)
		}
	}

	rules := NewRuleMatcher(st, zap.NewNop())
	gen := &fakeGenerator{response: `{"category": "WORK", "action": "KEEP", "confidence": 0.85, "reasoning": "ok"}`}
	tier := NewFastGenerative(gen, st, st, rules, 0.75, 30*time.Second, zap.NewNop())

	if _, err := tier.Analyze(ctx, testEmail()); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("backend calls = %d, want 1", len(gen.prompts))
	}
	prompt := gen.prompts[0]
	if !strings.Contains(prompt, "Examples of prior classifications:") {
		t.Error("prompt missing few-shot section")
	}
	// Five stored, at most three go into the prompt.
	if n := strings.Count(prompt, "50% off everything"); n != 3 {
		t.Errorf("few-shot examples in prompt = %d, want 3", n)
	}
	if !strings.Contains(prompt, "Quarterly report attached") {
		t.Error("prompt missing the email under classification")
	}
}
