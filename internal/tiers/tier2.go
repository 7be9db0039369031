package tiers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/email-triage/internal/core"
	"github.com/mikey/email-triage/internal/utils"
	"go.uber.org/zap"
)

const (
	fastSnippetLimit   = 300
	promptExampleLimit = 3
	fastExampleLoad    = 5
	fastRuleGate       = 0.95
	fastExampleGate    = 0.90
	whitelistRuleCap   = 0.95
	whitelistRuleShade = 0.02
	blacklistRuleCap   = 0.90
	blacklistRuleShade = 0.05
)

// fastMarketingKeywords gates domain blacklist rules: a DELETE rule is only
// learned for domains that self-identify as bulk senders.
var fastMarketingKeywords = []string{
	"noreply", "no-reply", "newsletter", "marketing", "promotions", "deals", "offers",
}

// llmResponse is the JSON object both generative tiers require from the model.
type llmResponse struct {
	Category   string  `json:"category"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// FastGenerative is tier 2: a single round-trip to a fast generative backend
// over headers and snippet only. It is the first tier able to teach the
// tiers below it.
type FastGenerative struct {
	generator core.TextGenerator
	examples  core.ExampleStore
	training  core.TrainingStore
	rules     *RuleMatcher
	logger    *zap.Logger

	confidenceFloor float64
	timeout         time.Duration

	// Few-shot example cache; nil+unloaded until first use.
	cached []core.FewShotExample
	loaded bool
}

// NewFastGenerative creates tier 2.
func NewFastGenerative(
	generator core.TextGenerator,
	examples core.ExampleStore,
	training core.TrainingStore,
	rules *RuleMatcher,
	confidenceFloor float64,
	timeout time.Duration,
	logger *zap.Logger,
) *FastGenerative {
	if confidenceFloor <= 0 {
		confidenceFloor = 0.75
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FastGenerative{
		generator:       generator,
		examples:        examples,
		training:        training,
		rules:           rules,
		logger:          logger,
		confidenceFloor: confidenceFloor,
		timeout:         timeout,
	}
}

// Tier returns the tier ordinal.
func (t *FastGenerative) Tier() core.Tier { return core.TierFastLLM }

// Invalidate drops the few-shot example cache.
func (t *FastGenerative) Invalidate() {
	t.cached = nil
	t.loaded = false
}

// Analyze sends one bounded prompt to the fast backend and accepts the
// parsed result only above the confidence floor. UNKNOWN always abstains
// regardless of confidence; an unusable response abstains rather than erroring
// so the deep tier gets its chance.
func (t *FastGenerative) Analyze(ctx context.Context, email *core.Email) (*core.Decision, error) {
	start := time.Now()

	prompt := t.buildPrompt(ctx, email)

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	raw, err := t.generator.Generate(callCtx, prompt)
	if err != nil {
		return nil, fmt.Errorf("fast backend call failed: %w", err)
	}

	resp, ok := parseLLMResponse(raw)
	if !ok {
		t.logger.Warn("Unparseable fast backend response, escalating",
			zap.Int64("email_id", email.ID),
			zap.String("model", t.generator.ModelName()))
		return nil, nil
	}

	category, catOK := core.ParseCategory(resp.Category)
	action, actOK := core.ParseAction(resp.Action)
	if !catOK || !actOK {
		return nil, nil
	}
	if category == core.CategoryUnknown || resp.Confidence < t.confidenceFloor {
		return nil, nil
	}

	reasoning := resp.Reasoning
	if reasoning == "" {
		reasoning = fmt.Sprintf("Classified as %s by %s", category, t.generator.ModelName())
	}

	decision := &core.Decision{
		Action:            action,
		Category:          category,
		Confidence:        resp.Confidence,
		Reasoning:         reasoning,
		Tier:              core.TierFastLLM,
		ProcessingTime:    time.Since(start),
		DeletionCandidate: action == core.ActionDelete,
	}
	if decision.DeletionCandidate {
		decision.DeletionReason = reasoning
	}

	t.learn(ctx, email, decision)
	return decision, nil
}

func (t *FastGenerative) buildPrompt(ctx context.Context, email *core.Email) string {
	var b strings.Builder

	b.WriteString("You are an email triage assistant. Classify the email into exactly one category:\n")
	for _, c := range core.Categories {
		if c == core.CategoryUnknown {
			continue
		}
		b.WriteString(string(c))
		b.WriteString(" ")
	}
	b.WriteString("\n\nChoose one action: KEEP (important, keep in inbox), ")
	b.WriteString("ARCHIVE (worth keeping but not in the inbox), DELETE (safe to remove).\n")
	b.WriteString("Be conservative: when unsure, prefer KEEP and lower your confidence.\n")
	b.WriteString("Use UNKNOWN only when you genuinely cannot tell.\n\n")

	for i, ex := range t.fewShot(ctx) {
		if i == 0 {
			b.WriteString("Examples of prior classifications:\n")
		}
		fmt.Fprintf(&b, "Subject: %s\nFrom: %s\nPreview: %s\n-> category=%s action=%s\n\n",
			ex.Subject, ex.Sender, ex.Snippet, ex.Category, ex.Action)
	}

	snippet := utils.Truncate(email.Snippet, fastSnippetLimit)
	fmt.Fprintf(&b, "Email to classify:\nSubject: %s\nFrom: %s\nDate: %s\nHas attachments: %t\nPreview: %s\n\n",
		email.Subject, email.Sender, email.DateSent.Format("2006-01-02"), email.HasAttachments, snippet)

	b.WriteString(`Respond with only a JSON object: {"category": "...", "action": "...", "confidence": 0.0, "reasoning": "..."}`)
	return b.String()
}

// fewShot returns up to three cached examples. A load failure degrades to a
// zero-shot prompt; it never fails the classification.
func (t *FastGenerative) fewShot(ctx context.Context) []core.FewShotExample {
	if !t.loaded {
		examples, err := t.examples.Examples(ctx, core.TierFastLLM, fastExampleLoad)
		if err != nil {
			t.logger.Warn("Failed to load few-shot examples", zap.Error(err))
			examples = nil
		}
		t.cached = examples
		t.loaded = true
	}
	if len(t.cached) > promptExampleLimit {
		return t.cached[:promptExampleLimit]
	}
	return t.cached
}

// learn emits the downward learning artifacts for one accepted decision.
// Every write is fire-and-forget; a failed write costs a future shortcut,
// never the present decision.
func (t *FastGenerative) learn(ctx context.Context, email *core.Email, d *core.Decision) {
	t.addTrainingExample(ctx, email, d)

	if d.Confidence >= fastRuleGate && t.rules != nil {
		t.maybeCreateRule(ctx, email, d)
	}
	if d.Confidence > fastExampleGate {
		ex := core.FewShotExample{
			TierLevel:     core.TierFastLLM,
			ExampleType:   "auto",
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
		if err := t.examples.AddExample(ctx, ex); err != nil {
			t.logger.Warn("Failed to store few-shot example", zap.Error(err))
		}
	}
}

func (t *FastGenerative) addTrainingExample(ctx context.Context, email *core.Email, d *core.Decision) {
	ex := core.TrainingExample{
		Subject:    email.Subject,
		Sender:     email.Sender,
		Snippet:    utils.Truncate(email.Snippet, fastSnippetLimit),
		Category:   d.Category,
		Action:     d.Action,
		Confidence: d.Confidence,
		Reasoning:  d.Reasoning,
	}
	if err := t.training.AddTrainingExample(ctx, ex); err != nil {
		t.logger.Warn("Failed to store training example", zap.Error(err))
	}
}

// maybeCreateRule promotes a very confident decision into a tier 0 rule.
// Whitelist rules pin the exact sender; blacklist rules cover the domain but
// only when the domain itself reads like a bulk sender. Subject rules are
// never created here, subjects are too variable to memorize safely.
func (t *FastGenerative) maybeCreateRule(ctx context.Context, email *core.Email, d *core.Decision) {
	switch d.Category {
	case core.CategoryWork, core.CategoryFinancial, core.CategoryPersonal, core.CategoryHealth:
		if d.Action != core.ActionKeep || email.SenderEmail == "" {
			return
		}
		conf := min64(d.Confidence-whitelistRuleShade, whitelistRuleCap)
		if err := t.rules.AddLearnedRule(ctx, core.RuleSenderExact, email.SenderEmail,
			core.ActionKeep, d.Category, conf, core.TierFastLLM); err != nil {
			t.logger.Warn("Failed to create whitelist rule", zap.Error(err))
		}

	case core.CategoryPromotional, core.CategorySpam:
		if d.Action != core.ActionDelete {
			return
		}
		domain, ok := email.SenderDomain()
		if !ok || !containsAny(domain, fastMarketingKeywords) {
			return
		}
		conf := min64(d.Confidence-blacklistRuleShade, blacklistRuleCap)
		if err := t.rules.AddLearnedRule(ctx, core.RuleSenderDomain, domain,
			core.ActionDelete, d.Category, conf, core.TierFastLLM); err != nil {
			t.logger.Warn("Failed to create blacklist rule", zap.Error(err))
		}
	}
}

// parseLLMResponse extracts and parses the JSON object from raw model output,
// applying one bounded repair pass when the first parse fails.
func parseLLMResponse(raw string) (*llmResponse, bool) {
	extracted, ok := utils.ExtractJSON(raw)
	if !ok {
		return nil, false
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(extracted), &resp); err != nil {
		repaired := utils.RepairJSON(extracted)
		if err := json.Unmarshal([]byte(repaired), &resp); err != nil {
			return nil, false
		}
	}
	if resp.Category == "" || resp.Action == "" {
		return nil, false
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return nil, false
	}
	return &resp, true
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
