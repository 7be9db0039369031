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
	deepBodyLimit       = 2000
	deepExampleLoad     = 3
	deepRuleGate        = 0.95
	deepExampleGate     = 0.90
	deepPushGate        = 0.95
	deepWhitelistConf   = 0.98
	deepBlacklistConf   = 0.92
	deepBodyPreviewSize = 500
)

// deepMarketingKeywords gates the tier 3 domain blacklist, slightly wider
// than tier 2's because the full body confirms the bulk nature.
var deepMarketingKeywords = []string{
	"unsubscribe", "newsletter", "noreply", "marketing", "promotions",
}

// deepResponse extends the base response with the sender relationship
// assessment that gates rule creation.
type deepResponse struct {
	llmResponse
	SenderRelationship string `json:"sender_relationship"`
}

// DeepGenerative is tier 3: a slow, thorough generative pass over the full
// email body. Reaching this tier means every cheaper tier abstained, so it
// reads everything and must justify its answer.
type DeepGenerative struct {
	generator core.TextGenerator
	examples  core.ExampleStore
	training  core.TrainingStore
	rules     *RuleMatcher
	text      *utils.TextProcessor
	logger    *zap.Logger

	confidenceFloor float64
	timeout         time.Duration

	cached []core.FewShotExample
	loaded bool
}

// NewDeepGenerative creates tier 3.
func NewDeepGenerative(
	generator core.TextGenerator,
	examples core.ExampleStore,
	training core.TrainingStore,
	rules *RuleMatcher,
	confidenceFloor float64,
	timeout time.Duration,
	logger *zap.Logger,
) *DeepGenerative {
	if confidenceFloor <= 0 {
		confidenceFloor = 0.60
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &DeepGenerative{
		generator:       generator,
		examples:        examples,
		training:        training,
		rules:           rules,
		text:            utils.NewTextProcessor(logger),
		logger:          logger,
		confidenceFloor: confidenceFloor,
		timeout:         timeout,
	}
}

// Tier returns the tier ordinal.
func (t *DeepGenerative) Tier() core.Tier { return core.TierDeepLLM }

// Invalidate drops the few-shot example cache.
func (t *DeepGenerative) Invalidate() {
	t.cached = nil
	t.loaded = false
}

// Analyze runs the deep classification with the full body in the prompt.
// The floor is lower than tier 2's: a reasoned answer over the whole email
// is trusted further than a snippet glance. Explicit reasoning is required;
// a response without it abstains.
func (t *DeepGenerative) Analyze(ctx context.Context, email *core.Email) (*core.Decision, error) {
	start := time.Now()

	prompt := t.buildPrompt(ctx, email)

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	raw, err := t.generator.Generate(callCtx, prompt)
	if err != nil {
		return nil, fmt.Errorf("deep backend call failed: %w", err)
	}

	resp, ok := parseDeepResponse(raw)
	if !ok {
		t.logger.Warn("Unparseable deep backend response, escalating to human",
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

	decision := &core.Decision{
		Action:            action,
		Category:          category,
		Confidence:        resp.Confidence,
		Reasoning:         resp.Reasoning,
		Tier:              core.TierDeepLLM,
		ProcessingTime:    time.Since(start),
		DeletionCandidate: action == core.ActionDelete,
	}
	if decision.DeletionCandidate {
		decision.DeletionReason = resp.Reasoning
	}

	t.learn(ctx, email, decision, resp.SenderRelationship)
	return decision, nil
}

func (t *DeepGenerative) buildPrompt(ctx context.Context, email *core.Email) string {
	var b strings.Builder

	b.WriteString("You are an email triage assistant performing a thorough review. ")
	b.WriteString("Cheaper classifiers could not decide this email, so read it fully.\n\n")
	b.WriteString("Classify into exactly one category:\n")
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
	b.WriteString("Also assess the sender relationship: one of business, marketing, personal, unknown.\n\n")

	for i, ex := range t.fewShot(ctx) {
		if i == 0 {
			b.WriteString("Examples of prior classifications:\n")
		}
		fmt.Fprintf(&b, "Subject: %s\nFrom: %s\nBody: %s\n-> category=%s action=%s reasoning=%s\n\n",
			ex.Subject, ex.Sender, ex.BodyPreview, ex.Category, ex.Action, ex.Reasoning)
	}

	age := ""
	if !email.DateSent.IsZero() {
		age = fmt.Sprintf(" (%d days ago)", int(time.Since(email.DateSent).Hours()/24))
	}
	fmt.Fprintf(&b, "Email to classify:\nSubject: %s\nFrom: %s\nTo: %s\nDate: %s%s\nAttachments: %d\n",
		email.Subject, email.Sender, email.Recipient,
		email.DateSent.Format("2006-01-02"), age, email.AttachmentCount)
	if len(email.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(email.Labels, ", "))
	}
	fmt.Fprintf(&b, "\nBody:\n%s\n\n", t.text.ProcessText(email.BodyText, deepBodyLimit))

	b.WriteString(`Respond with only a JSON object: {"category": "...", "action": "...", "confidence": 0.0, "reasoning": "...", "sender_relationship": "..."}`)
	return b.String()
}

func (t *DeepGenerative) fewShot(ctx context.Context) []core.FewShotExample {
	if !t.loaded {
		examples, err := t.examples.Examples(ctx, core.TierDeepLLM, deepExampleLoad)
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

// learn emits the downward artifacts. Rule creation is double-gated on
// confidence and on the model's own relationship assessment, so a one-off
// confident read cannot blacklist a mixed-use domain.
func (t *DeepGenerative) learn(ctx context.Context, email *core.Email, d *core.Decision, relationship string) {
	t.addTrainingExample(ctx, email, d)

	relationship = strings.ToLower(relationship)
	if d.Confidence >= deepRuleGate && t.rules != nil {
		t.maybeCreateRule(ctx, email, d, relationship)
	}

	if d.Confidence > deepExampleGate {
		t.addExample(ctx, email, d, core.TierDeepLLM)
	}
	// A near-certain deep read is exactly what the fast tier should imitate
	// next time a similar email arrives.
	if d.Confidence > deepPushGate {
		t.addExample(ctx, email, d, core.TierFastLLM)
	}
}

func (t *DeepGenerative) addExample(ctx context.Context, email *core.Email, d *core.Decision, level core.Tier) {
	ex := core.FewShotExample{
		TierLevel:     level,
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
	if level == core.TierDeepLLM {
		ex.BodyPreview = utils.Truncate(email.BodyText, deepBodyPreviewSize)
	}
	if err := t.examples.AddExample(ctx, ex); err != nil {
		t.logger.Warn("Failed to store few-shot example",
			zap.Stringer("tier_level", level), zap.Error(err))
	}
}

func (t *DeepGenerative) addTrainingExample(ctx context.Context, email *core.Email, d *core.Decision) {
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

func (t *DeepGenerative) maybeCreateRule(ctx context.Context, email *core.Email, d *core.Decision, relationship string) {
	switch {
	case strings.Contains(relationship, "business"):
		switch d.Category {
		case core.CategoryWork, core.CategoryFinancial, core.CategoryLegal, core.CategoryHealth:
		default:
			return
		}
		if d.Action != core.ActionKeep || email.SenderEmail == "" {
			return
		}
		if err := t.rules.AddLearnedRule(ctx, core.RuleSenderExact, email.SenderEmail,
			core.ActionKeep, d.Category, deepWhitelistConf, core.TierDeepLLM); err != nil {
			t.logger.Warn("Failed to create whitelist rule", zap.Error(err))
		}

	case strings.Contains(relationship, "marketing"):
		if d.Category != core.CategoryPromotional && d.Category != core.CategorySpam {
			return
		}
		if d.Action != core.ActionDelete {
			return
		}
		domain, ok := email.SenderDomain()
		if !ok || !containsAny(domain, deepMarketingKeywords) {
			return
		}
		if err := t.rules.AddLearnedRule(ctx, core.RuleSenderDomain, domain,
			core.ActionDelete, d.Category, deepBlacklistConf, core.TierDeepLLM); err != nil {
			t.logger.Warn("Failed to create blacklist rule", zap.Error(err))
		}
	}
}

// parseDeepResponse is parseLLMResponse plus the required reasoning field.
func parseDeepResponse(raw string) (*deepResponse, bool) {
	extracted, ok := utils.ExtractJSON(raw)
	if !ok {
		return nil, false
	}

	var resp deepResponse
	if err := json.Unmarshal([]byte(extracted), &resp); err != nil {
		repaired := utils.RepairJSON(extracted)
		if err := json.Unmarshal([]byte(repaired), &resp); err != nil {
			return nil, false
		}
	}
	if resp.Category == "" || resp.Action == "" || strings.TrimSpace(resp.Reasoning) == "" {
		return nil, false
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return nil, false
	}
	return &resp, true
}
