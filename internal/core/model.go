package core

import (
	"strings"
	"time"
)

// Action is what the system does with an email once classified.
type Action string

const (
	ActionKeep    Action = "KEEP"
	ActionDelete  Action = "DELETE"
	ActionArchive Action = "ARCHIVE"
)

// ParseAction maps a string to a known Action.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionKeep:
		return ActionKeep, true
	case ActionDelete:
		return ActionDelete, true
	case ActionArchive:
		return ActionArchive, true
	}
	return "", false
}

// Category is the closed set of email categories.
type Category string

const (
	CategoryNewsletter    Category = "NEWSLETTER"
	CategoryPromotional   Category = "PROMOTIONAL"
	CategoryWork          Category = "WORK"
	CategoryFinancial     Category = "FINANCIAL"
	CategoryPersonal      Category = "PERSONAL"
	CategorySocial        Category = "SOCIAL"
	CategoryHealth        Category = "HEALTH"
	CategoryLegal         Category = "LEGAL"
	CategoryShopping      Category = "SHOPPING"
	CategoryEntertainment Category = "ENTERTAINMENT"
	CategorySpam          Category = "SPAM"
	CategoryUnknown       Category = "UNKNOWN"
)

// Categories lists every valid category in menu order.
var Categories = []Category{
	CategoryWork, CategoryFinancial, CategoryPersonal, CategoryHealth,
	CategoryLegal, CategoryNewsletter, CategoryPromotional, CategoryShopping,
	CategorySocial, CategoryEntertainment, CategorySpam, CategoryUnknown,
}

// ParseCategory maps a string to a known Category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Tier identifies a stage in the escalation cascade, 0 (cheapest) to 4 (human).
type Tier int

const (
	TierRules      Tier = 0
	TierClassifier Tier = 1
	TierFastLLM    Tier = 2
	TierDeepLLM    Tier = 3
	TierHuman      Tier = 4
)

func (t Tier) String() string {
	switch t {
	case TierRules:
		return "rules"
	case TierClassifier:
		return "classifier"
	case TierFastLLM:
		return "fast-llm"
	case TierDeepLLM:
		return "deep-llm"
	case TierHuman:
		return "human"
	}
	return "unknown"
}

// Email is one already-retrieved message record. Tiers 0-2 use the header
// fields and snippet; tiers 3-4 additionally use the body and metadata.
type Email struct {
	ID              int64
	MessageID       string
	ThreadID        string
	Subject         string
	Sender          string // display form, e.g. "John Doe <john@example.com>"
	SenderEmail     string
	Recipient       string
	DateSent        time.Time
	BodyText        string
	Snippet         string
	Labels          []string
	HasAttachments  bool
	AttachmentCount int
	SizeEstimate    int
}

// SenderDomain extracts the domain part of the sender address.
func (e *Email) SenderDomain() (string, bool) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(e.SenderEmail)), "@")
	if len(parts) != 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Decision is the terminal output of one tier for one email. Immutable once
// returned; the coordinator persists at most one per email.
type Decision struct {
	Action            Action
	Category          Category
	Confidence        float64
	Reasoning         string
	Tier              Tier
	ProcessingTime    time.Duration
	DeletionCandidate bool
	DeletionReason    string
	ImportanceScore   *int // 0-100, optional
	FraudScore        *int // 0-100, optional
}

// RuleType determines which email field a rule is matched against and
// whether the match is substring or exact.
type RuleType string

const (
	RuleSenderDomain   RuleType = "sender_domain"   // substring of sender email
	RuleSenderExact    RuleType = "sender_exact"    // equals sender email
	RuleSubjectPattern RuleType = "subject_pattern" // substring of subject
	RuleSenderPattern  RuleType = "sender_pattern"  // substring of display name
)

// Rule is one learned deterministic pattern, the system's memory.
// Uniqueness holds on (Type, Pattern, Action); a conflicting insert raises
// the stored confidence to the max of old and new.
type Rule struct {
	ID            int64
	Type          RuleType
	Pattern       string // stored lower-cased, compared case-insensitively
	Action        Action
	Category      Category
	Confidence    float64
	TimesMatched  int
	TimesCorrect  int
	LearnedFrom   int // how many emails contributed to this rule
	CreatedByTier Tier
	IsActive      bool
	FirstLearned  time.Time
}

// FewShotExample is a prior classification used to condition a generative
// prompt. Ranked by effectiveness then recency; bounded per tier.
type FewShotExample struct {
	ID            int64
	TierLevel     Tier // 2 or 3
	ExampleType   string
	Subject       string
	Sender        string
	Snippet       string
	BodyPreview   string // tier 3 only
	Category      Category
	Action        Action
	Reasoning     string
	Confidence    float64
	Effectiveness float64
	SourceEmailID int64
	IsActive      bool
	CreatedAt     time.Time
}

// TrainingExample is one labelled sample for the lightweight classifier.
type TrainingExample struct {
	Subject      string
	Sender       string
	Snippet      string
	Category     Category
	Action       Action
	Confidence   float64
	Reasoning    string
	GoldStandard bool // human-validated
	CreatedAt    time.Time
}

// Prediction is the lightweight classifier runtime's raw output.
type Prediction struct {
	Category     Category
	Action       Action
	Confidence   float64
	ModelVersion string
}

// HumanVerdict is what the operator entered for one email.
type HumanVerdict struct {
	Category        Category
	Action          Action
	Reasoning       string
	DeletionReason  string
	ImportanceScore *int
	FraudScore      *int
}

// RuleGroupStat is one (type, action) bucket of the rules summary.
type RuleGroupStat struct {
	Type          RuleType
	Action        Action
	Count         int
	AvgConfidence float64
	TotalMatches  int
}

// RulesSummary reports the current rule table for monitoring.
type RulesSummary struct {
	TotalActive int
	Breakdown   []RuleGroupStat
	TopRules    []Rule
}

// BatchSummary is the result of one batch run. A batch always completes with
// a summary even when individual emails failed.
type BatchSummary struct {
	Name             string
	TotalEmails      int
	Successful       int
	Failed           int
	HumanEscalations int
	Duration         time.Duration
	EmailsPerMinute  float64
	TierHandled      map[Tier]int
	LearningEvents   int
	Aborted          bool
}

// AutomationRate is the share of successful decisions made without a human.
func (b *BatchSummary) AutomationRate() float64 {
	if b.Successful == 0 {
		return 0
	}
	ai := b.Successful - b.HumanEscalations
	return float64(ai) / float64(b.Successful) * 100
}
