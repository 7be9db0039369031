package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/mikey/email-triage/internal/core"
	"go.uber.org/zap"
)

// MySQLStore is the shared-database backend for archives that outgrow a
// single file. Same port surface as SQLiteStore.
type MySQLStore struct {
	db              *sql.DB
	logger          *zap.Logger
	analysisVersion string
	model           string
}

// NewMySQLStore connects to the triage database and verifies the connection.
// The schema is expected to exist; MySQL deployments run migrations out of
// band.
func NewMySQLStore(dsn, analysisVersion, model string, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	return &MySQLStore{
		db:              db,
		logger:          logger,
		analysisVersion: analysisVersion,
		model:           model,
	}, nil
}

// ActiveRules returns active rules ordered by confidence desc, then match
// count desc.
func (s *MySQLStore) ActiveRules(ctx context.Context) ([]core.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_type, pattern, action, category, confidence,
		       times_matched, times_correct, learned_from, created_by_tier, first_learned
		FROM tier0_rules
		WHERE is_active = 1
		ORDER BY confidence DESC, times_matched DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []core.Rule
	for rows.Next() {
		var r core.Rule
		var firstLearned sql.NullTime
		if err := rows.Scan(&r.ID, &r.Type, &r.Pattern, &r.Action, &r.Category,
			&r.Confidence, &r.TimesMatched, &r.TimesCorrect, &r.LearnedFrom,
			&r.CreatedByTier, &firstLearned); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.IsActive = true
		r.FirstLearned = firstLearned.Time
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// UpsertRule inserts a rule; on a (rule_type, pattern, action) duplicate the
// stored confidence is raised to the max of old and new, the learn counter
// grows and the rule reactivates.
func (s *MySQLStore) UpsertRule(ctx context.Context, rule core.Rule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tier0_rules
			(rule_type, pattern, action, category, confidence, learned_from, created_by_tier, is_active)
		VALUES (?, ?, ?, ?, ?, 1, ?, 1)
		ON DUPLICATE KEY UPDATE
			confidence = GREATEST(confidence, VALUES(confidence)),
			learned_from = learned_from + 1,
			is_active = 1
	`, rule.Type, rule.Pattern, rule.Action, rule.Category, rule.Confidence, rule.CreatedByTier)
	if err != nil {
		return fmt.Errorf("failed to upsert rule: %w", err)
	}
	return nil
}

// RecordMatch increments a rule's match counter.
func (s *MySQLStore) RecordMatch(ctx context.Context, ruleID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tier0_rules SET times_matched = times_matched + 1 WHERE id = ?
	`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to record rule match: %w", err)
	}
	return nil
}

// RulesSummary reports the active rule table grouped by (type, action) with
// the ten most-used rules.
func (s *MySQLStore) RulesSummary(ctx context.Context) (*core.RulesSummary, error) {
	summary := &core.RulesSummary{}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tier0_rules WHERE is_active = 1`,
	).Scan(&summary.TotalActive); err != nil {
		return nil, fmt.Errorf("failed to count rules: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_type, action, COUNT(*), AVG(confidence), COALESCE(SUM(times_matched), 0)
		FROM tier0_rules
		WHERE is_active = 1
		GROUP BY rule_type, action
		ORDER BY rule_type, action
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g core.RuleGroupStat
		if err := rows.Scan(&g.Type, &g.Action, &g.Count, &g.AvgConfidence, &g.TotalMatches); err != nil {
			return nil, fmt.Errorf("failed to scan rule breakdown: %w", err)
		}
		summary.Breakdown = append(summary.Breakdown, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	top, err := s.db.QueryContext(ctx, `
		SELECT id, rule_type, pattern, action, category, confidence, times_matched
		FROM tier0_rules
		WHERE is_active = 1
		ORDER BY times_matched DESC
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query top rules: %w", err)
	}
	defer top.Close()

	for top.Next() {
		var r core.Rule
		if err := top.Scan(&r.ID, &r.Type, &r.Pattern, &r.Action, &r.Category,
			&r.Confidence, &r.TimesMatched); err != nil {
			return nil, fmt.Errorf("failed to scan top rule: %w", err)
		}
		r.IsActive = true
		summary.TopRules = append(summary.TopRules, r)
	}
	return summary, top.Err()
}

// Examples returns active few-shot examples for one tier level ordered by
// effectiveness desc then recency desc, limited.
func (s *MySQLStore) Examples(ctx context.Context, tier core.Tier, limit int) ([]core.FewShotExample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tier_level, example_type, subject, sender, snippet, body_preview,
		       category, action, reasoning, confidence, effectiveness, source_email_id, created_at
		FROM few_shot_examples
		WHERE is_active = 1 AND tier_level = ?
		ORDER BY effectiveness DESC, created_at DESC
		LIMIT ?
	`, int(tier), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query examples: %w", err)
	}
	defer rows.Close()

	var examples []core.FewShotExample
	for rows.Next() {
		var ex core.FewShotExample
		var createdAt sql.NullTime
		if err := rows.Scan(&ex.ID, &ex.TierLevel, &ex.ExampleType, &ex.Subject,
			&ex.Sender, &ex.Snippet, &ex.BodyPreview, &ex.Category, &ex.Action,
			&ex.Reasoning, &ex.Confidence, &ex.Effectiveness, &ex.SourceEmailID,
			&createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan example: %w", err)
		}
		ex.IsActive = true
		ex.CreatedAt = createdAt.Time
		examples = append(examples, ex)
	}
	return examples, rows.Err()
}

// AddExample stores a few-shot example.
func (s *MySQLStore) AddExample(ctx context.Context, ex core.FewShotExample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO few_shot_examples
			(tier_level, example_type, subject, sender, snippet, body_preview,
			 category, action, reasoning, confidence, effectiveness, source_email_id, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, int(ex.TierLevel), ex.ExampleType, ex.Subject, ex.Sender, ex.Snippet,
		ex.BodyPreview, ex.Category, ex.Action, ex.Reasoning, ex.Confidence,
		ex.Effectiveness, ex.SourceEmailID)
	if err != nil {
		return fmt.Errorf("failed to insert example: %w", err)
	}
	return nil
}

// AddTrainingExample appends one labelled training sample.
func (s *MySQLStore) AddTrainingExample(ctx context.Context, ex core.TrainingExample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO training_examples
			(subject, sender, snippet, category, action, confidence, reasoning, gold_standard)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ex.Subject, ex.Sender, ex.Snippet, ex.Category, ex.Action, ex.Confidence,
		ex.Reasoning, ex.GoldStandard)
	if err != nil {
		return fmt.Errorf("failed to insert training example: %w", err)
	}
	return nil
}

// RecentExamples returns up to n of the most recently added training samples.
func (s *MySQLStore) RecentExamples(ctx context.Context, n int) ([]core.TrainingExample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, sender, snippet, category, action, confidence, reasoning, gold_standard, created_at
		FROM training_examples
		ORDER BY id DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query training examples: %w", err)
	}
	defer rows.Close()

	var examples []core.TrainingExample
	for rows.Next() {
		var ex core.TrainingExample
		var createdAt sql.NullTime
		if err := rows.Scan(&ex.Subject, &ex.Sender, &ex.Snippet, &ex.Category,
			&ex.Action, &ex.Confidence, &ex.Reasoning, &ex.GoldStandard, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan training example: %w", err)
		}
		ex.CreatedAt = createdAt.Time
		examples = append(examples, ex)
	}
	return examples, rows.Err()
}

// SaveDecision records one decision keyed by email, analysis version and
// model. A repeat save overwrites.
func (s *MySQLStore) SaveDecision(ctx context.Context, emailID int64, d *core.Decision) error {
	var importance, fraud interface{}
	if d.ImportanceScore != nil {
		importance = *d.ImportanceScore
	}
	if d.FraudScore != nil {
		fraud = *d.FraudScore
	}

	_, err := s.db.ExecContext(ctx, `
		REPLACE INTO email_analysis
			(email_id, analysis_version, model_used, category, action, confidence,
			 reasoning, tier, processing_time_ms, deletion_candidate, deletion_reason,
			 importance_score, fraud_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, emailID, s.analysisVersion, s.model, d.Category, d.Action, d.Confidence,
		d.Reasoning, int(d.Tier), d.ProcessingTime.Milliseconds(),
		d.DeletionCandidate, d.DeletionReason, importance, fraud)
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// UnanalyzedEmails returns emails without a stored decision for the current
// analysis version and model, oldest first.
func (s *MySQLStore) UnanalyzedEmails(ctx context.Context, limit int) ([]core.Email, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.message_id, e.thread_id, e.subject, e.sender, e.sender_email,
		       e.recipient, e.date_sent, e.body_text, e.snippet, e.labels,
		       e.has_attachments, e.attachment_count, e.size_estimate
		FROM emails e
		LEFT JOIN email_analysis a
			ON a.email_id = e.id AND a.analysis_version = ? AND a.model_used = ?
		WHERE a.id IS NULL
		ORDER BY e.date_sent ASC
		LIMIT ?
	`, s.analysisVersion, s.model, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unanalyzed emails: %w", err)
	}
	defer rows.Close()

	var emails []core.Email
	for rows.Next() {
		var e core.Email
		var dateSent sql.NullTime
		var labels string
		if err := rows.Scan(&e.ID, &e.MessageID, &e.ThreadID, &e.Subject, &e.Sender,
			&e.SenderEmail, &e.Recipient, &dateSent, &e.BodyText, &e.Snippet,
			&labels, &e.HasAttachments, &e.AttachmentCount, &e.SizeEstimate); err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		e.DateSent = dateSent.Time
		if labels != "" {
			e.Labels = strings.Split(labels, ",")
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// Close closes the database connection.
func (s *MySQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close MySQL connection: %w", err)
	}
	return nil
}
