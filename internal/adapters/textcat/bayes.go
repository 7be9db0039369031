package textcat

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/mikey/email-triage/internal/core"
	"go.uber.org/zap"
)

const (
	baselineVersion    = "baseline"
	baselineConfidence = 0.30
	minTrainingSize    = 10
	validationFraction = 0.1
)

// model is one trained, versioned multinomial naive-Bayes model. Serialized
// as JSON so a model file is inspectable with standard tools.
type model struct {
	Version            string                   `json:"version"`
	TrainedAt          time.Time                `json:"trained_at"`
	ExampleCount       int                      `json:"example_count"`
	ValidationAccuracy float64                  `json:"validation_accuracy"`
	VocabularySize     int                      `json:"vocabulary_size"`
	Classes            map[core.Category]*class `json:"classes"`
}

type class struct {
	DocCount    int                 `json:"doc_count"`
	TotalTokens int                 `json:"total_tokens"`
	TokenCounts map[string]int      `json:"token_counts"`
	Actions     map[core.Action]int `json:"actions"`
}

// Runtime is an in-process naive-Bayes classifier with versioned on-disk
// models. With no trained model it serves an untrained baseline that
// classifies everything as UNKNOWN with low confidence, so the calling tier
// always abstains until the first training cycle completes.
type Runtime struct {
	modelDir string
	logger   *zap.Logger
	current  *model
}

// NewRuntime creates a runtime persisting models under modelDir. An empty
// modelDir disables the capability entirely.
func NewRuntime(modelDir string, logger *zap.Logger) *Runtime {
	return &Runtime{modelDir: modelDir, logger: logger}
}

// Available reports whether the runtime was configured with a model
// directory.
func (r *Runtime) Available() bool {
	return r.modelDir != ""
}

// Reload installs the latest persisted model version, or the untrained
// baseline when none exists yet.
func (r *Runtime) Reload(ctx context.Context) error {
	if !r.Available() {
		return fmt.Errorf("classifier runtime not configured")
	}

	if err := os.MkdirAll(r.modelDir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	matches, err := filepath.Glob(filepath.Join(r.modelDir, "model-*.json"))
	if err != nil {
		return fmt.Errorf("failed to scan model directory: %w", err)
	}
	if len(matches) == 0 {
		r.current = nil
		r.logger.Info("No trained model found, using untrained baseline")
		return nil
	}

	// Version names are timestamped, so lexicographic max is newest.
	sort.Strings(matches)
	latest := matches[len(matches)-1]

	data, err := os.ReadFile(latest)
	if err != nil {
		return fmt.Errorf("failed to read model file: %w", err)
	}
	var m model
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse model file %s: %w", latest, err)
	}

	r.current = &m
	r.logger.Info("Loaded classifier model",
		zap.String("version", m.Version),
		zap.Int("examples", m.ExampleCount),
		zap.Float64("validation_accuracy", m.ValidationAccuracy))
	return nil
}

// Classify scores the text against every class and returns the best with a
// normalized posterior as confidence. The baseline always returns UNKNOWN.
func (r *Runtime) Classify(ctx context.Context, text string) (*core.Prediction, error) {
	if r.current == nil || len(r.current.Classes) == 0 {
		return &core.Prediction{
			Category:     core.CategoryUnknown,
			Action:       core.ActionKeep,
			Confidence:   baselineConfidence,
			ModelVersion: baselineVersion,
		}, nil
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return &core.Prediction{
			Category:     core.CategoryUnknown,
			Action:       core.ActionKeep,
			Confidence:   baselineConfidence,
			ModelVersion: r.current.Version,
		}, nil
	}

	m := r.current
	totalDocs := 0
	for _, c := range m.Classes {
		totalDocs += c.DocCount
	}

	type scored struct {
		category core.Category
		logProb  float64
	}
	var scores []scored
	for cat, c := range m.Classes {
		lp := math.Log(float64(c.DocCount) / float64(totalDocs))
		for _, tok := range tokens {
			count := c.TokenCounts[tok]
			// Laplace smoothing over the shared vocabulary.
			lp += math.Log(float64(count+1) / float64(c.TotalTokens+m.VocabularySize))
		}
		scores = append(scores, scored{cat, lp})
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].logProb > scores[j].logProb })
	best := scores[0]

	// Normalize to a posterior with the max-log trick.
	var sum float64
	for _, s := range scores {
		sum += math.Exp(s.logProb - best.logProb)
	}
	confidence := 1.0 / sum

	return &core.Prediction{
		Category:     best.category,
		Action:       m.Classes[best.category].majorityAction(),
		Confidence:   confidence,
		ModelVersion: m.Version,
	}, nil
}

// Retrain fits a new model on the examples, validates it on a held-out
// slice, persists it as a new version and returns the version name. The
// live model is untouched until the caller reloads.
func (r *Runtime) Retrain(ctx context.Context, examples []core.TrainingExample) (string, error) {
	if !r.Available() {
		return "", fmt.Errorf("classifier runtime not configured")
	}
	if len(examples) < minTrainingSize {
		return "", fmt.Errorf("not enough training examples: have %d, need %d",
			len(examples), minTrainingSize)
	}

	holdout := int(float64(len(examples)) * validationFraction)
	train := examples[:len(examples)-holdout]
	validate := examples[len(examples)-holdout:]

	m := fit(train)
	m.Version = "model-" + time.Now().UTC().Format("20060102-150405")
	m.TrainedAt = time.Now().UTC()

	if len(validate) > 0 {
		correct := 0
		for _, ex := range validate {
			if predictCategory(m, exampleText(ex)) == ex.Category {
				correct++
			}
		}
		m.ValidationAccuracy = float64(correct) / float64(len(validate))
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal model: %w", err)
	}
	if err := os.MkdirAll(r.modelDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	path := filepath.Join(r.modelDir, m.Version+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write model file: %w", err)
	}

	r.logger.Info("Persisted classifier model",
		zap.String("version", m.Version),
		zap.Int("examples", m.ExampleCount),
		zap.Float64("validation_accuracy", m.ValidationAccuracy))
	return m.Version, nil
}

// Version reports the live model version.
func (r *Runtime) Version() string {
	if r.current == nil {
		return baselineVersion
	}
	return r.current.Version
}

func fit(examples []core.TrainingExample) *model {
	m := &model{
		ExampleCount: len(examples),
		Classes:      make(map[core.Category]*class),
	}
	vocab := make(map[string]struct{})

	for _, ex := range examples {
		c, ok := m.Classes[ex.Category]
		if !ok {
			c = &class{
				TokenCounts: make(map[string]int),
				Actions:     make(map[core.Action]int),
			}
			m.Classes[ex.Category] = c
		}
		c.DocCount++
		c.Actions[ex.Action]++
		for _, tok := range tokenize(exampleText(ex)) {
			c.TokenCounts[tok]++
			c.TotalTokens++
			vocab[tok] = struct{}{}
		}
	}
	m.VocabularySize = len(vocab)
	return m
}

func predictCategory(m *model, text string) core.Category {
	tokens := tokenize(text)
	totalDocs := 0
	for _, c := range m.Classes {
		totalDocs += c.DocCount
	}

	best := core.CategoryUnknown
	bestLP := math.Inf(-1)
	for cat, c := range m.Classes {
		lp := math.Log(float64(c.DocCount) / float64(totalDocs))
		for _, tok := range tokens {
			lp += math.Log(float64(c.TokenCounts[tok]+1) / float64(c.TotalTokens+m.VocabularySize))
		}
		if lp > bestLP {
			bestLP = lp
			best = cat
		}
	}
	return best
}

func (c *class) majorityAction() core.Action {
	best := core.ActionKeep
	bestCount := -1
	for action, count := range c.Actions {
		if count > bestCount {
			best = action
			bestCount = count
		}
	}
	return best
}

func exampleText(ex core.TrainingExample) string {
	return ex.Subject + " " + ex.Sender + " " + ex.Snippet
}

// tokenize lower-cases and splits on non-alphanumeric runes, dropping
// single-character tokens.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
