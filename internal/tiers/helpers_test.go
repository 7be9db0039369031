package tiers

import (
	"context"
	"time"

	"github.com/mikey/email-triage/internal/adapters/store"
	"github.com/mikey/email-triage/internal/core"
	"go.uber.org/zap"
)

func newTestStore() *store.MemoryStore {
	return store.NewMemoryStore("v1", "test", zap.NewNop())
}

func testEmail() *core.Email {
	return &core.Email{
		ID:          42,
		Subject:     "Quarterly report attached",
		Sender:      "Jane Smith <jane@acme.com>",
		SenderEmail: "jane@acme.com",
		Snippet:     "Please find the quarterly report attached for your review",
		BodyText:    "Please find the quarterly report attached for your review before Friday's meeting.",
		DateSent:    time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

type fakeGenerator struct {
	response string
	err      error
	prompts  []string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

func (g *fakeGenerator) ModelName() string { return "fake-model" }

type fakeRuntime struct {
	available   bool
	prediction  *core.Prediction
	classifyErr error
	reloadErr   error
	version     string
	retrained   int
}

func (r *fakeRuntime) Available() bool { return r.available }

func (r *fakeRuntime) Reload(ctx context.Context) error { return r.reloadErr }

func (r *fakeRuntime) Classify(ctx context.Context, text string) (*core.Prediction, error) {
	if r.classifyErr != nil {
		return nil, r.classifyErr
	}
	return r.prediction, nil
}

func (r *fakeRuntime) Retrain(ctx context.Context, examples []core.TrainingExample) (string, error) {
	r.retrained++
	return r.version, nil
}

func (r *fakeRuntime) Version() string { return r.version }

type fakeOperator struct {
	verdict *core.HumanVerdict
	err     error
	reviews int
}

func (o *fakeOperator) Review(ctx context.Context, email *core.Email) (*core.HumanVerdict, error) {
	o.reviews++
	if o.err != nil {
		return nil, o.err
	}
	return o.verdict, nil
}
