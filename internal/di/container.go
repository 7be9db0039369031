package di

import (
	"go.uber.org/dig"

	"github.com/mikey/email-triage/internal/config"
	"github.com/mikey/email-triage/internal/core"
	"github.com/mikey/email-triage/internal/factory"
	"github.com/mikey/email-triage/internal/logging"
)

// Generators carries the two generative backends so both can travel through
// the container as one value.
type Generators struct {
	Fast core.TextGenerator
	Deep core.TextGenerator
}

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewCascadeFactory); err != nil {
		return nil, err
	}

	// Register storage backend
	if err := container.Provide(func(f *factory.StoreFactory) (factory.TriageStore, error) {
		return f.CreateStore()
	}); err != nil {
		return nil, err
	}

	// Register generative backends
	if err := container.Provide(func(f *factory.LLMFactory) (Generators, error) {
		fast, err := f.CreateFastGenerator()
		if err != nil {
			return Generators{}, err
		}
		deep, err := f.CreateDeepGenerator()
		if err != nil {
			return Generators{}, err
		}
		return Generators{Fast: fast, Deep: deep}, nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}
