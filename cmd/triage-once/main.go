package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/mikey/email-triage/internal/di"
	"github.com/mikey/email-triage/internal/factory"
	"github.com/mikey/email-triage/internal/mailparse"
)

func main() {
	flags := di.ParseFlags()

	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run classifies one .eml message from a file or stdin through the automated
// tiers and prints the decision. Nothing is persisted.
func run(
	flags *di.CLIFlags,
	logger *zap.Logger,
	st factory.TriageStore,
	gens di.Generators,
	cascadeFactory *factory.CascadeFactory,
) error {
	defer logger.Sync()

	var input io.Reader = os.Stdin
	if flags.InputFile != "" {
		f, err := os.Open(flags.InputFile)
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		input = f
	}

	email, err := mailparse.ParseMessage(input)
	if err != nil {
		return fmt.Errorf("failed to parse email: %w", err)
	}

	cascade := cascadeFactory.CreateCascade(st, gens.Fast, gens.Deep, nil)

	decision, err := cascade.Coordinator.AnalyzeEmail(context.Background(), email)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	if decision == nil {
		fmt.Println("Unclassified: every automated tier abstained")
		return nil
	}

	fmt.Printf("Category:   %s\n", decision.Category)
	fmt.Printf("Action:     %s\n", decision.Action)
	fmt.Printf("Confidence: %.2f\n", decision.Confidence)
	fmt.Printf("Tier:       %d (%s)\n", decision.Tier, decision.Tier)
	fmt.Printf("Reasoning:  %s\n", decision.Reasoning)
	if decision.DeletionCandidate {
		fmt.Printf("Deletion:   %s\n", decision.DeletionReason)
	}
	return nil
}
