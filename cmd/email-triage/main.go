package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey/email-triage/internal/adapters/console"
	"github.com/mikey/email-triage/internal/adapters/smtpproxy"
	"github.com/mikey/email-triage/internal/config"
	"github.com/mikey/email-triage/internal/core"
	"github.com/mikey/email-triage/internal/di"
	"github.com/mikey/email-triage/internal/factory"
)

func main() {
	root := &cobra.Command{
		Use:   "email-triage",
		Short: "Escalating email classification cascade",
		Long: `Classifies an email archive through an escalating cascade of analyzers:
learned rules, a lightweight classifier, fast and deep generative models,
and finally human review. Higher tiers teach lower tiers as they go.`,
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd(), newRulesCmd(), newServeCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var dryRun bool
	var limit int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Analyze unprocessed emails from the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := di.BuildContainer()
			if err != nil {
				return fmt.Errorf("failed to build dependency container: %w", err)
			}

			return container.Invoke(func(
				cfg *config.Config,
				logger *zap.Logger,
				st factory.TriageStore,
				gens di.Generators,
				cascadeFactory *factory.CascadeFactory,
			) error {
				defer logger.Sync()

				if dryRun {
					cfg.GetViper().Set("analysis.dry_run", true)
				}
				if limit <= 0 {
					limit = cfg.GetAnalysis().BatchLimit
				}

				var operator core.Operator
				if cfg.GetBool("tiers.human.enabled") {
					operator = console.NewOperator(os.Stdin, os.Stdout)
				}
				cascade := cascadeFactory.CreateCascade(st, gens.Fast, gens.Deep, operator)

				ctx, stop := signal.NotifyContext(context.Background(),
					syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				emails, err := st.UnanalyzedEmails(ctx, limit)
				if err != nil {
					return fmt.Errorf("failed to load emails: %w", err)
				}
				if len(emails) == 0 {
					fmt.Println("Nothing to analyze")
					return nil
				}

				summary := cascade.Coordinator.AnalyzeBatch(ctx, emails, "archive")
				printSummary(summary)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Analyze without persisting decisions")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum emails to process (default from config)")
	return cmd
}

func printSummary(s *core.BatchSummary) {
	fmt.Printf("\nBatch %q complete in %s\n", s.Name, s.Duration.Round(time.Millisecond))
	fmt.Printf("  Emails:      %d total, %d classified, %d unclassified\n",
		s.TotalEmails, s.Successful, s.Failed)
	fmt.Printf("  Human:       %d escalations\n", s.HumanEscalations)
	fmt.Printf("  Automation:  %.1f%%\n", s.AutomationRate())
	fmt.Printf("  Throughput:  %.1f emails/min\n", s.EmailsPerMinute)
	for tier := core.TierRules; tier <= core.TierHuman; tier++ {
		if n := s.TierHandled[tier]; n > 0 {
			fmt.Printf("  Tier %d (%s): %d\n", tier, tier, n)
		}
	}
	if s.LearningEvents > 0 {
		fmt.Printf("  Learning:    %d training cycles\n", s.LearningEvents)
	}
	if s.Aborted {
		fmt.Println("  Batch aborted before completion")
	}
}

func newRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Show the learned rule table",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := di.BuildContainer()
			if err != nil {
				return fmt.Errorf("failed to build dependency container: %w", err)
			}

			return container.Invoke(func(logger *zap.Logger, st factory.TriageStore) error {
				defer logger.Sync()

				summary, err := st.RulesSummary(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to load rules summary: %w", err)
				}

				fmt.Printf("Active rules: %d\n\n", summary.TotalActive)
				if len(summary.Breakdown) > 0 {
					fmt.Println("By type and action:")
					for _, g := range summary.Breakdown {
						fmt.Printf("  %-16s %-8s count=%-4d avg_conf=%.2f matches=%d\n",
							g.Type, g.Action, g.Count, g.AvgConfidence, g.TotalMatches)
					}
				}
				if len(summary.TopRules) > 0 {
					fmt.Println("\nMost used:")
					for _, r := range summary.TopRules {
						fmt.Printf("  %-40s %-8s %-12s conf=%.2f matches=%d\n",
							r.Pattern, r.Action, r.Category, r.Confidence, r.TimesMatched)
					}
				}
				return nil
			})
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the SMTP triage proxy",
		Long: `Runs an SMTP content filter that classifies incoming mail through the
automated tiers and stamps X-Triage headers before reinjecting upstream.
The human tier is excluded; undecidable mail passes through unclassified.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := di.BuildContainer()
			if err != nil {
				return fmt.Errorf("failed to build dependency container: %w", err)
			}

			return container.Invoke(func(
				cfg *config.Config,
				logger *zap.Logger,
				st factory.TriageStore,
				gens di.Generators,
				cascadeFactory *factory.CascadeFactory,
			) error {
				defer logger.Sync()

				cascade := cascadeFactory.CreateCascade(st, gens.Fast, gens.Deep, nil)

				proxyCfg := cfg.GetProxy()
				proxy := smtpproxy.NewProxy(
					cascade.Coordinator,
					proxyCfg.ListenAddress,
					proxyCfg.UpstreamAddress,
					proxyCfg.UpstreamPort,
					proxyCfg.Timeout,
					proxyCfg.RejectSpam,
					logger,
				)

				if err := proxy.Start(); err != nil {
					return fmt.Errorf("failed to start proxy: %w", err)
				}

				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				<-sigCh
				logger.Info("Shutting down...")

				if err := proxy.Stop(); err != nil {
					logger.Error("Failed to stop proxy", zap.Error(err))
				}
				logger.Info("Shutdown complete")
				return nil
			})
		},
	}
}
