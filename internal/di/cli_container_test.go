package di

import (
	"testing"

	"github.com/mikey/email-triage/internal/config"
)

func TestForceEphemeral_OverridesFileSettings(t *testing.T) {
	// Simulates a config file that points at the archive database.
	v := config.NewEmptyViper()
	v.Set("storage.type", "sqlite")
	v.Set("analysis.dry_run", false)

	forceEphemeral(v)

	cfg := config.NewFromViper(v)
	if got := cfg.GetString("storage.type"); got != "memory" {
		t.Errorf("storage.type = %q, want memory", got)
	}
	if !cfg.GetBool("analysis.dry_run") {
		t.Error("analysis.dry_run = false, want true")
	}
}

func TestCreateConfigFromFlags_IsEphemeral(t *testing.T) {
	cfg := createConfigFromFlags(&CLIFlags{
		FastProvider: "ollama",
		DeepProvider: "ollama",
	})

	if got := cfg.GetString("storage.type"); got != "memory" {
		t.Errorf("storage.type = %q, want memory", got)
	}
	if !cfg.GetBool("analysis.dry_run") {
		t.Error("analysis.dry_run = false, want true")
	}
	if cfg.GetBool("tiers.human.enabled") {
		t.Error("tiers.human.enabled = true, want false")
	}
}
