package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"swapline/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Exchange.DefaultSessionMinutes != 60 {
		t.Fatalf("default session minutes = %d", cfg.Exchange.DefaultSessionMinutes)
	}
	if cfg.Reminders.LeadTimeMinutes != 30 {
		t.Fatalf("default lead time = %d", cfg.Reminders.LeadTimeMinutes)
	}
	if cfg.LeadTime() != 30*time.Minute {
		t.Fatalf("lead time duration = %s", cfg.LeadTime())
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Exchange.MaxCommentLength != 1000 {
		t.Fatalf("max comment length = %d", cfg.Exchange.MaxCommentLength)
	}
}

func TestLoadOverridesAndValidation(t *testing.T) {
	dir := t.TempDir()
	doc := []byte("exchange:\n  default_session_minutes: 45\nreminders:\n  lead_time_minutes: 10\n")
	if err := os.WriteFile(filepath.Join(dir, "swapline.yml"), doc, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Exchange.DefaultSessionMinutes != 45 {
		t.Fatalf("session minutes = %d", cfg.Exchange.DefaultSessionMinutes)
	}
	if cfg.Reminders.LeadTimeMinutes != 10 {
		t.Fatalf("lead time = %d", cfg.Reminders.LeadTimeMinutes)
	}
	// omitted fields keep defaults
	if cfg.Exchange.MaxCommentLength != 1000 {
		t.Fatalf("comment length = %d", cfg.Exchange.MaxCommentLength)
	}

	if _, err := config.FromYAML([]byte("exchange:\n  default_session_minutes: -5\n")); err == nil {
		t.Fatal("negative session minutes accepted")
	}
	if _, err := config.FromYAML([]byte("reminders:\n  cron_spec: \"\"\n")); err == nil {
		t.Fatal("empty cron spec accepted")
	}

	out, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	round, err := config.FromYAML(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if round.Exchange.DefaultSessionMinutes != 45 {
		t.Fatalf("roundtrip session minutes = %d", round.Exchange.DefaultSessionMinutes)
	}
}
