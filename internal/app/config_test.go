package app

import (
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.StaggerSeconds != 5 {
		t.Errorf("StaggerSeconds = %d, want 5", cfg.StaggerSeconds)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.DefaultPlan != "free" {
		t.Errorf("DefaultPlan = %q, want free", cfg.DefaultPlan)
	}
	if cfg.PlanLimitsGB["free"] != 2 {
		t.Errorf("PlanLimitsGB[free] = %d, want 2", cfg.PlanLimitsGB["free"])
	}
	if cfg.IdleTimeoutSeconds != 24*3600 {
		t.Errorf("IdleTimeoutSeconds = %d, want 86400", cfg.IdleTimeoutSeconds)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("OWNER_IDS", "100 200 nope 300")
	t.Setenv("PLAN_LIMITS_GB", "free:1 gold:100 bad")
	t.Setenv("BIN_CHANNEL", "-1001234567890")
	t.Setenv("BASE_URL", "https://dl.example.com/")
	t.Setenv("WATCHDOG_CPU_THRESHOLD", "75.5")

	cfg := LoadConfig()
	if len(cfg.OwnerIDs) != 3 || cfg.OwnerIDs[0] != 100 || cfg.OwnerIDs[2] != 300 {
		t.Errorf("OwnerIDs = %v, want [100 200 300]", cfg.OwnerIDs)
	}
	if cfg.PlanLimitsGB["gold"] != 100 {
		t.Errorf("PlanLimitsGB[gold] = %d, want 100", cfg.PlanLimitsGB["gold"])
	}
	if _, ok := cfg.PlanLimitsGB["bad"]; ok {
		t.Error("malformed plan entry should be skipped")
	}
	if cfg.BinChannel != -1001234567890 {
		t.Errorf("BinChannel = %d", cfg.BinChannel)
	}
	if cfg.BaseURL != "https://dl.example.com" {
		t.Errorf("BaseURL = %q, trailing slash should be trimmed", cfg.BaseURL)
	}
	if cfg.WatchdogCPUThreshold != 75.5 {
		t.Errorf("WatchdogCPUThreshold = %v, want 75.5", cfg.WatchdogCPUThreshold)
	}
	if !cfg.IsOwner(200) || cfg.IsOwner(999) {
		t.Error("IsOwner misclassified")
	}
}

func TestGetEnvInt64RejectsNegative(t *testing.T) {
	t.Setenv("STAGGER_SECONDS", "-3")
	cfg := LoadConfig()
	if cfg.StaggerSeconds != 5 {
		t.Errorf("negative STAGGER_SECONDS should fall back, got %d", cfg.StaggerSeconds)
	}
}
