package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultFileConfigPassesValidation(t *testing.T) {
	cfg := DefaultFileConfig()
	if err := validate.Struct(cfg); err != nil {
		t.Fatalf("default config should validate cleanly: %v", err)
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfigFile(t, `
risk:
  max_positions: 5
gate:
  signal_rate_limit_per_minute: 20
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Risk.MaxPositions != 5 {
		t.Fatalf("MaxPositions = %d, want 5", cfg.Risk.MaxPositions)
	}
	// Fields not present in the YAML should retain the seeded defaults.
	if cfg.Risk.MaxRiskPerTradeFraction != DefaultFileConfig().Risk.MaxRiskPerTradeFraction {
		t.Fatalf("expected unset field to keep its seeded default")
	}
	if cfg.Gate.SignalRateLimitPerMinute != 20 {
		t.Fatalf("SignalRateLimitPerMinute = %v, want 20", cfg.Gate.SignalRateLimitPerMinute)
	}
}

func TestLoadRejectsOutOfRangeValues(t *testing.T) {
	path := writeConfigFile(t, `
risk:
  max_risk_per_trade_fraction: 1.5
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation to reject a fraction above 1.0")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a nonexistent config path")
	}
}

func TestRuntimeConfigLoadAndUpdate(t *testing.T) {
	rc := NewRuntimeConfig(DefaultFileConfig())
	if rc.Load().Risk.MaxPositions != DefaultFileConfig().Risk.MaxPositions {
		t.Fatalf("expected the seeded config to round-trip")
	}

	updated := DefaultFileConfig()
	updated.Risk.MaxPositions = 9
	rc.Update(updated)

	if rc.Load().Risk.MaxPositions != 9 {
		t.Fatalf("expected Update to take effect immediately")
	}
}

func TestWatchReloadsOnFileChange(t *testing.T) {
	path := writeConfigFile(t, "risk:\n  max_positions: 1\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	rc := NewRuntimeConfig(cfg)

	stop := make(chan struct{})
	defer close(stop)
	go rc.Watch(path, 10*time.Millisecond, stop)

	// Ensure the rewritten file gets a strictly later mtime than the
	// first load observed.
	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(path, []byte("risk:\n  max_positions: 7\n"), 0o644); err != nil {
		t.Fatalf("rewrite config fixture: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rc.Load().Risk.MaxPositions == 7 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Watch did not pick up the file change within the deadline, got %d", rc.Load().Risk.MaxPositions)
}
