package confreload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"openchrome/internal/config"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadReadsAndDefaultsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openchrome.yaml")
	writeConfig(t, path, "pool:\n  max_size: 7\n")

	r := New(path)
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := r.GetConfig()
	if cfg == nil {
		t.Fatal("GetConfig returned nil after Load")
	}
	if cfg.Pool.MaxSize != 7 {
		t.Errorf("Pool.MaxSize = %d, want 7", cfg.Pool.MaxSize)
	}
	if cfg.Pool.MinSize != 2 {
		t.Errorf("Pool.MinSize = %d, want defaulted to 2", cfg.Pool.MinSize)
	}
}

func TestStartWatchesAndReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openchrome.yaml")
	writeConfig(t, path, "pool:\n  max_size: 5\n")

	r := New(path)
	r.SetDebounceDelay(10 * time.Millisecond)

	changed := make(chan *config.Config, 1)
	r.OnChange(func(cfg *config.Config) {
		select {
		case changed <- cfg:
		default:
		}
	})

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	writeConfig(t, path, "pool:\n  max_size: 9\n")

	select {
	case cfg := <-changed:
		if cfg.Pool.MaxSize != 9 {
			t.Errorf("reloaded Pool.MaxSize = %d, want 9", cfg.Pool.MaxSize)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}

func TestStartTwiceReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openchrome.yaml")
	writeConfig(t, path, "")

	r := New(path)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	if err := r.Start(); err == nil {
		t.Error("expected error starting an already-started Reloader")
	}
}

func TestDiffReportsChangedFields(t *testing.T) {
	old := &config.Config{}
	old.ApplyDefaults()
	neu := &config.Config{}
	neu.ApplyDefaults()
	neu.Pool.MaxSize = old.Pool.MaxSize + 5
	neu.Log.Level = "debug"

	diff := Diff(old, neu)
	if _, ok := diff["pool.max_size"]; !ok {
		t.Errorf("expected pool.max_size in diff, got %v", diff)
	}
	if _, ok := diff["log.level"]; !ok {
		t.Errorf("expected log.level in diff, got %v", diff)
	}
	if _, ok := diff["session.default_ttl"]; ok {
		t.Errorf("unexpected session.default_ttl in diff (unchanged), got %v", diff)
	}
}

func TestDiffNilConfigsReturnsEmpty(t *testing.T) {
	if diff := Diff(nil, &config.Config{}); len(diff) != 0 {
		t.Errorf("expected empty diff for nil oldCfg, got %v", diff)
	}
}
