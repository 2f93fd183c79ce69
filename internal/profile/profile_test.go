package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"openchrome/internal/filestore"
)

func TestResolveExplicit(t *testing.T) {
	m := New(nil)
	res, err := m.Resolve(Options{ExplicitDir: "/tmp/whatever"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Type != TypeExplicit || res.Dir != "/tmp/whatever" {
		t.Errorf("got %+v", res)
	}
}

func TestResolveForceTemp(t *testing.T) {
	m := New(nil)
	res, err := m.Resolve(Options{ForceTemp: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Type != TypeTemp {
		t.Errorf("got type %v", res.Type)
	}
	defer os.RemoveAll(res.Dir)
	if _, err := os.Stat(res.Dir); err != nil {
		t.Errorf("temp dir not created: %v", err)
	}
}

func TestResolveNoRealProfileFallsBackToPersistent(t *testing.T) {
	home := t.TempDir()
	m := New(nil)
	res, err := m.Resolve(Options{HomeDir: home})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Type != TypePersistent {
		t.Errorf("got type %v, want persistent", res.Type)
	}
	if res.Snapshotted {
		t.Errorf("should not snapshot when there is no real profile")
	}
}

func TestResolveRealUnlockedUsesRealDir(t *testing.T) {
	home := t.TempDir()
	real := t.TempDir()
	m := New(nil)
	res, err := m.Resolve(Options{HomeDir: home, RealProfileDir: real})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Type != TypeReal || res.Dir != real {
		t.Errorf("got %+v", res)
	}
}

func TestNeedsSyncNoPriorMetadataIsTrue(t *testing.T) {
	m := New(nil)
	home := t.TempDir()
	src := t.TempDir()
	stale, err := m.needsSync(src, filepath.Join(home, "meta.json"))
	if err != nil {
		t.Fatalf("needsSync: %v", err)
	}
	if !stale {
		t.Errorf("expected stale=true with no prior metadata")
	}
}

func TestNeedsSyncFreshMatchingHashIsFalse(t *testing.T) {
	m := New(nil)
	home := t.TempDir()
	src := t.TempDir()
	defaultDir := filepath.Join(src, "Default")
	if err := os.MkdirAll(defaultDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cookiesFile := filepath.Join(defaultDir, "Cookies")
	if err := os.WriteFile(cookiesFile, []byte("sqlite-stub"), 0o644); err != nil {
		t.Fatalf("write cookies: %v", err)
	}

	metaPath := filepath.Join(home, "meta.json")
	if err := m.recordSync(metaPath, src); err != nil {
		t.Fatalf("recordSync: %v", err)
	}

	stale, err := m.needsSync(src, metaPath)
	if err != nil {
		t.Fatalf("needsSync: %v", err)
	}
	if stale {
		t.Errorf("expected stale=false right after recordSync with unchanged source")
	}
}

func TestNeedsSyncOldTimestampIsTrue(t *testing.T) {
	m := New(nil)
	home := t.TempDir()
	src := t.TempDir()
	defaultDir := filepath.Join(src, "Default")
	if err := os.MkdirAll(defaultDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cookiesFile := filepath.Join(defaultDir, "Cookies")
	if err := os.WriteFile(cookiesFile, []byte("sqlite-stub"), 0o644); err != nil {
		t.Fatalf("write cookies: %v", err)
	}

	hash, err := sourceCookiesHash(src)
	if err != nil {
		t.Fatalf("sourceCookiesHash: %v", err)
	}
	metaPath := filepath.Join(home, "meta.json")
	store := filestore.New()
	old := SyncMetadata{
		LastSyncTimestamp: time.Now().Add(-2 * snapshotStaleAfter),
		SourceProfileHash: hash,
		SyncCount:         1,
		SourceProfileDir:  src,
	}
	if err := store.Write(metaPath, old, filestore.WriteOptions{}); err != nil {
		t.Fatalf("write meta: %v", err)
	}

	stale, err := m.needsSync(src, metaPath)
	if err != nil {
		t.Fatalf("needsSync: %v", err)
	}
	if !stale {
		t.Errorf("expected stale=true for a 1-hour-old snapshot")
	}
}

func TestSnapshotFallsBackToRawCopyForNonSQLiteSource(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	srcDefault := filepath.Join(src, "Default")
	if err := os.MkdirAll(srcDefault, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// Not a real SQLite file: both sqlite strategies must fail and the
	// raw-copy fallback must still succeed, producing a non-atomic warning.
	content := []byte("not a real sqlite database")
	if err := os.WriteFile(filepath.Join(srcDefault, "Cookies"), content, 0o644); err != nil {
		t.Fatalf("write cookies: %v", err)
	}

	res, err := Snapshot(src, dst)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if res.Atomic {
		t.Fatalf("expected non-atomic fallback for a garbage source file")
	}
	if res.Warning == nil {
		t.Errorf("expected a profile.snapshot-non-atomic warning")
	}

	got, err := os.ReadFile(filepath.Join(dst, "Default", "Cookies"))
	if err != nil {
		t.Fatalf("read dest cookies: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("raw copy content mismatch")
	}
}

func TestSnapshotNoSourceCookiesIsNoop(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	res, err := Snapshot(src, dst)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !res.Atomic || res.Warning != nil {
		t.Errorf("expected a clean no-op result, got %+v", res)
	}
}
