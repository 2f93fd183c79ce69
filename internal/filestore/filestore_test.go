package filestore

import (
	"os"
	"path/filepath"
	"testing"
)

type blob struct {
	Value int `json:"value"`
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := New()

	if err := s.Write(path, blob{Value: 42}, WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var out blob
	res := Read(path, &out, nil)
	if !res.OK {
		t.Fatalf("Read not OK: %+v", res)
	}
	if out.Value != 42 {
		t.Errorf("got %d, want 42", out.Value)
	}
}

func TestWriteNoPartialFileOnTempFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := New()

	if err := s.Write(path, blob{Value: 1}, WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Simulate a later failed write attempt by writing to an unwritable
	// directory; the original file must remain intact and fully readable.
	bad := filepath.Join(dir, "nope", "state.json")
	if err := os.MkdirAll(filepath.Join(dir, "nope"), 0o000); err == nil {
		_ = s.Write(bad, blob{Value: 2}, WriteOptions{})
	}

	var out blob
	res := Read(path, &out, nil)
	if !res.OK || out.Value != 1 {
		t.Fatalf("original file corrupted: %+v %+v", res, out)
	}
}

func TestBackupAndRestore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	backupDir := filepath.Join(dir, "backups")
	s := New()

	if err := s.Write(path, blob{Value: 1}, WriteOptions{}); err != nil {
		t.Fatalf("Write v1: %v", err)
	}
	if err := s.Write(path, blob{Value: 2}, WriteOptions{Backup: true, BackupDir: backupDir}); err != nil {
		t.Fatalf("Write v2: %v", err)
	}

	backups, err := ListBackups(backupDir, "state.json")
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("expected 1 backup, got %d", len(backups))
	}

	restoreTo := filepath.Join(dir, "restored.json")
	if err := s.Restore(backups[0], restoreTo); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	var out blob
	res := Read(restoreTo, &out, nil)
	if !res.OK || out.Value != 1 {
		t.Fatalf("restored wrong content: %+v %+v", res, out)
	}
}

func TestCleanupKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	backupDir := filepath.Join(dir, "backups")
	s := New()

	if err := s.Write(path, blob{Value: 0}, WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	for i := 1; i <= 5; i++ {
		if err := s.Write(path, blob{Value: i}, WriteOptions{Backup: true, BackupDir: backupDir}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if err := Cleanup(backupDir, "state.json", 2); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	backups, err := ListBackups(backupDir, "state.json")
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups after cleanup, got %d", len(backups))
	}
}

func TestCorruptionDetection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte(`{"value":1}{"value":2}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	var out blob
	res := Read(path, &out, nil)
	if !res.Corrupted {
		t.Fatalf("expected corrupted result, got %+v", res)
	}
}

func TestReadMissingFileIsNotCorrupted(t *testing.T) {
	dir := t.TempDir()
	var out blob
	res := Read(filepath.Join(dir, "missing.json"), &out, nil)
	if res.OK || res.Corrupted {
		t.Fatalf("expected plain missing-file failure, got %+v", res)
	}
}
