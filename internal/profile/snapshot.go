package profile

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"openchrome/internal/core"
)

// SnapshotResult reports how the cookie database was copied.
type SnapshotResult struct {
	// Atomic is true when VACUUM INTO or the sqlite3 CLI .backup command
	// produced a transactionally-consistent copy. It is false when we fell
	// back to a raw file copy, which can race a concurrently-writing Chrome
	// process and produce a torn file.
	Atomic  bool
	Warning error
}

// Snapshot copies sourceProfileDir's "Default" cookies database (and the
// small set of auxiliary files a fresh profile needs) into destProfileDir,
// trying three strategies in order of preference: sqlite's own VACUUM INTO,
// the external sqlite3 CLI's .backup command, and finally a raw file copy
// (spec §4.2/§7 profile.snapshot-non-atomic).
func Snapshot(sourceProfileDir, destProfileDir string) (SnapshotResult, error) {
	srcDefault := filepath.Join(sourceProfileDir, "Default")
	dstDefault := filepath.Join(destProfileDir, "Default")
	if err := os.MkdirAll(dstDefault, 0o755); err != nil {
		return SnapshotResult{}, fmt.Errorf("profile: mkdir dest profile dir: %w", err)
	}

	srcCookies := filepath.Join(srcDefault, "Cookies")
	dstCookies := filepath.Join(dstDefault, "Cookies")

	removeStaleSiblings(dstCookies)

	res := snapshotCookies(srcCookies, dstCookies)

	copyAuxFiles(srcDefault, dstDefault)
	patchPreferences(dstDefault)

	return res, nil
}

func snapshotCookies(src, dst string) SnapshotResult {
	if _, err := os.Stat(src); err != nil {
		// No source cookies DB to copy; nothing to snapshot, and nothing
		// to warn about either.
		return SnapshotResult{Atomic: true}
	}

	if err := vacuumInto(src, dst); err == nil {
		return SnapshotResult{Atomic: true}
	}

	if err := sqlite3CLIBackup(src, dst); err == nil {
		return SnapshotResult{Atomic: true}
	}

	if err := rawCopy(src, dst); err != nil {
		return SnapshotResult{
			Atomic:  false,
			Warning: core.Wrap(core.KindSnapshotNonAtomic, "raw copy fallback also failed", err),
		}
	}
	return SnapshotResult{
		Atomic: false,
		Warning: core.NewError(core.KindSnapshotNonAtomic,
			"cookie database copied via raw file copy; may be torn if Chrome wrote concurrently"),
	}
}

// vacuumInto uses SQLite's own "VACUUM INTO" to produce a consistent,
// defragmented copy in a single statement, the preferred strategy since it
// needs no external process and is always transactionally atomic.
func vacuumInto(src, dst string) error {
	os.Remove(dst)
	db, err := sql.Open("sqlite3", "file:"+src+"?mode=ro&immutable=0")
	if err != nil {
		return fmt.Errorf("open source db: %w", err)
	}
	defer db.Close()

	_, err = db.Exec(fmt.Sprintf("VACUUM INTO %s", quoteSQLiteLiteral(dst)))
	if err != nil {
		os.Remove(dst)
		return fmt.Errorf("vacuum into: %w", err)
	}
	return nil
}

func quoteSQLiteLiteral(path string) string {
	return "'" + replaceAllSingleQuotes(path) + "'"
}

func replaceAllSingleQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

// sqlite3CLIBackup shells out to the sqlite3 binary's ".backup" meta-command,
// which also produces a transactionally consistent copy. Arguments are
// passed as an explicit argv (never through a shell), so no path or file
// content can be interpreted as a shell metacharacter.
func sqlite3CLIBackup(src, dst string) error {
	bin, err := exec.LookPath("sqlite3")
	if err != nil {
		return fmt.Errorf("sqlite3 cli not found: %w", err)
	}
	os.Remove(dst)
	cmd := exec.Command(bin, src, fmt.Sprintf(".backup '%s'", dst))
	var stderr fmtBuffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("sqlite3 .backup: %w: %s", err, stderr.String())
	}
	if _, err := os.Stat(dst); err != nil {
		return errors.New("sqlite3 .backup produced no output file")
	}
	return nil
}

type fmtBuffer struct{ b []byte }

func (f *fmtBuffer) Write(p []byte) (int, error) {
	f.b = append(f.b, p...)
	return len(p), nil
}
func (f *fmtBuffer) String() string { return string(f.b) }

// rawCopy is the last resort: a plain byte-for-byte copy of the cookies file
// and its WAL/SHM siblings, used when neither sqlite strategy is available.
//
// OPEN QUESTION DECISION (spec §9, DESIGN.md #2): each WAL/SHM sibling that
// exists at the source is copied alongside the main file in this fallback;
// one that does not exist is removed at the destination, so no WAL or SHM
// left over from an earlier copy survives next to the new main file.
func rawCopy(src, dst string) error {
	if err := copyFile(src, dst); err != nil {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		s := src + suffix
		d := dst + suffix
		if _, err := os.Stat(s); err != nil {
			os.Remove(d)
			continue
		}
		if err := copyFile(s, d); err != nil {
			return fmt.Errorf("copy %s: %w", suffix, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// removeStaleSiblings deletes any leftover WAL/SHM/journal files at the
// destination before a fresh snapshot, so a previous raw-copy fallback can
// never leave an inconsistent trio behind for the next launch.
func removeStaleSiblings(dstCookies string) {
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		os.Remove(dstCookies + suffix)
	}
}

// copyAuxFiles copies the small set of files a fresh Chrome profile expects
// alongside Cookies so it doesn't look first-run: Local State at the
// user-data-dir root, and the Default profile's Preferences.
func copyAuxFiles(srcDefault, dstDefault string) {
	srcRoot := filepath.Dir(srcDefault)
	dstRoot := filepath.Dir(dstDefault)

	_ = copyIfExists(filepath.Join(srcRoot, "Local State"), filepath.Join(dstRoot, "Local State"))
	_ = copyIfExists(filepath.Join(srcDefault, "Preferences"), filepath.Join(dstDefault, "Preferences"))
}

func copyIfExists(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return nil
	}
	return copyFile(src, dst)
}

// patchPreferences rewrites the copied Preferences file so Chrome doesn't
// show the "Restore pages?" infobar or treat the prior session as crashed:
// exit_type is forced to "Normal" and exited_cleanly to true, and the
// session-restore startup setting is suppressed in favor of a blank new tab.
func patchPreferences(dstDefault string) {
	path := filepath.Join(dstDefault, "Preferences")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var prefs map[string]any
	if err := json.Unmarshal(data, &prefs); err != nil {
		return
	}

	profile, _ := prefs["profile"].(map[string]any)
	if profile == nil {
		profile = map[string]any{}
		prefs["profile"] = profile
	}
	profile["exit_type"] = "Normal"
	profile["exited_cleanly"] = true

	session, _ := prefs["session"].(map[string]any)
	if session == nil {
		session = map[string]any{}
		prefs["session"] = session
	}
	// restore_on_startup = 5 means "new tab page" in Chrome's pref schema.
	session["restore_on_startup"] = 5

	out, err := json.MarshalIndent(prefs, "", "   ")
	if err != nil {
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return
	}
	os.Rename(tmp, path)
}
