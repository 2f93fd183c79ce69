// Package profile decides which Chrome user-data directory an automation
// session should use, and keeps a persistent mirror of the real user's
// cookies when the real profile is locked by a running Chrome instance.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"openchrome/internal/filestore"
	"openchrome/pkg/logger"
)

// DirType classifies how a resolved profile directory was chosen (spec §4.2).
type DirType string

const (
	TypeExplicit   DirType = "explicit"
	TypeTemp       DirType = "temp"
	TypeReal       DirType = "real"
	TypePersistent DirType = "persistent"
)

// Resolution is the result of resolving a profile directory for a launch.
type Resolution struct {
	Dir         string
	Type        DirType
	Snapshotted bool
	// Warning carries a non-fatal profile.snapshot-non-atomic notice when
	// the snapshot fell back to a raw file copy (spec §7).
	Warning error
}

// Options controls directory resolution (spec §4.2 priority list).
type Options struct {
	// ExplicitDir, if non-empty, is used unconditionally (priority 1).
	ExplicitDir string
	// ForceTemp and HeadlessShell both force a fresh temp directory per
	// launch (priority 2).
	ForceTemp     bool
	HeadlessShell bool
	// RealProfileDir is the path to the user's actual Chrome profile, if
	// known. Empty means "does not exist" for resolution purposes.
	RealProfileDir string
	// HomeDir overrides os.UserHomeDir for the persistent mirror location;
	// empty uses the real home directory.
	HomeDir string
}

const mirrorSubdir = ".openchrome/profile"
const metadataFile = ".openchrome/sync-metadata.json"
const snapshotStaleAfter = 30 * time.Minute

// SyncMetadata records the most recent cookie snapshot (spec §3).
type SyncMetadata struct {
	LastSyncTimestamp time.Time `json:"lastSyncTimestamp"`
	SourceProfileHash string    `json:"sourceProfileHash"`
	SyncCount         int       `json:"syncCount"`
	SourceProfileDir  string    `json:"sourceProfileDir"`
}

// Manager resolves profile directories and maintains the persistent mirror.
type Manager struct {
	store *filestore.Store
	log   *logger.Logger
}

// New returns a Manager. log may be nil, in which case logging is a no-op.
func New(log *logger.Logger) *Manager {
	return &Manager{store: filestore.New(), log: log}
}

func (m *Manager) logger() *logger.Logger {
	if m.log != nil {
		return m.log
	}
	return logger.NewNop()
}

func (m *Manager) homeDir(opts Options) (string, error) {
	if opts.HomeDir != "" {
		return opts.HomeDir, nil
	}
	return os.UserHomeDir()
}

func (m *Manager) mirrorDir(opts Options) (string, error) {
	home, err := m.homeDir(opts)
	if err != nil {
		return "", err
	}
	return filepath.Join(home, mirrorSubdir), nil
}

func (m *Manager) metadataPath(opts Options) (string, error) {
	home, err := m.homeDir(opts)
	if err != nil {
		return "", err
	}
	return filepath.Join(home, metadataFile), nil
}

// Resolve implements the directory resolution priority list of spec §4.2.
func (m *Manager) Resolve(opts Options) (Resolution, error) {
	if opts.ExplicitDir != "" {
		return Resolution{Dir: opts.ExplicitDir, Type: TypeExplicit}, nil
	}

	if opts.ForceTemp || opts.HeadlessShell {
		dir, err := os.MkdirTemp("", "openchrome-profile-*")
		if err != nil {
			return Resolution{}, fmt.Errorf("profile: create temp dir: %w", err)
		}
		return Resolution{Dir: dir, Type: TypeTemp}, nil
	}

	realExists := opts.RealProfileDir != "" && dirExists(opts.RealProfileDir)
	if realExists {
		locked, err := IsLocked(opts.RealProfileDir)
		if err != nil {
			m.logger().Warnf("profile: lock probe failed for %s: %v", opts.RealProfileDir, err)
		}
		if !locked {
			return Resolution{Dir: opts.RealProfileDir, Type: TypeReal}, nil
		}
	}

	mirror, err := m.mirrorDir(opts)
	if err != nil {
		return Resolution{}, fmt.Errorf("profile: resolve mirror dir: %w", err)
	}
	if err := os.MkdirAll(mirror, 0o755); err != nil {
		return Resolution{}, fmt.Errorf("profile: create mirror dir: %w", err)
	}

	res := Resolution{Dir: mirror, Type: TypePersistent}
	if !realExists {
		return res, nil
	}

	metaPath, err := m.metadataPath(opts)
	if err != nil {
		return Resolution{}, err
	}
	stale, err := m.needsSync(opts.RealProfileDir, metaPath)
	if err != nil {
		m.logger().Warnf("profile: staleness check failed: %v", err)
	}
	if !stale {
		return res, nil
	}

	snapResult, err := Snapshot(opts.RealProfileDir, mirror)
	if err != nil {
		return res, fmt.Errorf("profile: snapshot failed: %w", err)
	}
	res.Snapshotted = true
	if !snapResult.Atomic {
		res.Warning = snapResult.Warning
	}

	if err := m.recordSync(metaPath, opts.RealProfileDir); err != nil {
		m.logger().Warnf("profile: failed to persist sync metadata: %v", err)
	}

	return res, nil
}

// needsSync implements the staleness rule of spec §4.2/§8: true iff no
// prior metadata, the source hash changed, or the last snapshot is older
// than snapshotStaleAfter.
//
// OPEN QUESTION DECISION (spec §9, DESIGN.md #1): a stat failure on the
// source cookies file, when prior metadata exists, is treated as "do not
// resync" rather than as an error that forces a resync — this is the
// literal behavior the spec asks us to preserve rather than silently
// divert from.
func (m *Manager) needsSync(sourceProfileDir, metaPath string) (bool, error) {
	var meta SyncMetadata
	res := filestore.Read(metaPath, &meta, nil)
	if !res.OK {
		return true, nil
	}

	hash, err := sourceCookiesHash(sourceProfileDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	if hash != meta.SourceProfileHash {
		return true, nil
	}

	return time.Since(meta.LastSyncTimestamp) > snapshotStaleAfter, nil
}

func (m *Manager) recordSync(metaPath, sourceProfileDir string) error {
	var prior SyncMetadata
	_ = filestore.Read(metaPath, &prior, nil)

	hash, err := sourceCookiesHash(sourceProfileDir)
	if err != nil {
		return err
	}

	meta := SyncMetadata{
		LastSyncTimestamp: time.Now(),
		SourceProfileHash: hash,
		SyncCount:         prior.SyncCount + 1,
		SourceProfileDir:  sourceProfileDir,
	}
	return m.store.Write(metaPath, meta, filestore.WriteOptions{})
}

// sourceCookiesHash computes "<mtime_ms>:<size>" for the source cookies
// file, which stands in for a real content hash cheaply (spec §3).
func sourceCookiesHash(profileDir string) (string, error) {
	info, err := os.Stat(cookiesPath(profileDir))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%d", info.ModTime().UnixMilli(), info.Size()), nil
}

func cookiesPath(profileDir string) string {
	// The "Default" profile directory is what real Chrome uses when no
	// profile picker has been used; multi-profile setups are out of scope.
	return filepath.Join(profileDir, "Default", "Cookies")
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
