//go:build !windows

package profile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// IsLocked reports whether a running Chrome process currently owns
// profileDir. Chrome marks an in-use profile with SingletonLock, a symlink
// whose target has the form "<hostname>-<pid>" (spec §4.2); a lock whose
// pid is no longer alive is stale and reported as unlocked.
// SingletonSocket/SingletonCookie are consulted only when SingletonLock is
// not a readable symlink or its target carries no parseable pid.
func IsLocked(profileDir string) (bool, error) {
	lockPath := filepath.Join(profileDir, "SingletonLock")
	target, err := os.Readlink(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		// Not a symlink, or unreadable: fall back to existence of the
		// socket/cookie siblings as weaker evidence.
		return singletonSiblingsExist(profileDir), nil
	}

	pid, ok := pidFromSingletonTarget(target)
	if !ok {
		return singletonSiblingsExist(profileDir), nil
	}

	if processAlive(pid) {
		return true, nil
	}
	// The link exists but its pid is dead: a prior Chrome crashed without
	// cleaning up. Treat as unlocked.
	return false, nil
}

// pidFromSingletonTarget parses the "<hostname>-<pid>" SingletonLock target.
func pidFromSingletonTarget(target string) (int, bool) {
	idx := strings.LastIndex(target, "-")
	if idx < 0 || idx == len(target)-1 {
		return 0, false
	}
	pid, err := strconv.Atoi(target[idx+1:])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes existence and
	// permission without actually signaling the process.
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

func singletonSiblingsExist(profileDir string) bool {
	for _, name := range []string{"SingletonSocket", "SingletonCookie"} {
		if _, err := os.Lstat(filepath.Join(profileDir, name)); err == nil {
			return true
		}
	}
	return false
}
