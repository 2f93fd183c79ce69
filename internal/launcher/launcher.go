// Package launcher locates and starts the single shared Chrome process the
// rest of the core attaches to, or connects to an already-running instance
// reachable over the CDP HTTP endpoint.
package launcher

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"

	"openchrome/internal/core"
	"openchrome/internal/profile"
)

const startupDeadline = 30 * time.Second

// Options configures a launch.
type Options struct {
	// ProfileDir is the resolved user-data-dir to launch against (from C2).
	ProfileDir string
	// ProfileType mirrors profile.Resolution.Type; non-real profile types
	// additionally get flags that stop Chrome from backgrounding occluded
	// windows and renderers.
	ProfileType profile.DirType
	// Headless selects the headless-shell rendering path.
	Headless bool
	// DebugPort is the remote-debugging port to request; 0 picks a free
	// ephemeral port.
	DebugPort int
	// RemoteURL, if set, skips spawning a process entirely and attaches to
	// an already-running Chrome at this CDP HTTP address instead
	// (chromedp.NewRemoteAllocator).
	RemoteURL string
	// ChromePath overrides binary discovery.
	ChromePath string
}

// Instance is a launched (or attached) Chrome browser and the allocator
// context tabs are created from.
type Instance struct {
	AllocCtx    context.Context
	AllocCancel context.CancelFunc

	Port        int
	UserDataDir string
	spawnedProc bool
	removeOnEnd bool

	cmd *exec.Cmd
}

// Launch starts Chrome and blocks until it answers on its debugging port,
// per spec §4.3. With RemoteURL set it attaches instead and returns without
// probing the endpoint.
func Launch(ctx context.Context, opts Options) (*Instance, error) {
	if opts.RemoteURL != "" {
		return attachRemote(ctx, opts)
	}
	return spawnLocal(ctx, opts)
}

func attachRemote(ctx context.Context, opts Options) (*Instance, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	return &Instance{AllocCtx: allocCtx, AllocCancel: allocCancel}, nil
}

func spawnLocal(ctx context.Context, opts Options) (*Instance, error) {
	chromePath := opts.ChromePath
	if chromePath == "" {
		chromePath = findChrome()
	}
	if chromePath == "" {
		return nil, core.NewError(core.KindLauncherPortUnreach, "no chrome/chromium executable found")
	}

	port := opts.DebugPort
	if port == 0 {
		p, err := freePort()
		if err != nil {
			return nil, core.Wrap(core.KindLauncherPortUnreach, "allocate debug port", err)
		}
		port = p
	}

	if opts.ProfileDir == "" {
		return nil, core.NewError(core.KindLauncherPortUnreach, "launcher: ProfileDir is required")
	}
	if err := os.MkdirAll(opts.ProfileDir, 0o755); err != nil {
		return nil, fmt.Errorf("launcher: prepare profile dir: %w", err)
	}

	execOpts := buildExecOptions(opts, port)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOpts...)

	// chromedp's exec allocator starts the browser lazily on first use; force
	// a context to materialize the process now so we can wait for the debug
	// port and fail fast if Chrome never comes up.
	warmCtx, warmCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(warmCtx, chromedp.Navigate("about:blank")); err != nil {
		warmCancel()
		allocCancel()
		return nil, core.Wrap(core.KindLauncherPortUnreach, "start chrome", err)
	}

	if _, err := waitForPort(port, startupDeadline); err != nil {
		warmCancel()
		allocCancel()
		return nil, core.Wrap(core.KindLauncherPortUnreach, "chrome did not become ready", err)
	}

	inst := &Instance{
		AllocCtx:    allocCtx,
		AllocCancel: func() { warmCancel(); allocCancel() },
		Port:        port,
		UserDataDir: opts.ProfileDir,
		spawnedProc: true,
		removeOnEnd: opts.ProfileType == profile.TypeTemp,
	}
	return inst, nil
}

// buildExecOptions assembles the flag set. Profiles other than the user's
// real one additionally get the two renderer-backgrounding flags; the
// sandbox flags depend only on runningInContainer.
func buildExecOptions(opts Options, port int) []chromedp.ExecAllocatorOption {
	execOpts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("remote-debugging-port", strconv.Itoa(port)),
		chromedp.UserDataDir(opts.ProfileDir),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-features", "TranslateUI"),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-session-crashed-bubble", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("restore-last-session", false),
		chromedp.Flag("renderer-process-limit", "4"),
	}

	if opts.Headless {
		execOpts = append(execOpts, chromedp.Flag("headless", "new"))
	} else {
		execOpts = append(execOpts, chromedp.Flag("headless", false))
		execOpts = append(execOpts, chromedp.Flag("start-maximized", true))
	}

	if opts.ProfileType != profile.TypeReal {
		execOpts = append(execOpts,
			chromedp.Flag("disable-backgrounding-occluded-windows", true),
			chromedp.Flag("disable-renderer-backgrounding", true),
		)
	}

	if runningInContainer() {
		execOpts = append(execOpts, chromedp.Flag("no-sandbox", true), chromedp.Flag("disable-dev-shm-usage", true))
	}

	return execOpts
}

// Stop shuts down the instance. A spawned local process is killed; an
// attached remote instance is left running (we don't own its lifecycle).
// Only profile directories of type temp are deleted — a persistent mirror
// or the user's real profile is never removed.
func (i *Instance) Stop() error {
	if i.AllocCancel != nil {
		i.AllocCancel()
	}
	if i.removeOnEnd && i.UserDataDir != "" {
		_ = os.RemoveAll(i.UserDataDir)
	}
	return nil
}

// findChrome locates a Chrome/Chromium binary, checking an environment
// override, the usual per-platform install locations, and finally PATH.
func findChrome() string {
	if p := os.Getenv("OPENCHROME_CHROME_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			filepath.Join(os.Getenv("HOME"), "Applications/Google Chrome.app/Contents/MacOS/Google Chrome"),
		}
	case "linux":
		paths = []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	case "windows":
		paths = []string{
			filepath.Join(os.Getenv("LOCALAPPDATA"), "Google", "Chrome", "Application", "chrome.exe"),
			filepath.Join(os.Getenv("PROGRAMFILES"), "Google", "Chrome", "Application", "chrome.exe"),
			filepath.Join(os.Getenv("PROGRAMFILES(X86)"), "Google", "Chrome", "Application", "chrome.exe"),
		}
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	for _, name := range []string{"google-chrome", "chrome", "chromium", "chromium-browser"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// runningInContainer is a best-effort heuristic used only to decide whether
// --no-sandbox is required; it errs towards "yes" when in doubt since a
// missing setuid sandbox helper is a hard launch failure, not a soft one.
func runningInContainer() bool {
	if os.Getenv("OPENCHROME_NO_SANDBOX") == "1" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
