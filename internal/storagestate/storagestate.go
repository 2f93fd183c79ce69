// Package storagestate is the optional per-session cookie/localStorage
// save and restore (spec §4.12).
package storagestate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"openchrome/internal/cdptransport"
	"openchrome/internal/core"
	"openchrome/internal/filestore"
)

const (
	stateVersion    = 1
	restoreDeadline = 10 * time.Second
	// DefaultWatchdogInterval is used when WatchdogOptions.Interval <= 0.
	DefaultWatchdogInterval = 30 * time.Second
)

// State is the on-disk shape written by Save and read by Restore.
type State struct {
	Version      int               `json:"version"`
	Timestamp    time.Time         `json:"timestamp"`
	Cookies      []network.Cookie  `json:"cookies"`
	LocalStorage map[string]string `json:"localStorage"`
}

// Manager saves/restores storage state for tabs, single-flighting
// concurrent saves to the same path.
type Manager struct {
	store     *filestore.Store
	transport *cdptransport.Transport

	mu      sync.Mutex
	inFlight map[string]bool
}

// New returns a ready Manager.
func New(transport *cdptransport.Transport) *Manager {
	return &Manager{
		store:    filestore.New(),
		transport: transport,
		inFlight: make(map[string]bool),
	}
}

// Save collects cookies and localStorage from tab and writes them to path.
// A concurrent Save already running for the same path is a silent no-op.
func (m *Manager) Save(ctx context.Context, tab *cdptransport.Tab, path string) error {
	m.mu.Lock()
	if m.inFlight[path] {
		m.mu.Unlock()
		return nil
	}
	m.inFlight[path] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, path)
		m.mu.Unlock()
	}()

	var cookies []*network.Cookie
	var localStorage map[string]string

	err := m.transport.SendOp(tab, 0, chromedp.ActionFunc(func(cctx context.Context) error {
		cs, err := network.GetAllCookies().Do(cctx)
		if err != nil {
			return err
		}
		cookies = cs

		obj, exc, err := runtime.Evaluate(readLocalStorageScript).WithReturnByValue(true).Do(cctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("storagestate: localStorage read threw: %s", exc.Text)
		}
		return json.Unmarshal(obj.Value, &localStorage)
	}), "storage.save")
	if err != nil {
		return err
	}

	state := State{
		Version:      stateVersion,
		Timestamp:    time.Now(),
		LocalStorage: localStorage,
	}
	for _, c := range cookies {
		state.Cookies = append(state.Cookies, *c)
	}

	return m.store.Write(path, state, filestore.WriteOptions{})
}

// Restore reads path and applies its cookies/localStorage to tab, bounded
// by restoreDeadline. Returns ok=false (no error) if the file is missing,
// corrupted, or has an unsupported version, per spec §4.12.
func (m *Manager) Restore(ctx context.Context, tab *cdptransport.Tab, path string) (ok bool, err error) {
	var state State
	res := filestore.Read(path, &state, func() error {
		if state.Version != stateVersion {
			return fmt.Errorf("unsupported version %d", state.Version)
		}
		return nil
	})
	if !res.OK {
		return false, nil
	}

	cctx, cancel := context.WithTimeout(ctx, restoreDeadline)
	defer cancel()

	params := filterExpiredCookies(state.Cookies, time.Now().Unix())

	sendErr := m.transport.SendOp(tab, restoreDeadline, chromedp.ActionFunc(func(_ context.Context) error {
		if len(params) > 0 {
			if err := network.SetCookies(params).Do(cctx); err != nil {
				return err
			}
		}
		if len(state.LocalStorage) > 0 {
			data, err := json.Marshal(state.LocalStorage)
			if err != nil {
				return err
			}
			_, exc, err := runtime.Evaluate(writeLocalStorageScript(string(data))).Do(cctx)
			if err != nil {
				return err
			}
			if exc != nil {
				// Restricted origins (e.g. about:blank, chrome://) refuse
				// localStorage access; that's an expected skip, not a
				// restore failure.
				return nil
			}
		}
		return nil
	}), "storage.restore")
	if sendErr != nil {
		return false, sendErr
	}
	return true, nil
}

// WatchdogOptions controls StartWatchdog.
type WatchdogOptions struct {
	Interval time.Duration
}

// StartWatchdog schedules a resave of tab to path every Interval (default
// DefaultWatchdogInterval) until ctx is done. The resaves run in a
// background goroutine and StartWatchdog returns at once; errors inside the
// watchdog are swallowed.
func (m *Manager) StartWatchdog(ctx context.Context, tab *cdptransport.Tab, path string, opts WatchdogOptions) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = m.Save(ctx, tab, path)
			}
		}
	}()
}

// filterExpiredCookies drops non-session cookies whose expiry is in the
// past (spec §4.12), translating the rest into CookieParam values for
// Network.setCookies.
func filterExpiredCookies(cookies []network.Cookie, now int64) []*network.CookieParam {
	var params []*network.CookieParam
	for i := range cookies {
		c := cookies[i]
		if !c.Session && c.Expires > 0 && int64(c.Expires) < now {
			continue
		}
		expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
		params = append(params, &network.CookieParam{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			Secure: c.Secure, HTTPOnly: c.HTTPOnly, SameSite: c.SameSite,
			Expires: &expires,
		})
	}
	return params
}

const readLocalStorageScript = `(function() {
  var out = {};
  try {
    for (var i = 0; i < localStorage.length; i++) {
      var k = localStorage.key(i);
      out[k] = localStorage.getItem(k);
    }
  } catch (e) {}
  return out;
})()`

func writeLocalStorageScript(jsonData string) string {
	return fmt.Sprintf(`(function() {
  var d = %s;
  for (var k in d) { try { localStorage.setItem(k, d[k]); } catch (e) {} }
})()`, jsonData)
}
