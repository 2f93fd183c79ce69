package launcher

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// BrowserInfo is decoded from Chrome's /json/version debugging endpoint.
type BrowserInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// discoverBrowserInfo queries /json/version to confirm Chrome is answering
// on port and to obtain the websocket endpoint chromedp needs to attach.
func discoverBrowserInfo(port int) (*BrowserInfo, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/json/version", port))
	if err != nil {
		return nil, fmt.Errorf("launcher: connect to chrome on port %d: %w", port, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("launcher: unexpected status %d from /json/version", resp.StatusCode)
	}

	var info BrowserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("launcher: decode /json/version: %w", err)
	}
	return &info, nil
}

// waitForPort polls /json/version every 500ms until Chrome answers or
// deadline elapses (spec §4.3).
func waitForPort(port int, deadline time.Duration) (*BrowserInfo, error) {
	end := time.Now().Add(deadline)
	var lastErr error
	for time.Now().Before(end) {
		info, err := discoverBrowserInfo(port)
		if err == nil {
			return info, nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("launcher: chrome did not become reachable on port %d within %v: %w", port, deadline, lastErr)
}
