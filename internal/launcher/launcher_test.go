package launcher

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindChromeEnvOverride(t *testing.T) {
	dir := t.TempDir()
	fake := filepath.Join(dir, "fake-chrome")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	t.Setenv("OPENCHROME_CHROME_PATH", fake)

	got := findChrome()
	if got != fake {
		t.Errorf("findChrome() = %q, want %q", got, fake)
	}
}

func TestFindChromeEnvOverrideIgnoredWhenMissing(t *testing.T) {
	t.Setenv("OPENCHROME_CHROME_PATH", "/no/such/binary/here")
	got := findChrome()
	if got == "/no/such/binary/here" {
		t.Errorf("findChrome() should not return a nonexistent override path")
	}
}

func TestRunningInContainerEnvOverride(t *testing.T) {
	t.Setenv("OPENCHROME_NO_SANDBOX", "1")
	if !runningInContainer() {
		t.Errorf("expected runningInContainer()=true with OPENCHROME_NO_SANDBOX=1")
	}
}

func TestFreePortReturnsListenablePort(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Errorf("freePort() = %d, out of range", port)
	}
}
