//go:build linux

package transport

import (
	"os"
	"testing"
	"time"
)

// TestDialVsockRequiresDevice is a guarded integration test: it's skipped
// whenever /dev/vsock is unavailable, which is true in essentially every CI
// sandbox and in this build environment, matching how nova's own vsock
// paths are exercised only on hosts with real virtualization.
func TestDialVsockRequiresDevice(t *testing.T) {
	if _, err := os.Stat("/dev/vsock"); err != nil {
		t.Skip("/dev/vsock unavailable in this environment")
	}
	_, err := DialVsock(VsockOptions{ContextID: 3, Port: 9999, DialTimeout: 200 * time.Millisecond})
	if err == nil {
		t.Fatal("expected dial to a non-listening port to fail")
	}
}
