package transport

import (
	"os/exec"
	"testing"
	"time"

	"github.com/oriys/workerproc/internal/codec"
)

// TestPipeTransportEchoRoundTrip uses `cat` as a stand-in worker: whatever
// frame bytes are written to its stdin are echoed back on stdout
// unchanged, so this exercises the framing/transport plumbing without a
// purpose-built worker binary.
func TestPipeTransportEchoRoundTrip(t *testing.T) {
	catPath, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	pt, err := NewPipeTransport(PipeOptions{Path: catPath})
	if err != nil {
		t.Fatalf("NewPipeTransport: %v", err)
	}
	defer pt.Close()

	frame, err := func() ([]byte, error) {
		var buf []byte
		w := &sliceWriter{&buf}
		if err := codec.WriteFrame(w, []byte("hello")); err != nil {
			return nil, err
		}
		return buf, nil
	}()
	if err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if err := pt.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case payload := <-pt.Frames():
		if string(payload) != "hello" {
			t.Fatalf("got %q, want %q", payload, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}
}

func TestPipeTransportExitStatus(t *testing.T) {
	truePath, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	pt, err := NewPipeTransport(PipeOptions{Path: truePath})
	if err != nil {
		t.Fatalf("NewPipeTransport: %v", err)
	}

	select {
	case <-pt.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for process exit")
	}
	// give waitLoop a moment to record exit status after Closed() fires
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, _, ok := pt.Exit(); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	code, _, ok := pt.Exit()
	if !ok {
		t.Fatal("exit status never recorded")
	}
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
