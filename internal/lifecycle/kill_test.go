package lifecycle

import (
	"os/exec"
	"testing"
	"time"

	"github.com/oriys/workerproc/internal/transport"
)

// TestKillFuncTerminatesViaSIGTERM uses `cat` (which exits on SIGTERM by
// default) as a stand-in worker: killFunc's grace window should never be
// reached because the process dies on the initial signal.
func TestKillFuncTerminatesViaSIGTERM(t *testing.T) {
	catPath, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	pt, err := transport.NewPipeTransport(transport.PipeOptions{Path: catPath})
	if err != nil {
		t.Fatalf("NewPipeTransport: %v", err)
	}

	kill := killFunc(pt, 5*time.Second)

	done := make(chan struct{})
	go func() {
		kill()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("killFunc did not return after SIGTERM should have terminated the process")
	}

	select {
	case <-pt.Closed():
	case <-time.After(time.Second):
		t.Fatal("transport never observed the process exit")
	}
}

func TestKillFuncNoopWithoutProcessProvider(t *testing.T) {
	ft := &noProcessTransport{closed: make(chan struct{})}
	kill := killFunc(ft, time.Second)
	done := make(chan struct{})
	go func() {
		kill()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("killFunc should return immediately for a transport with no Process()")
	}
}

type noProcessTransport struct{ closed chan struct{} }

func (t *noProcessTransport) Write(frame []byte) error        { return nil }
func (t *noProcessTransport) Frames() <-chan []byte           { return nil }
func (t *noProcessTransport) Ready() <-chan struct{}          { return nil }
func (t *noProcessTransport) Closed() <-chan struct{}         { return t.closed }
func (t *noProcessTransport) Exit() (int, string, bool)       { return 0, "", false }
func (t *noProcessTransport) Close() error                    { return nil }
