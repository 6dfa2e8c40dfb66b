package lifecycle

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/oriys/workerproc/internal/codec"
)

func TestSpawnRejectsInvalidOptionsBeforeStartingAProcess(t *testing.T) {
	_, err := Spawn(context.Background(), SpawnOptions{})
	if err == nil {
		t.Fatal("expected validation error for empty SpawnOptions")
	}
}

func TestSpawnFailsOnUnknownWorkerPath(t *testing.T) {
	_, err := Spawn(context.Background(), SpawnOptions{
		WorkerPath: filepath.Join(t.TempDir(), "does-not-exist"),
		ClassName:  "X",
	})
	if err == nil {
		t.Fatal("expected an error for a nonexistent worker binary")
	}
}

// TestSpawnSurfacesMalformedReady uses `cat` as a stand-in worker: it
// echoes the handshake frame straight back, which is not a valid Ready
// envelope, exercising waitForReady's decode-failure path.
func TestSpawnSurfacesMalformedReady(t *testing.T) {
	catPath, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	_, err = Spawn(context.Background(), SpawnOptions{
		WorkerPath:            catPath,
		ClassName:             "X",
		Serialization:         codec.ModePortable,
		InitializationTimeout: time.Second,
	})
	if err == nil {
		t.Fatal("expected an error when the worker doesn't send a Ready envelope")
	}
}

// TestSpawnFailsFastWhenWorkerExitsWithoutReady uses `sleep` with no
// operand as a stand-in worker: coreutils' sleep exits immediately with
// a usage error in that case, closing its stdout before writing
// anything, which exercises the "transport closed before ready" branch
// of waitForReady well within the initialization budget.
func TestSpawnFailsFastWhenWorkerExitsWithoutReady(t *testing.T) {
	sleepPath, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	start := time.Now()
	_, err = Spawn(context.Background(), SpawnOptions{
		WorkerPath:            sleepPath,
		ClassName:             "X",
		Serialization:         codec.ModePortable,
		InitializationTimeout: 2 * time.Second,
	})
	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("expected an error when the worker exits without sending Ready")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Spawn took %s, expected it to fail fast rather than wait out the initialization budget", elapsed)
	}
}

func TestCheckExecutableRejectsNonExecutableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-executable")
	if err := exec.Command("sh", "-c", "touch "+path).Run(); err != nil {
		t.Skip("sh/touch not available")
	}
	if err := checkExecutable(path); err == nil {
		t.Fatal("expected an error for a non-executable file")
	}
}
