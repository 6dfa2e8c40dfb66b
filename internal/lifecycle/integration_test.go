package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/workerproc/internal/codec"
	"github.com/oriys/workerproc/internal/parent"
	"github.com/oriys/workerproc/internal/rpcerr"
	"github.com/oriys/workerproc/internal/transport"
	"github.com/oriys/workerproc/internal/worker"
	"github.com/oriys/workerproc/internal/worker/workertest"
)

// helperProcessEnv is set on the environment of every worker this file
// spawns. The spawned process is this same test binary, re-invoked; seeing
// the variable set routes TestMain straight into worker.Serve instead of
// running the test suite again, following the os/exec package's own
// TestHelperProcess self-exec idiom.
const helperProcessEnv = "WORKERPROC_INTEGRATION_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperProcessEnv) == "1" {
		runHelperWorker()
		return
	}
	os.Exit(m.Run())
}

func runHelperWorker() {
	t := transport.NewStdioTransport(os.Stdin, os.Stdout, 64<<20)
	err := worker.Serve(t, worker.Options{
		Registry:        workertest.Registry(),
		ShutdownTimeout: 2 * time.Second,
		CallbackTimeout: 5 * time.Second,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "workertest helper:", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func spawnFixture(t *testing.T, class string, args json.RawMessage, configure func(*SpawnOptions)) *parent.Handle {
	t.Helper()
	self, err := os.Executable()
	if err != nil {
		t.Skipf("os.Executable unavailable: %v", err)
	}

	opts := SpawnOptions{
		WorkerPath:            self,
		ClassName:             class,
		Args:                  args,
		Env:                   map[string]string{helperProcessEnv: "1"},
		Timeout:               2 * time.Second,
		Retries:               3,
		Serialization:         codec.ModeRich,
		InitializationTimeout: 5 * time.Second,
		ShutdownTimeout:       2 * time.Second,
	}
	if configure != nil {
		configure(&opts)
	}

	h, err := Spawn(context.Background(), opts)
	if err != nil {
		t.Fatalf("Spawn(%s): %v", class, err)
	}
	return h
}

// S1 — basic call, then graceful termination.
func TestScenarioBasicCall(t *testing.T) {
	h := spawnFixture(t, "Calculator", nil, nil)

	value, err := h.Call(context.Background(), "Add", 5)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	n, ok := value.(int64)
	if !ok || n != 5 {
		t.Fatalf("got %v, want 5", value)
	}

	value, err = h.Call(context.Background(), "Add", 7)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	n, ok = value.(int64)
	if !ok || n != 12 {
		t.Fatalf("got %v, want 12", value)
	}

	if err := h.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
}

// S2 — property sync: after the third resolved call, the mirrored
// property reads synchronously without another round trip.
func TestScenarioPropertySync(t *testing.T) {
	h := spawnFixture(t, "Counter", nil, nil)
	defer h.Terminate(context.Background())

	for i := 0; i < 3; i++ {
		if _, err := h.Call(context.Background(), "Increment"); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}

	value, ok := h.Get("Value")
	if !ok {
		t.Fatal("Value was never mirrored")
	}
	n, ok := value.(int64)
	if !ok || n != 3 {
		t.Fatalf("Value = %v, want 3", value)
	}
}

// S3 — timeout + retry: a call that always exceeds the per-attempt
// timeout rejects with TimeoutError after exhausting the retry budget.
func TestScenarioTimeoutAndRetry(t *testing.T) {
	h := spawnFixture(t, "Faulty", nil, func(o *SpawnOptions) {
		o.Timeout = 200 * time.Millisecond
		o.Retries = 3
	})
	defer h.Terminate(context.Background())

	started := time.Now()
	_, err := h.Call(context.Background(), "Slow", 300)
	elapsed := time.Since(started)

	var timeoutErr *rpcerr.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("got %v, want *rpcerr.TimeoutError", err)
	}
	if elapsed < 800*time.Millisecond {
		t.Fatalf("elapsed %v, want >= 800ms (4 attempts at 200ms)", elapsed)
	}
}

// S4 — crash sweep: a method that kills the worker process rejects every
// outstanding call, including concurrent ones, with WorkerCrashedError.
func TestScenarioCrashSweep(t *testing.T) {
	h := spawnFixture(t, "Faulty", nil, func(o *SpawnOptions) {
		o.Timeout = 5 * time.Second
	})
	defer h.Terminate(context.Background())

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.Call(context.Background(), "Slow", 2000)
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	_, _ = h.Call(context.Background(), "Panic")

	wg.Wait()
	for i, err := range errs {
		var crashed *rpcerr.WorkerCrashedError
		if !errors.As(err, &crashed) {
			t.Fatalf("call %d: got %v, want *rpcerr.WorkerCrashedError", i, err)
		}
	}
}

// S5 — callback: a func argument is invoked once per element, in order,
// before the call settles.
func TestScenarioCallback(t *testing.T) {
	h := spawnFixture(t, "BufferEchoer", nil, nil)
	defer h.Terminate(context.Background())

	var mu sync.Mutex
	var seen []int
	add := func(n int) int {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		return n + 1
	}

	result, err := h.Call(context.Background(), "Apply", []int64{0, 1, 2, 3, 4}, add)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	_ = result

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Fatalf("callback invoked %d times, want 5", len(seen))
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("seen[%d] = %d, want %d", i, v, i)
		}
	}
}

// S6 — event forwarding: a subscribed listener observes every event
// emitted during a call, in emission order, before the call resolves.
func TestScenarioEventForwarding(t *testing.T) {
	h := spawnFixture(t, "EventEmitterTarget", nil, nil)
	defer h.Terminate(context.Background())

	var count atomic.Int32
	h.On("progress", func(args any) { count.Add(1) })

	for i := 0; i < 5; i++ {
		if _, err := h.Call(context.Background(), "Fire", "progress", i); err != nil {
			t.Fatalf("Fire: %v", err)
		}
	}

	if got := count.Load(); got != 5 {
		t.Fatalf("listener invoked %d times, want 5", got)
	}
}

// S7 — rich codec fidelity: a buffer round-trips through the worker with
// its bitwise complement applied, byte for byte.
func TestScenarioRichCodecBufferFidelity(t *testing.T) {
	h := spawnFixture(t, "BufferEchoer", nil, nil)
	defer h.Terminate(context.Background())

	input := []byte{0x00, 0x11, 0x22, 0xaa, 0xff}
	result, err := h.Call(context.Background(), "ProcessBuffer", input)
	if err != nil {
		t.Fatalf("ProcessBuffer: %v", err)
	}
	out, ok := result.([]byte)
	if !ok {
		t.Fatalf("got %T, want []byte", result)
	}
	for i, b := range input {
		if out[i] != b^0xff {
			t.Fatalf("out[%d] = %#x, want %#x", i, out[i], b^0xff)
		}
	}
}

// S8 — error prototype: in rich mode the rejected error is a
// *rpcerr.RemoteError carrying the worker-side type name. The RemoteError
// holds only name, message and stack; the error's own fields
// (Field/Constraints) and its cause chain are not carried onto it.
func TestScenarioErrorPrototypeRichMode(t *testing.T) {
	h := spawnFixture(t, "Faulty", nil, nil)
	defer h.Terminate(context.Background())

	_, err := h.Call(context.Background(), "Validate", "email")
	var remote *rpcerr.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("got %v, want *rpcerr.RemoteError", err)
	}
	if remote.Name == "" {
		t.Fatal("expected a non-empty error name in rich mode")
	}
}
