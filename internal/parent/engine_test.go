package parent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/oriys/workerproc/internal/codec"
	"github.com/oriys/workerproc/internal/protocol"
	"github.com/oriys/workerproc/internal/rpcerr"
)

func testEngine(t *testing.T, timeout time.Duration, retries int) (*engine, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	cfg := Config{Codec: codec.For(codec.ModePortable), Timeout: timeout, Retries: retries}
	e := newEngine(ft, cfg, protocol.Ready{})
	return e, ft
}

// nextRequest reads the next frame off ft.writes and decodes it as a
// Request envelope.
func nextRequest(t *testing.T, ft *fakeTransport) *protocol.Request {
	t.Helper()
	select {
	case frame := <-ft.writes:
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("decode written frame: %v", err)
		}
		if env.Kind != protocol.KindRequest || env.Request == nil {
			t.Fatalf("written envelope kind = %v, want request", env.Kind)
		}
		return env.Request
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker-bound request")
		return nil
	}
}

func pushResponse(t *testing.T, ft *fakeTransport, c codec.Codec, id uint64, value any) {
	t.Helper()
	payload, err := c.Encode(value, "value")
	if err != nil {
		t.Fatalf("encode response value: %v", err)
	}
	env := protocol.Envelope{Kind: protocol.KindResponse, Response: &protocol.Response{ID: id, OK: true, Value: payload}}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal response envelope: %v", err)
	}
	ft.frames <- data
}

func pushErrorResponse(t *testing.T, ft *fakeTransport, c codec.Codec, id uint64, message string) {
	t.Helper()
	payload, err := c.Encode(message, "error")
	if err != nil {
		t.Fatalf("encode error value: %v", err)
	}
	env := protocol.Envelope{Kind: protocol.KindResponse, Response: &protocol.Response{ID: id, OK: false, Error: payload}}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal response envelope: %v", err)
	}
	ft.frames <- data
}

func TestEngineCallRoundTrip(t *testing.T) {
	e, ft := testEngine(t, time.Second, 0)

	done := make(chan struct {
		value any
		err   error
	}, 1)
	go func() {
		value, err := e.call(context.Background(), "add", []any{2, 3})
		done <- struct {
			value any
			err   error
		}{value, err}
	}()

	req := nextRequest(t, ft)
	if req.Method != "add" {
		t.Fatalf("Method = %q, want add", req.Method)
	}
	pushResponse(t, ft, e.codec, req.ID, 5.0)

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if res.value != 5.0 {
			t.Fatalf("value = %v, want 5", res.value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("call never settled")
	}
}

func TestEngineCallSurfacesRemoteError(t *testing.T) {
	e, ft := testEngine(t, time.Second, 0)

	done := make(chan error, 1)
	go func() {
		_, err := e.call(context.Background(), "explode", nil)
		done <- err
	}()

	req := nextRequest(t, ft)
	pushErrorResponse(t, ft, e.codec, req.ID, "kaboom")

	select {
	case err := <-done:
		var remote *rpcerr.RemoteError
		if !errors.As(err, &remote) {
			t.Fatalf("err = %v, want *rpcerr.RemoteError", err)
		}
		if remote.Message != "kaboom" {
			t.Fatalf("Message = %q, want kaboom", remote.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("call never settled")
	}
}

func TestEngineCallRetriesOnTimeout(t *testing.T) {
	e, ft := testEngine(t, 50*time.Millisecond, 1)

	done := make(chan any, 1)
	go func() {
		value, err := e.call(context.Background(), "slow", nil)
		if err != nil {
			done <- err
			return
		}
		done <- value
	}()

	first := nextRequest(t, ft)
	// Let the first attempt time out without a response.
	second := nextRequest(t, ft)
	if second.ID == first.ID {
		t.Fatal("retry reused the same correlation ID")
	}
	pushResponse(t, ft, e.codec, second.ID, "ok")

	select {
	case result := <-done:
		if result != "ok" {
			t.Fatalf("result = %v, want ok", result)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("call never settled after retry")
	}
}

func TestEngineCallExhaustsRetryBudget(t *testing.T) {
	e, ft := testEngine(t, 30*time.Millisecond, 1)

	done := make(chan error, 1)
	go func() {
		_, err := e.call(context.Background(), "neverresponds", nil)
		done <- err
	}()

	nextRequest(t, ft)
	nextRequest(t, ft)

	select {
	case err := <-done:
		var timeoutErr *rpcerr.TimeoutError
		if !errors.As(err, &timeoutErr) {
			t.Fatalf("err = %v, want *rpcerr.TimeoutError", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("call never settled")
	}
}

func TestEngineCrashSweepsPendingCalls(t *testing.T) {
	e, ft := testEngine(t, 5*time.Second, 0)

	done := make(chan error, 1)
	go func() {
		_, err := e.call(context.Background(), "long", nil)
		done <- err
	}()
	nextRequest(t, ft)

	ft.crash(1, "")

	select {
	case err := <-done:
		var crashErr *rpcerr.WorkerCrashedError
		if !errors.As(err, &crashErr) {
			t.Fatalf("err = %v, want *rpcerr.WorkerCrashedError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not swept after crash")
	}
}

func TestEnginePropertyUpdateReachesMirror(t *testing.T) {
	e, ft := testEngine(t, time.Second, 0)
	payload, err := e.codec.Encode(42, "value")
	if err != nil {
		t.Fatalf("encode property value: %v", err)
	}
	env := protocol.Envelope{Kind: protocol.KindPropertyUpdate, PropertyUpdate: &protocol.PropertyUpdate{Name: "count", Value: payload}}
	data, _ := json.Marshal(env)
	ft.frames <- data

	deadline := time.After(time.Second)
	for {
		if v, ok := e.mirror.get("count"); ok {
			if v != float64(42) {
				t.Fatalf("mirrored value = %v, want 42", v)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("property update never reached the mirror")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEngineEventReachesHub(t *testing.T) {
	e, ft := testEngine(t, time.Second, 0)
	received := make(chan any, 1)
	e.events.on("tick", func(args any) { received <- args })

	payload, err := e.codec.Encode("hello", "args")
	if err != nil {
		t.Fatalf("encode event args: %v", err)
	}
	env := protocol.Envelope{Kind: protocol.KindEvent, Event: &protocol.Event{Name: "tick", Args: payload}}
	data, _ := json.Marshal(env)
	ft.frames <- data

	select {
	case args := <-received:
		if args != "hello" {
			t.Fatalf("args = %v, want hello", args)
		}
	case <-time.After(time.Second):
		t.Fatal("event never reached listener")
	}
}

func TestEngineCallbackInvokeRoundTrip(t *testing.T) {
	e, ft := testEngine(t, time.Second, 0)
	cbID := e.callbacks.register(fnValue(func(x int) int { return x * 2 }), 1)

	argsPayload, err := e.codec.Encode([]any{21}, "args")
	if err != nil {
		t.Fatalf("encode callback args: %v", err)
	}
	env := protocol.Envelope{Kind: protocol.KindCallbackInvoke, CallbackInvoke: &protocol.CallbackInvoke{ID: 1, CallbackID: cbID, Args: argsPayload}}
	data, _ := json.Marshal(env)
	ft.frames <- data

	select {
	case frame := <-ft.writes:
		var out protocol.Envelope
		if err := json.Unmarshal(frame, &out); err != nil {
			t.Fatalf("decode callback result: %v", err)
		}
		if out.Kind != protocol.KindCallbackResult || out.CallbackResult == nil {
			t.Fatalf("kind = %v, want callback_result", out.Kind)
		}
		if !out.CallbackResult.OK {
			t.Fatalf("callback result not OK: %+v", out.CallbackResult)
		}
		var value any
		if err := e.codec.Decode(out.CallbackResult.Value, &value); err != nil {
			t.Fatalf("decode callback result value: %v", err)
		}
		if value != float64(42) {
			t.Fatalf("value = %v, want 42", value)
		}
	case <-time.After(time.Second):
		t.Fatal("callback result was never sent back")
	}
}
