package parent

import (
	"context"
	"os"
	"reflect"
	"time"

	"github.com/oriys/workerproc/internal/codec"
	"github.com/oriys/workerproc/internal/protocol"
	"github.com/oriys/workerproc/internal/transport"
)

// Handle is the public proxy for a spawned worker instance. It is safe for
// concurrent use by multiple goroutines: Call may be invoked concurrently,
// each blocking on its own pending-call slot while a single reader
// goroutine serializes every reaction to the worker's frames.
type Handle struct {
	e               *engine
	transport       transport.Transport
	mode            codec.Mode
	ready           protocol.Ready
	shutdownTimeout time.Duration
	kill            func()
}

// processProvider is implemented by process-backed transports (PipeTransport);
// vsock-backed transports have no local process to expose.
type processProvider interface {
	Process() *os.Process
}

// NewHandle is called by lifecycle.Spawn once the handshake has completed
// and Ready has been received. kill is an escalation hook (SIGTERM/SIGKILL)
// installed by lifecycle so this package never needs to import
// golang.org/x/sys.
func NewHandle(t transport.Transport, cfg Config, ready protocol.Ready, shutdownTimeout time.Duration, kill func()) *Handle {
	return &Handle{
		e:               newEngine(t, cfg, ready),
		transport:       t,
		mode:            cfg.Codec.Mode(),
		ready:           ready,
		shutdownTimeout: shutdownTimeout,
		kill:            kill,
	}
}

// Call invokes method on the worker instance with args, blocking until the
// Response arrives, the retry budget is exhausted, or ctx is canceled.
func (h *Handle) Call(ctx context.Context, method string, args ...any) (any, error) {
	return h.e.call(ctx, method, args)
}

// Get reads the last known value of a mirrored property. ok is false if
// the worker has never reported that property.
func (h *Handle) Get(name string) (value any, ok bool) {
	return h.e.mirror.get(name)
}

// Properties returns a snapshot of every mirrored property.
func (h *Handle) Properties() map[string]any {
	return h.e.mirror.snapshot()
}

// On registers a persistent listener for event, invoked in registration
// order whenever the worker emits it. The returned token can be passed to
// Off.
func (h *Handle) On(event string, fn func(args any)) uint64 {
	return h.e.events.on(event, fn)
}

// Once registers a listener that is automatically removed after its first
// invocation.
func (h *Handle) Once(event string, fn func(args any)) uint64 {
	return h.e.events.once(event, fn)
}

// Off removes the listener identified by token, regardless of which event
// it was registered against.
func (h *Handle) Off(token uint64) {
	h.e.events.off(token)
}

// RemoveAllListeners removes every listener for event, or every listener
// for every event when event is empty.
func (h *Handle) RemoveAllListeners(event string) {
	h.e.events.removeAll(event)
}

// SerializationMode reports the codec mode negotiated at spawn time.
func (h *Handle) SerializationMode() codec.Mode {
	return h.mode
}

// IsHandleSupported reports whether the worker advertised vsock-style
// out-of-band handle transfer at Ready time.
func (h *Handle) IsHandleSupported() bool {
	return h.ready.SupportsHandles
}

// ExposedMethods lists the method names the worker advertised at Ready
// time.
func (h *Handle) ExposedMethods() []string {
	return h.ready.ExposedMethods
}

// Process returns the worker's OS process handle, for process-backed
// transports. ok is false for transports with no local process (vsock).
func (h *Handle) Process() (*os.Process, bool) {
	pp, ok := h.transport.(processProvider)
	if !ok {
		return nil, false
	}
	return pp.Process(), true
}

// Terminate sends a graceful Shutdown and waits up to the configured
// shutdown timeout for the worker to exit on its own, then escalates to
// SIGTERM/SIGKILL via the kill hook lifecycle.Spawn installed.
func (h *Handle) Terminate(ctx context.Context) error {
	if !h.e.terminated.CompareAndSwap(false, true) {
		return nil // already terminating/terminated
	}
	h.e.graceful.Store(true)

	_ = h.e.writeEnvelope(protocol.Envelope{
		Kind:     protocol.KindShutdown,
		Shutdown: &protocol.Shutdown{Mode: protocol.ShutdownGraceful},
	})

	deadline := time.NewTimer(h.shutdownTimeout)
	defer deadline.Stop()
	select {
	case <-h.transport.Closed():
		return h.transport.Close()
	case <-deadline.C:
		if h.kill != nil {
			h.kill()
		}
		return h.transport.Close()
	case <-ctx.Done():
		if h.kill != nil {
			h.kill()
		}
		return h.transport.Close()
	}
}

// Close terminates the worker, blocking until it has exited. It's an
// alias for Terminate kept for symmetry with CloseAsync.
func (h *Handle) Close(ctx context.Context) error {
	return h.Terminate(ctx)
}

// CloseAsync starts termination and returns immediately; call Wait on the
// returned Future to block for completion.
func (h *Handle) CloseAsync(ctx context.Context) *Future[struct{}] {
	f := newFuture[struct{}]()
	go func() {
		f.settle(struct{}{}, h.Terminate(ctx))
	}()
	return f
}

// Kill terminates the worker immediately, skipping the graceful Shutdown
// handshake. Used when the caller cannot wait out a drain timeout.
func (h *Handle) Kill() error {
	if !h.e.terminated.CompareAndSwap(false, true) {
		return nil
	}
	h.e.graceful.Store(true)
	if h.kill != nil {
		h.kill()
	}
	return h.transport.Close()
}

// Bind synthesizes a struct-of-funcs value of type T whose fields are
// backed by Call: each exported func field is replaced with a
// reflect.MakeFunc shim that calls the worker method of the same name.
// T must be a struct type (not a pointer to one) whose fields are all
// funcs returning (value, error) or a single error.
func Bind[T any](h *Handle) T {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Struct {
		panic("parent.Bind: T must be a struct of func fields")
	}
	out := reflect.New(t).Elem()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() != reflect.Func {
			continue
		}
		method := field.Name
		shim := reflect.MakeFunc(field.Type, func(in []reflect.Value) []reflect.Value {
			args := make([]any, len(in))
			for j, v := range in {
				args[j] = v.Interface()
			}
			value, err := h.Call(context.Background(), method, args...)
			return packBindResult(field.Type, value, err)
		})
		out.Field(i).Set(shim)
	}
	return out.Interface().(T)
}

// packBindResult adapts a Call's (value, error) pair to the declared
// return signature of a Bind-synthesized func field.
func packBindResult(ft reflect.Type, value any, err error) []reflect.Value {
	numOut := ft.NumOut()
	out := make([]reflect.Value, numOut)
	if numOut == 0 {
		return out
	}

	errType := reflect.TypeOf((*error)(nil)).Elem()
	lastIsError := ft.Out(numOut - 1).Implements(errType) || ft.Out(numOut-1) == errType

	valueSlots := numOut
	if lastIsError {
		valueSlots = numOut - 1
	}

	switch valueSlots {
	case 0:
		// no-op: nothing to place a value into
	case 1:
		out[0] = coerce(ft.Out(0), value)
	default:
		values, _ := value.([]any)
		for i := 0; i < valueSlots; i++ {
			var v any
			if i < len(values) {
				v = values[i]
			}
			out[i] = coerce(ft.Out(i), v)
		}
	}

	if lastIsError {
		if err != nil {
			out[numOut-1] = reflect.ValueOf(err)
		} else {
			out[numOut-1] = reflect.Zero(ft.Out(numOut - 1))
		}
	}
	return out
}

func coerce(t reflect.Type, v any) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	rv := reflect.ValueOf(v)
	if rv.Type().ConvertibleTo(t) {
		return rv.Convert(t)
	}
	return reflect.Zero(t)
}
