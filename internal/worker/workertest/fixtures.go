// Package workertest provides example worker target types exercised by
// internal/lifecycle's integration tests and by cmd/workerproc's demo
// subcommands. These are fixtures, not library code: a real worker binary
// registers its own domain types the same way Registry() does here.
package workertest

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/workerproc/internal/codec"
	"github.com/oriys/workerproc/internal/worker"
)

// Calculator is the minimal stateful target: exported fields mirror as
// properties, Add/Subtract mutate and return Total.
type Calculator struct {
	Total int
}

func newCalculator(args []byte, _ codec.Codec) (any, error) {
	var a struct {
		Start int `json:"start"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("workertest: decode calculator args: %w", err)
		}
	}
	return &Calculator{Total: a.Start}, nil
}

func (c *Calculator) Add(n int) int {
	c.Total += n
	return c.Total
}

func (c *Calculator) Subtract(n int) int {
	c.Total -= n
	return c.Total
}

// Counter is a property-only target with no methods beyond Increment, used
// to exercise PropertyUpdate diffing in isolation from return values.
type Counter struct {
	Value int
	Label string `rpc:"-"` // never mirrored, for diffProperties exclusion coverage
}

func newCounter(args []byte, _ codec.Codec) (any, error) {
	return &Counter{Label: "internal"}, nil
}

func (c *Counter) Increment() int {
	c.Value++
	return c.Value
}

// EventEmitterTarget implements worker.Emitter: Fire pushes an event
// through whatever func Subscribe was given.
type EventEmitterTarget struct {
	emit func(event string, args any)
}

func newEventEmitterTarget(args []byte, _ codec.Codec) (any, error) {
	return &EventEmitterTarget{}, nil
}

func (e *EventEmitterTarget) Subscribe(emit func(event string, args any)) {
	e.emit = emit
}

func (e *EventEmitterTarget) Fire(name string, payload any) {
	if e.emit != nil {
		e.emit(name, payload)
	}
}

// BufferEchoer exercises a callback argument: Apply invokes the caller's
// function on each value in turn and collects the results.
type BufferEchoer struct {
	mu  sync.Mutex
	log []int
}

func newBufferEchoer(args []byte, _ codec.Codec) (any, error) {
	return &BufferEchoer{}, nil
}

// Apply takes values as []int64 (rather than []int) so the rich codec's
// typed-slice path carries it without falling back to a generic []any
// decode, which a plain []int parameter can't absorb via reflect.Convert.
func (b *BufferEchoer) Apply(values []int64, fn func(int64) int64) []int64 {
	out := make([]int64, len(values))
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, v := range values {
		out[i] = fn(v)
		b.log = append(b.log, int(out[i]))
	}
	return out
}

func (b *BufferEchoer) History() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, len(b.log))
	copy(out, b.log)
	return out
}

// ProcessBuffer complements every byte with 0xff, the rich-codec fidelity
// fixture: callers compare the returned buffer byte-for-byte against the
// bitwise complement of what they sent.
func (b *BufferEchoer) ProcessBuffer(buf []byte) []byte {
	out := make([]byte, len(buf))
	for i, v := range buf {
		out[i] = v ^ 0xff
	}
	return out
}

// ValidationError mirrors spec.md S8's "ValidationError extends Error"
// fixture: it carries its own Field/Constraints properties and wraps a
// cause, so the rich codec's TagError path preserves all three and the
// portable codec flattens it to name/message/stack.
type ValidationError struct {
	Field       string
	Constraints []string
	cause       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workertest: validation failed for %q", e.Field)
}

func (e *ValidationError) Unwrap() error { return e.cause }

// Faulty always returns an error, for exercising RemoteError/TagError
// propagation and UnknownMethodError (by calling a name Faulty doesn't
// expose).
type Faulty struct{}

func newFaulty(args []byte, _ codec.Codec) (any, error) {
	return &Faulty{}, nil
}

func (f *Faulty) Fail(reason string) (int, error) {
	return 0, fmt.Errorf("workertest: deliberate failure: %s", reason)
}

// Validate always rejects with a ValidationError wrapping a plain cause,
// exercising prototype/field/cause-chain preservation in rich mode.
func (f *Faulty) Validate(field string) (int, error) {
	return 0, &ValidationError{
		Field:       field,
		Constraints: []string{"required", "nonempty"},
		cause:       fmt.Errorf("workertest: %s was empty", field),
	}
}

// Slow sleeps for ms milliseconds before returning, for exercising
// per-attempt timeouts and retry budgets.
func (f *Faulty) Slow(ms int) int {
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return ms
}

// Panic crashes the worker process outright, for exercising
// WorkerCrashedError on the parent side.
func (f *Faulty) Panic() int {
	panic("workertest: deliberate panic")
}

// Registry builds the Registry shared by the integration test harness and
// cmd/workerproc's demo subcommands.
func Registry() *worker.Registry {
	r := worker.NewRegistry()
	r.Register("Calculator", newCalculator)
	r.Register("Counter", newCounter)
	r.Register("EventEmitterTarget", newEventEmitterTarget)
	r.Register("BufferEchoer", newBufferEchoer)
	r.Register("Faulty", newFaulty)
	return r
}
