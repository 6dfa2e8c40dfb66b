package parent

import (
	"sync"
	"time"

	"github.com/oriys/workerproc/internal/rpcerr"
)

// pendingCall is a parent-side record of an outstanding Request awaiting
// settlement. Exactly one of its terminal paths fires: Response receipt,
// timeout, or a worker-exit sweep.
type pendingCall struct {
	id           uint64
	method       string
	argsPayload  []byte
	attemptsLeft int
	attempts     int
	timeout      time.Duration
	timer        *time.Timer
	traceParent  string
	traceState   string
	resultCh     chan callResult
	settled      bool
}

type callResult struct {
	value []byte
	err   error
}

// pendingRegistry is the parent-side mapping from correlation ID to
// pendingCall. Every ID in flight is unique and monotonic; an entry is
// removed exactly once.
type pendingRegistry struct {
	mu      sync.Mutex
	entries map[uint64]*pendingCall
}

func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{entries: make(map[uint64]*pendingCall)}
}

func (r *pendingRegistry) insert(c *pendingCall) {
	r.mu.Lock()
	r.entries[c.id] = c
	r.mu.Unlock()
}

// rekey atomically removes the entry for oldID and re-inserts it under
// newID, keeping the same pending slot/channel. It returns nil and changes
// nothing when oldID is not registered.
func (r *pendingRegistry) rekey(oldID, newID uint64) *pendingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[oldID]
	if !ok {
		return nil
	}
	delete(r.entries, oldID)
	c.id = newID
	r.entries[newID] = c
	return c
}

// settle removes and returns the entry for id, or nil if it was already
// settled/unknown (a late duplicate Response is silently dropped).
func (r *pendingRegistry) settle(id uint64) *pendingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[id]
	if !ok {
		return nil
	}
	delete(r.entries, id)
	return c
}

// sweep removes every entry and returns them, for crash/termination
// handling.
func (r *pendingRegistry) sweep() []*pendingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*pendingCall, 0, len(r.entries))
	for _, c := range r.entries {
		out = append(out, c)
	}
	r.entries = make(map[uint64]*pendingCall)
	return out
}

func (r *pendingRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func settleOnce(c *pendingCall, res callResult) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.resultCh <- res
}

func timeoutResult(c *pendingCall) callResult {
	return callResult{err: &rpcerr.TimeoutError{Method: c.method, TimeoutMs: c.timeout.Milliseconds(), Attempts: c.attempts}}
}

func crashResult(exitCode int, signal string) callResult {
	return callResult{err: &rpcerr.WorkerCrashedError{ExitCode: exitCode, Signal: signal}}
}
