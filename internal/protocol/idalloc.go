package protocol

import "sync/atomic"

// IDAllocator is a monotonic, direction-scoped correlation ID source.
// The parent owns one instance for Request IDs; each worker owns a
// separate instance for CallbackInvoke IDs. The two spaces never collide
// because they're never compared across directions.
type IDAllocator struct {
	next atomic.Uint64
}

// Next returns the next ID in the sequence, starting at 1 (0 is reserved
// to mean "no correlation ID" in envelopes that don't carry one).
func (a *IDAllocator) Next() uint64 {
	return a.next.Add(1)
}
