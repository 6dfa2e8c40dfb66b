// Package transport implements the duplex byte stream a worker is reached
// over. One reader goroutine per transport pumps framed payloads into a
// channel until EOF or error; a process-backed transport records the
// process's exit status once, from a separate wait goroutine. Writes are
// synchronous and serialized by the caller (the
// parent/worker engines already run one write at a time).
package transport

// Transport is the duplex byte stream between parent and worker. Frame
// bytes already include the length prefix (see internal/codec.WriteFrame);
// a Transport implementation is free to choose how that prefix travels
// (pipe.go writes it inline on the same stream, vsock.go does the same
// over AF_VSOCK).
type Transport interface {
	// Write sends one already-framed payload. Safe to call concurrently
	// with Frames()/Closed(), but callers must serialize their own Write
	// calls (no internal write mutex here — the engines own call
	// serialization).
	Write(frame []byte) error
	// Frames yields decoded frame payloads (length prefix stripped) in
	// arrival order. The channel closes when the transport closes.
	Frames() <-chan []byte
	// Ready fires once the transport is connected and able to write/read.
	Ready() <-chan struct{}
	// Closed fires exactly once, when the reader goroutine observes EOF
	// or a fatal read error.
	Closed() <-chan struct{}
	// Exit reports the worker process's observed exit status. ok is false
	// until the process has actually exited.
	Exit() (code int, signal string, ok bool)
	// Close tears down the transport and, for process-backed transports,
	// releases the process handle. Idempotent.
	Close() error
}
