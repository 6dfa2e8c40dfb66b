// Package rpcerr defines the classified error taxonomy surfaced to callers
// of the worker-process RPC engine. Every kind below wraps enough context
// for a caller to branch on with errors.As, without string-matching error
// messages.
package rpcerr

import "fmt"

// TimeoutError is returned when a call's per-attempt deadline expired and
// its retry budget was exhausted.
type TimeoutError struct {
	Method    string
	TimeoutMs int64
	Attempts  int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc: method %q timed out after %d attempt(s), %dms budget per attempt", e.Method, e.Attempts, e.TimeoutMs)
}

// WorkerCrashedError is returned when the transport closed before a pending
// call's Response arrived.
type WorkerCrashedError struct {
	ExitCode int
	Signal   string
}

func (e *WorkerCrashedError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("rpc: worker crashed (signal %s)", e.Signal)
	}
	return fmt.Sprintf("rpc: worker crashed (exit code %d)", e.ExitCode)
}

// InitializationError is returned when the worker did not reach Ready
// within the configured initialization budget.
type InitializationError struct {
	Reason string
	Cause  error
}

func (e *InitializationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rpc: worker initialization failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("rpc: worker initialization failed: %s", e.Reason)
}

func (e *InitializationError) Unwrap() error { return e.Cause }

// SerializationError is returned when the codec refuses to encode or
// decode a value.
type SerializationError struct {
	Direction string // "encode" or "decode"
	Argument  string // which argument / field, empty if not applicable
	Kind      string // the offending Go kind/type name
	Cause     error
}

func (e *SerializationError) Error() string {
	if e.Argument != "" {
		return fmt.Sprintf("rpc: %s failed for %s (kind %s): %v", e.Direction, e.Argument, e.Kind, e.Cause)
	}
	return fmt.Sprintf("rpc: %s failed (kind %s): %v", e.Direction, e.Kind, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// UnknownMethodError is returned when a Request names a method that does
// not exist (or is not exposed) on the worker's instance.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("rpc: unknown method %q", e.Method)
}

// ProtocolError is returned for malformed frames and handshakes, unknown
// callback IDs, and calls on a terminated handle. The engines do not close
// the transport because of one: an envelope that fails to parse, or has an
// unrecognized kind, is logged and skipped, and an unknown callback ID is
// answered with an error CallbackResult. Only a read error on the frame
// stream itself ends the transport's reader, after which the parent
// rejects its pending calls as a worker crash.
type ProtocolError struct {
	Reason string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rpc: protocol violation: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("rpc: protocol violation: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// RemoteError reconstructs a user method's returned error on the parent
// side, in both codec modes. It carries only name, message and stack: in
// rich mode the error's own fields and cause chain are decoded but are not
// carried onto the RemoteError.
type RemoteError struct {
	Name    string
	Message string
	Stack   string
}

func (e *RemoteError) Error() string { return e.Message }
