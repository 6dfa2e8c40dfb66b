// Package protocol defines the typed message envelopes exchanged between
// the parent process and a worker, and the ID allocators used to
// correlate Requests with Responses and CallbackInvokes with
// CallbackResults.
package protocol

// Kind selects which envelope variant a frame's decoded payload holds.
type Kind string

const (
	KindReady          Kind = "ready"
	KindRequest        Kind = "request"
	KindResponse       Kind = "response"
	KindPropertyUpdate Kind = "property_update"
	KindEvent          Kind = "event"
	KindCallbackInvoke Kind = "callback_invoke"
	KindCallbackResult Kind = "callback_result"
	KindShutdown       Kind = "shutdown"
)

// Envelope is the common frame shell: Kind selects which of the pointer
// fields below is populated. Exactly one is non-nil per frame.
type Envelope struct {
	Kind Kind `json:"kind"`

	Ready          *Ready          `json:"ready,omitempty"`
	Request        *Request        `json:"request,omitempty"`
	Response       *Response       `json:"response,omitempty"`
	PropertyUpdate *PropertyUpdate `json:"property_update,omitempty"`
	Event          *Event          `json:"event,omitempty"`
	CallbackInvoke *CallbackInvoke `json:"callback_invoke,omitempty"`
	CallbackResult *CallbackResult `json:"callback_result,omitempty"`
	Shutdown       *Shutdown       `json:"shutdown,omitempty"`
}

// Ready is sent worker to parent exactly once, after the instance is
// constructed and its initial property snapshot has been queued.
type Ready struct {
	SerializationMode string   `json:"serializationMode"`
	SupportsHandles   bool     `json:"supportsHandles"`
	SupportsEvents    bool     `json:"supportsEvents"`
	ExposedMethods    []string `json:"exposedMethods,omitempty"`
}

// Request is sent parent to worker. Args is an already-rewritten argument
// tree: function-typed elements have been replaced with callback
// placeholders before encoding.
type Request struct {
	ID          uint64 `json:"id"`
	Method      string `json:"method"`
	Args        []byte `json:"args"`
	TraceParent string `json:"traceParent,omitempty"`
	TraceState  string `json:"traceState,omitempty"`
}

// Response is sent worker to parent, exactly one per Request. Exactly one
// of Value/Error is populated, selected by OK.
type Response struct {
	ID          uint64 `json:"id"`
	OK          bool   `json:"ok"`
	Value       []byte `json:"value,omitempty"`
	Error       []byte `json:"error,omitempty"`
	TraceParent string `json:"traceParent,omitempty"`
	TraceState  string `json:"traceState,omitempty"`
}

// PropertyUpdate is sent worker to parent whenever an exposed property's
// value changes. Names beginning with "$" are never sent.
type PropertyUpdate struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// Event is sent worker to parent when the instance (if it implements
// worker.Emitter) emits a non-"$"-prefixed event whose arguments
// serialize successfully.
type Event struct {
	Name string `json:"event"`
	Args []byte `json:"args"`
}

// CallbackInvoke is sent worker to parent when the worker needs to invoke
// a function the parent passed as a call argument.
type CallbackInvoke struct {
	ID         uint64 `json:"id"`
	CallbackID uint64 `json:"callbackId"`
	Args       []byte `json:"args"`
}

// CallbackResult is sent parent to worker, exactly one per CallbackInvoke.
type CallbackResult struct {
	ID    uint64 `json:"id"`
	OK    bool   `json:"ok"`
	Value []byte `json:"value,omitempty"`
	Error []byte `json:"error,omitempty"`
}

// ShutdownMode selects how a worker should wind down.
type ShutdownMode string

const (
	ShutdownGraceful  ShutdownMode = "graceful"
	ShutdownImmediate ShutdownMode = "immediate"
)

// Shutdown is sent parent to worker to begin termination.
type Shutdown struct {
	Mode ShutdownMode `json:"mode"`
}
