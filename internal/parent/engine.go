// Package parent implements the caller-side half of the RPC engine: the
// proxy façade (Handle), the pending-call registry, the property mirror,
// event fan-out, and the reverse-direction callback registry.
package parent

import (
	"bytes"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/workerproc/internal/codec"
	"github.com/oriys/workerproc/internal/logging"
	"github.com/oriys/workerproc/internal/metrics"
	"github.com/oriys/workerproc/internal/protocol"
	"github.com/oriys/workerproc/internal/rpcerr"
	"github.com/oriys/workerproc/internal/transport"
)

// Config carries the call-pipeline policy an engine enforces: per-attempt
// timeout, retry budget, and the codec mode negotiated at spawn time.
type Config struct {
	Codec           codec.Codec
	Timeout         time.Duration
	Retries         int
	CallbackTimeout time.Duration
	Metrics         *metrics.Metrics
	CallLog         *logging.CallLogger
	// InstanceID identifies this worker instance in call logs, useful
	// for telling concurrently-spawned instances of the same class
	// apart. Set by lifecycle.Spawn; optional for direct engine use.
	InstanceID string
}

// engine is the cooperative core behind Handle: every reaction to an
// inbound frame, every pending-call settlement, and every user callback
// invocation runs on its single reader goroutine.
type engine struct {
	transport  transport.Transport
	codec      codec.Codec
	requestIDs protocol.IDAllocator

	pending   *pendingRegistry
	callbacks *callbackRegistry
	mirror    *mirror
	events    *eventHub

	metrics    *metrics.Metrics
	callLog    *logging.CallLogger
	instanceID string

	timeout         time.Duration
	retries         int
	callbackTimeout time.Duration

	ready      protocol.Ready
	terminated atomic.Bool
	graceful   atomic.Bool

	writeMu sync.Mutex
}

func newEngine(t transport.Transport, cfg Config, ready protocol.Ready) *engine {
	callbackTimeout := cfg.CallbackTimeout
	if callbackTimeout == 0 {
		callbackTimeout = cfg.Timeout
	}
	e := &engine{
		transport:       t,
		codec:           cfg.Codec,
		pending:         newPendingRegistry(),
		callbacks:       newCallbackRegistry(),
		mirror:          newMirror(),
		events:          newEventHub(),
		metrics:         cfg.Metrics,
		callLog:         cfg.CallLog,
		instanceID:      cfg.InstanceID,
		timeout:         cfg.Timeout,
		retries:         cfg.Retries,
		callbackTimeout: callbackTimeout,
		ready:           ready,
	}
	go e.readLoop()
	return e
}

func (e *engine) readLoop() {
	for frame := range e.transport.Frames() {
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			logging.Op().Error("rpc: malformed frame from worker", "error", err)
			continue
		}
		e.dispatch(&env)
	}
	e.sweepOnCrash()
}

func (e *engine) dispatch(env *protocol.Envelope) {
	switch env.Kind {
	case protocol.KindResponse:
		e.handleResponse(env.Response)
	case protocol.KindPropertyUpdate:
		e.handlePropertyUpdate(env.PropertyUpdate)
	case protocol.KindEvent:
		e.handleEvent(env.Event)
	case protocol.KindCallbackInvoke:
		e.handleCallbackInvoke(env.CallbackInvoke)
	default:
		logging.Op().Warn("rpc: unexpected envelope kind from worker", "kind", env.Kind)
	}
}

func (e *engine) handlePropertyUpdate(u *protocol.PropertyUpdate) {
	if u == nil {
		return
	}
	var value any
	if err := e.codec.Decode(u.Value, &value); err != nil {
		logging.Op().Warn("rpc: dropping undecodable property update", "name", u.Name, "error", err)
		return
	}
	e.mirror.apply(u.Name, value)
}

func (e *engine) handleEvent(ev *protocol.Event) {
	if ev == nil {
		return
	}
	var args any
	if err := e.codec.Decode(ev.Args, &args); err != nil {
		logging.Op().Warn("rpc: dropping undecodable event", "event", ev.Name, "error", err)
		return
	}
	e.events.emit(ev.Name, args)
}

func (e *engine) handleCallbackInvoke(inv *protocol.CallbackInvoke) {
	if inv == nil {
		return
	}
	result := protocol.CallbackResult{ID: inv.ID}
	fn, ok := e.callbacks.lookup(inv.CallbackID)
	if !ok {
		result.OK = false
		errPayload, _ := e.codec.Encode(&rpcerr.ProtocolError{Reason: "unknown callback id"}, "callback")
		result.Error = errPayload
		e.sendCallbackResult(&result)
		return
	}

	var decodedArgs []any
	if err := e.codec.Decode(inv.Args, &decodedArgs); err != nil {
		result.OK = false
		errPayload, _ := e.codec.Encode(err.Error(), "callback")
		result.Error = errPayload
		e.sendCallbackResult(&result)
		return
	}

	value, callErr := invokeCallback(fn, decodedArgs)
	if callErr != nil {
		result.OK = false
		errPayload, _ := e.codec.Encode(callErr.Error(), "callback")
		result.Error = errPayload
	} else {
		result.OK = true
		valuePayload, err := e.codec.Encode(value, "callback")
		if err != nil {
			result.OK = false
			errPayload, _ := e.codec.Encode(err.Error(), "callback")
			result.Error = errPayload
		} else {
			result.Value = valuePayload
		}
	}
	e.sendCallbackResult(&result)
}

func (e *engine) sendCallbackResult(result *protocol.CallbackResult) {
	if err := e.writeEnvelope(protocol.Envelope{Kind: protocol.KindCallbackResult, CallbackResult: result}); err != nil {
		logging.Op().Warn("rpc: failed to send callback result", "id", result.ID, "error", err)
	}
}

// writeEnvelope JSON-marshals env for the wire shell and hands the framed
// result to the transport.
func (e *engine) writeEnvelope(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return &rpcerr.ProtocolError{Reason: "encode envelope", Cause: err}
	}
	var buf bytes.Buffer
	if err := codec.WriteFrame(&buf, data); err != nil {
		return err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.transport.Write(buf.Bytes())
}

func (e *engine) sweepOnCrash() {
	if e.graceful.Load() {
		return
	}
	code, signal, _ := e.transport.Exit()
	if e.metrics != nil {
		e.metrics.WorkerCrashed()
	}
	res := crashResult(code, signal)
	for _, c := range e.pending.sweep() {
		e.callbacks.reclaim(c.id)
		settleOnce(c, res)
	}
}
