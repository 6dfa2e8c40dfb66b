package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/workerproc/internal/codec"
	"github.com/oriys/workerproc/internal/logging"
	"github.com/oriys/workerproc/internal/metrics"
	"github.com/oriys/workerproc/internal/protocol"
	"github.com/oriys/workerproc/internal/rpcerr"
	"github.com/oriys/workerproc/internal/tracing"
	"github.com/oriys/workerproc/internal/transport"
)

// Options configures Serve.
type Options struct {
	Registry        *Registry
	ShutdownTimeout time.Duration
	CallbackTimeout time.Duration
	SupportsHandles bool
	Metrics         *metrics.Metrics
}

// Serve runs the worker side of the protocol to completion. It blocks
// until the transport closes or a Shutdown drains every in-flight
// Request, whichever comes first.
func Serve(t transport.Transport, opts Options) error {
	handshake, err := readHandshake(t)
	if err != nil {
		return err
	}

	c := codec.For(handshake.Serialization)
	ctor, err := opts.Registry.lookup(handshake.ClassName)
	if err != nil {
		return &rpcerr.InitializationError{Reason: "unregistered class", Cause: err}
	}
	instance, err := ctor(handshake.ConstructorArgs, c)
	if err != nil {
		return &rpcerr.InitializationError{Reason: "constructor failed", Cause: err}
	}

	e := &engine{
		transport: t,
		codec:     c,
		instance:  instance,
		metrics:   opts.Metrics,
	}
	e.callbacks = newCallbackClient(e.writeEnvelope, c, opts.CallbackTimeout)
	e.lastSnapshot = propertySnapshot(instance)

	if emitter, ok := instance.(Emitter); ok {
		emitter.Subscribe(func(event string, args any) {
			e.emitEvent(event, args)
		})
	}

	for name, value := range e.lastSnapshot {
		_ = e.sendPropertyUpdate(name, value)
	}

	ready := protocol.Ready{
		SerializationMode: handshake.Serialization.String(),
		SupportsHandles:   opts.SupportsHandles,
		SupportsEvents:    isEmitter(instance),
		ExposedMethods:    exposedMethods(instance),
	}
	if err := e.writeEnvelope(protocol.Envelope{Kind: protocol.KindReady, Ready: &ready}); err != nil {
		return err
	}

	return e.serve(opts.ShutdownTimeout)
}

func isEmitter(instance any) bool {
	_, ok := instance.(Emitter)
	return ok
}

func readHandshake(t transport.Transport) (*protocol.Handshake, error) {
	frame, ok := <-t.Frames()
	if !ok {
		return nil, &rpcerr.ProtocolError{Reason: "transport closed before handshake"}
	}
	var h protocol.Handshake
	if err := json.Unmarshal(frame, &h); err != nil {
		return nil, &rpcerr.ProtocolError{Reason: "malformed handshake", Cause: err}
	}
	return &h, nil
}

// engine is the worker-side cooperative core: one instance, one
// transport, one serialized write path. Each Request dispatches on its
// own goroutine so a blocking method body doesn't stall concurrent
// in-flight calls; only the write path is serialized.
type engine struct {
	transport transport.Transport
	codec     codec.Codec
	instance  any
	callbacks *callbackClient
	metrics   *metrics.Metrics

	writeMu sync.Mutex

	snapshotMu   sync.Mutex
	lastSnapshot map[string]any

	draining sync.Map // set to true once a graceful Shutdown is seen
	wg       sync.WaitGroup
}

func (e *engine) serve(shutdownTimeout time.Duration) error {
	for frame := range e.transport.Frames() {
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			logging.Op().Error("rpc: malformed frame from parent", "error", err)
			continue
		}

		switch env.Kind {
		case protocol.KindRequest:
			if e.isDraining() {
				e.rejectDraining(env.Request)
				continue
			}
			e.wg.Add(1)
			go func(req *protocol.Request) {
				defer e.wg.Done()
				e.handleRequest(req)
			}(env.Request)
		case protocol.KindCallbackResult:
			e.callbacks.resolve(env.CallbackResult)
		case protocol.KindShutdown:
			if env.Shutdown != nil && env.Shutdown.Mode == protocol.ShutdownImmediate {
				return nil
			}
			e.draining.Store("draining", true)
			return e.drain(shutdownTimeout)
		default:
			logging.Op().Warn("rpc: unexpected envelope kind from parent", "kind", env.Kind)
		}
	}
	return nil
}

func (e *engine) isDraining() bool {
	_, draining := e.draining.Load("draining")
	return draining
}

func (e *engine) drain(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logging.Op().Warn("rpc: shutdown timeout elapsed with calls still in flight")
	}
	return nil
}

func (e *engine) rejectDraining(req *protocol.Request) {
	if req == nil {
		return
	}
	errPayload, _ := e.codec.Encode(e.errorPayload(&rpcerr.ProtocolError{Reason: "worker is draining"}), "error")
	_ = e.writeEnvelope(protocol.Envelope{
		Kind:     protocol.KindResponse,
		Response: &protocol.Response{ID: req.ID, OK: false, Error: errPayload},
	})
}

// errorPayload returns the value to hand the codec for an error response:
// the error itself in rich mode, so encodeError's TagError path carries its
// full type name, exported fields, and cause chain; a flattened
// {name, message, stack} map in portable mode, matching what
// parent/call.go's remoteErrorFrom expects to decode.
func (e *engine) errorPayload(err error) any {
	if e.codec.Mode() == codec.ModeRich {
		return err
	}
	return map[string]any{
		"name":    fmt.Sprintf("%T", err),
		"message": err.Error(),
		"stack":   "",
	}
}

func (e *engine) handleRequest(req *protocol.Request) {
	if req == nil {
		return
	}
	ctx, span := tracing.StartDispatch(tracing.Inject(context.Background(), req.TraceParent, req.TraceState), req.Method)
	defer span.End()
	log := logging.OpWithTrace(tracing.TraceIDs(ctx))

	e.metrics.CallStarted()
	started := time.Now()
	outcome := "ok"
	defer func() { e.metrics.CallSettled(req.Method, outcome, time.Since(started).Seconds()) }()

	var decodedArgs []any
	if len(req.Args) > 0 {
		if err := e.codec.Decode(req.Args, &decodedArgs); err != nil {
			outcome = "error"
			log.Warn("rpc: failed to decode call arguments", "method", req.Method, "error", err)
			e.respondError(req.ID, &rpcerr.SerializationError{Direction: "decode", Argument: "args", Cause: err})
			return
		}
	}

	value, err := dispatch(e.instance, req.Method, decodedArgs, e.callbacks)

	e.emitPropertyDiff()

	if err != nil {
		outcome = "error"
		log.Debug("rpc: method returned an error", "method", req.Method, "error", err)
		e.respondError(req.ID, err)
		return
	}
	e.respondValue(req.ID, value)
}

func (e *engine) emitPropertyDiff() {
	e.snapshotMu.Lock()
	next := propertySnapshot(e.instance)
	changed := diffProperties(e.lastSnapshot, next)
	e.lastSnapshot = next
	e.snapshotMu.Unlock()

	for name, value := range changed {
		_ = e.sendPropertyUpdate(name, value)
	}
}

func (e *engine) sendPropertyUpdate(name string, value any) error {
	if len(name) > 0 && name[0] == '$' {
		return nil
	}
	payload, err := e.codec.Encode(value, name)
	if err != nil {
		logging.Op().Warn("rpc: dropping unencodable property", "name", name, "error", err)
		return nil
	}
	return e.writeEnvelope(protocol.Envelope{
		Kind:           protocol.KindPropertyUpdate,
		PropertyUpdate: &protocol.PropertyUpdate{Name: name, Value: payload},
	})
}

func (e *engine) emitEvent(event string, args any) {
	if len(event) > 0 && event[0] == '$' {
		return
	}
	payload, err := e.codec.Encode(args, "args")
	if err != nil {
		logging.Op().Warn("rpc: dropping unencodable event", "event", event, "error", err)
		return
	}
	if err := e.writeEnvelope(protocol.Envelope{
		Kind:  protocol.KindEvent,
		Event: &protocol.Event{Name: event, Args: payload},
	}); err != nil {
		logging.Op().Warn("rpc: failed to send event", "event", event, "error", err)
	}
}

func (e *engine) respondValue(id uint64, value any) {
	payload, err := e.codec.Encode(value, "value")
	if err != nil {
		e.respondError(id, &rpcerr.SerializationError{Direction: "encode", Argument: "value", Cause: err})
		return
	}
	_ = e.writeEnvelope(protocol.Envelope{
		Kind:     protocol.KindResponse,
		Response: &protocol.Response{ID: id, OK: true, Value: payload},
	})
}

// respondError encodes err itself, not err.Error() — see errorPayload.
func (e *engine) respondError(id uint64, err error) {
	payload, encodeErr := e.codec.Encode(e.errorPayload(err), "error")
	if encodeErr != nil {
		logging.Op().Error("rpc: failed to encode error response", "error", encodeErr)
		return
	}
	_ = e.writeEnvelope(protocol.Envelope{
		Kind:     protocol.KindResponse,
		Response: &protocol.Response{ID: id, OK: false, Error: payload},
	})
}

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
