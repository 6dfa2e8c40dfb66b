package worker

import (
	"reflect"
	"sync"
	"time"

	"github.com/oriys/workerproc/internal/codec"
	"github.com/oriys/workerproc/internal/protocol"
	"github.com/oriys/workerproc/internal/rpcerr"
)

// callbackID extracts a callback placeholder's numeric ID from a decoded
// call argument, if it is one: a codec.CallbackRef in rich mode, or a
// {"__callback": id} map in portable mode.
func callbackID(v any) (uint64, bool) {
	switch t := v.(type) {
	case codec.CallbackRef:
		return t.ID, true
	case map[string]any:
		raw, ok := t["__callback"]
		if !ok {
			return 0, false
		}
		switch n := raw.(type) {
		case float64:
			return uint64(n), true
		case uint64:
			return n, true
		}
	}
	return 0, false
}

type pendingCallback struct {
	resultCh chan callbackResult
}

type callbackResult struct {
	value any
	err   error
}

// callbackClient sends CallbackInvoke frames to the parent for a
// dispatched method's func-typed arguments, and resolves them against
// inbound CallbackResult frames.
type callbackClient struct {
	mu      sync.Mutex
	ids     protocol.IDAllocator
	pending map[uint64]*pendingCallback
	send    func(protocol.Envelope) error
	codec   codec.Codec
	timeout time.Duration
}

func newCallbackClient(send func(protocol.Envelope) error, c codec.Codec, timeout time.Duration) *callbackClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &callbackClient{pending: make(map[uint64]*pendingCallback), send: send, codec: c, timeout: timeout}
}

// stub builds a func value of type ft that, when called, invokes the
// remote callback identified by callbackID and blocks for its result.
func (cc *callbackClient) stub(ft reflect.Type, callbackID uint64) reflect.Value {
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		args := make([]any, len(in))
		for i, v := range in {
			args[i] = v.Interface()
		}
		value, err := cc.invoke(callbackID, args)
		return packCallbackResult(ft, value, err)
	})
}

func (cc *callbackClient) invoke(callbackID uint64, args []any) (any, error) {
	payload, err := cc.codec.Encode(args, "args")
	if err != nil {
		return nil, &rpcerr.SerializationError{Direction: "encode", Argument: "args", Cause: err}
	}

	id := cc.ids.Next()
	p := &pendingCallback{resultCh: make(chan callbackResult, 1)}
	cc.mu.Lock()
	cc.pending[id] = p
	cc.mu.Unlock()

	if err := cc.send(protocol.Envelope{
		Kind:           protocol.KindCallbackInvoke,
		CallbackInvoke: &protocol.CallbackInvoke{ID: id, CallbackID: callbackID, Args: payload},
	}); err != nil {
		cc.mu.Lock()
		delete(cc.pending, id)
		cc.mu.Unlock()
		return nil, err
	}

	select {
	case res := <-p.resultCh:
		return res.value, res.err
	case <-time.After(cc.timeout):
		cc.mu.Lock()
		delete(cc.pending, id)
		cc.mu.Unlock()
		return nil, &rpcerr.TimeoutError{Method: "callback", TimeoutMs: cc.timeout.Milliseconds(), Attempts: 1}
	}
}

// resolve settles the pending callback invocation named by result.ID.
// Called from the engine's single reader goroutine on receipt of a
// CallbackResult.
func (cc *callbackClient) resolve(result *protocol.CallbackResult) {
	cc.mu.Lock()
	p, ok := cc.pending[result.ID]
	if ok {
		delete(cc.pending, result.ID)
	}
	cc.mu.Unlock()
	if !ok {
		return
	}

	if result.OK {
		var value any
		if len(result.Value) > 0 {
			_ = cc.codec.Decode(result.Value, &value)
		}
		p.resultCh <- callbackResult{value: value}
		return
	}
	var msg string
	_ = cc.codec.Decode(result.Error, &msg)
	p.resultCh <- callbackResult{err: &rpcerr.RemoteError{Message: msg}}
}

// packCallbackResult adapts a remote callback's (value, error) pair to
// the declared return signature of the local func type the stub was
// synthesized for.
func packCallbackResult(ft reflect.Type, value any, err error) []reflect.Value {
	numOut := ft.NumOut()
	out := make([]reflect.Value, numOut)
	if numOut == 0 {
		return out
	}

	lastIsError := ft.Out(numOut-1) == errorType || ft.Out(numOut-1).Implements(errorType)
	valueSlots := numOut
	if lastIsError {
		valueSlots = numOut - 1
	}

	switch valueSlots {
	case 0:
	case 1:
		out[0] = coerceValue(ft.Out(0), value)
	default:
		values, _ := value.([]any)
		for i := 0; i < valueSlots; i++ {
			var v any
			if i < len(values) {
				v = values[i]
			}
			out[i] = coerceValue(ft.Out(i), v)
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

func coerceValue(t reflect.Type, v any) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	rv := reflect.ValueOf(v)
	if rv.Type().ConvertibleTo(t) {
		return rv.Convert(t)
	}
	return reflect.Zero(t)
}
