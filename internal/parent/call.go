package parent

import (
	"context"
	"time"

	"github.com/oriys/workerproc/internal/codec"
	"github.com/oriys/workerproc/internal/logging"
	"github.com/oriys/workerproc/internal/protocol"
	"github.com/oriys/workerproc/internal/rpcerr"
	"github.com/oriys/workerproc/internal/tracing"
)

// call runs the full Request pipeline: argument rewriting, encoding,
// registration, retry-on-timeout, and settlement. It blocks until the
// Response arrives, the retry budget is exhausted, or the worker exits.
func (e *engine) call(ctx context.Context, method string, args []any) (any, error) {
	if e.terminated.Load() {
		return nil, &rpcerr.ProtocolError{Reason: "handle already terminated"}
	}

	ctx, span := tracing.StartCall(ctx, method)
	defer span.End()
	traceParent, traceState := tracing.Extract(ctx)

	if e.metrics != nil {
		e.metrics.CallStarted()
	}
	started := time.Now()

	id := e.requestIDs.Next()
	rewritten := e.callbacks.rewriteArgs(args, id, e.codec.Mode())
	payload, err := e.codec.Encode(rewritten, "args")
	if err != nil {
		if e.metrics != nil {
			e.metrics.CallSettled(method, "encode_error", time.Since(started).Seconds())
		}
		return nil, &rpcerr.SerializationError{Direction: "encode", Argument: "args", Cause: err}
	}

	c := &pendingCall{
		id:           id,
		method:       method,
		argsPayload:  payload,
		attemptsLeft: e.retries + 1,
		timeout:      e.timeout,
		traceParent:  traceParent,
		traceState:   traceState,
		resultCh:     make(chan callResult, 1),
	}
	e.pending.insert(c)

	value, callErr := e.attemptLoop(ctx, c)

	outcome := "ok"
	if callErr != nil {
		outcome = "error"
	}
	if e.metrics != nil {
		e.metrics.CallSettled(method, outcome, time.Since(started).Seconds())
	}
	if e.callLog != nil {
		e.callLog.Log(&logging.CallLog{
			Timestamp:     started,
			InstanceID:    e.instanceID,
			CorrelationID: id,
			TraceID:       traceParent,
			Method:        method,
			DurationMs:    time.Since(started).Milliseconds(),
			Success:       callErr == nil,
			Error:         errString(callErr),
			Attempts:      c.attempts,
			Retries:       c.attempts - 1,
		})
	}
	return value, callErr
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// attemptLoop sends c, then retries on timeout until attemptsLeft is
// exhausted, giving c a fresh correlation ID on every retry. Callbacks
// registered under the call's first correlation ID stay registered across
// retries and are reclaimed once the call settles.
func (e *engine) attemptLoop(ctx context.Context, c *pendingCall) (any, error) {
	owner := c.id
	for {
		c.attempts++
		c.attemptsLeft--
		if err := e.send(c); err != nil {
			e.pending.settle(c.id)
			return nil, err
		}

		c.timer = time.AfterFunc(c.timeout, func() {
			if settled := e.pending.settle(c.id); settled != nil {
				settled.resultCh <- timeoutResult(settled)
			}
		})

		select {
		case <-ctx.Done():
			e.pending.settle(c.id)
			c.timer.Stop()
			e.callbacks.reclaim(owner)
			return nil, ctx.Err()
		case res := <-c.resultCh:
			if res.err != nil {
				if _, timedOut := res.err.(*rpcerr.TimeoutError); timedOut && c.attemptsLeft > 0 {
					if e.metrics != nil {
						e.metrics.RetryAttempted(c.method)
					}
					// The timer already settled the old ID out of the
					// registry, so c is re-inserted under the new one.
					c.id = e.requestIDs.Next()
					e.pending.insert(c)
					continue
				}
				if _, timedOut := res.err.(*rpcerr.TimeoutError); timedOut && e.metrics != nil {
					e.metrics.TimedOut(c.method)
				}
				e.callbacks.reclaim(owner)
				return nil, res.err
			}
			e.callbacks.reclaim(owner)
			var value any
			if len(res.value) > 0 {
				if err := e.codec.Decode(res.value, &value); err != nil {
					return nil, &rpcerr.SerializationError{Direction: "decode", Argument: "value", Cause: err}
				}
			}
			return value, nil
		}
	}
}

func (e *engine) send(c *pendingCall) error {
	return e.writeEnvelope(protocol.Envelope{
		Kind: protocol.KindRequest,
		Request: &protocol.Request{
			ID:          c.id,
			Method:      c.method,
			Args:        c.argsPayload,
			TraceParent: c.traceParent,
			TraceState:  c.traceState,
		},
	})
}

// handleResponse settles the pending call named by resp.ID, decoding its
// error (if any) into a *rpcerr.RemoteError (or a SerializationError when
// the error payload does not decode) and otherwise leaving Value decoding
// to attemptLoop.
func (e *engine) handleResponse(resp *protocol.Response) {
	if resp == nil {
		return
	}
	c := e.pending.settle(resp.ID)
	if c == nil {
		return // late duplicate, or a retry already rekeyed this ID away
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	if resp.OK {
		c.resultCh <- callResult{value: resp.Value}
		return
	}

	var decoded any
	if len(resp.Error) > 0 {
		if err := e.codec.Decode(resp.Error, &decoded); err != nil {
			c.resultCh <- callResult{err: &rpcerr.SerializationError{Direction: "decode", Argument: "error", Cause: err}}
			return
		}
	}
	c.resultCh <- callResult{err: remoteErrorFrom(decoded)}
}

// remoteErrorFrom turns a decoded error payload (a *codec.RichError in rich
// mode, a plain map/string in portable mode) into an error value the
// caller can inspect with errors.As.
func remoteErrorFrom(decoded any) error {
	switch v := decoded.(type) {
	case nil:
		return &rpcerr.RemoteError{Message: "unknown remote error"}
	case *codec.RichError:
		return &rpcerr.RemoteError{Name: v.Name, Message: v.Message, Stack: v.Stack}
	case map[string]any:
		name, _ := v["name"].(string)
		message, _ := v["message"].(string)
		stack, _ := v["stack"].(string)
		if message == "" {
			message = "remote call failed"
		}
		return &rpcerr.RemoteError{Name: name, Message: message, Stack: stack}
	case string:
		return &rpcerr.RemoteError{Message: v}
	default:
		return &rpcerr.RemoteError{Message: "remote call failed"}
	}
}
