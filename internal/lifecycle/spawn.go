package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oriys/workerproc/internal/codec"
	"github.com/oriys/workerproc/internal/logging"
	"github.com/oriys/workerproc/internal/parent"
	"github.com/oriys/workerproc/internal/protocol"
	"github.com/oriys/workerproc/internal/rpcerr"
	"github.com/oriys/workerproc/internal/transport"
)

// Spawn starts the worker binary named by opts.WorkerPath, sends the
// handshake, and waits for its Ready envelope. The process is killed and
// an error returned if the worker doesn't reach Ready within
// opts.InitializationTimeout.
func Spawn(ctx context.Context, opts SpawnOptions) (*parent.Handle, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	instanceID := uuid.New().String()
	log := logging.Op().With("instance_id", instanceID, "class", opts.ClassName)

	t, err := transport.NewPipeTransport(transport.PipeOptions{
		Path:          opts.WorkerPath,
		Dir:           opts.Cwd,
		Env:           opts.envStrings(),
		Stderr:        os.Stderr,
		MaxFrameBytes: opts.MaxFrameBytes,
	})
	if err != nil {
		return nil, &rpcerr.InitializationError{Reason: "spawn worker process", Cause: err}
	}

	if err := sendHandshake(t, opts); err != nil {
		_ = t.Close()
		log.Error("rpc: failed to send handshake", "error", err)
		return nil, &rpcerr.InitializationError{Reason: "send handshake", Cause: err}
	}

	ready, err := waitForReady(ctx, t, opts)
	if err != nil {
		_ = t.Close()
		log.Error("rpc: worker failed to become ready", "error", err)
		return nil, err
	}
	log.Info("rpc: worker ready")

	kill := killFunc(t, opts.KillGrace)
	cfg := parent.Config{
		Codec:           codec.For(opts.Serialization),
		Timeout:         opts.Timeout,
		Retries:         opts.Retries,
		CallbackTimeout: opts.CallbackTimeout,
		Metrics:         opts.Metrics,
		CallLog:         opts.CallLog,
		InstanceID:      instanceID,
	}
	return parent.NewHandle(t, cfg, ready, opts.ShutdownTimeout, kill), nil
}

func sendHandshake(t transport.Transport, opts SpawnOptions) error {
	handshake := protocol.Handshake{
		ClassName:       opts.ClassName,
		ConstructorArgs: opts.Args,
		Serialization:   opts.Serialization,
		Env:             opts.Env,
	}
	data, err := json.Marshal(handshake)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := codec.WriteFrame(&buf, data); err != nil {
		return err
	}
	return t.Write(buf.Bytes())
}

// waitForReady races the worker's first frame (expected to be a Ready
// envelope) against opts.InitializationTimeout, alongside a parallel check
// that the worker binary is actually an executable file — so a permission
// or missing-file problem surfaces as an InitializationError instead of a
// generic timeout.
func waitForReady(ctx context.Context, t transport.Transport, opts SpawnOptions) (protocol.Ready, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.InitializationTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	var ready protocol.Ready

	g.Go(func() error {
		select {
		case frame, ok := <-t.Frames():
			if !ok {
				return &rpcerr.InitializationError{Reason: "transport closed before ready"}
			}
			var env protocol.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				return &rpcerr.InitializationError{Reason: "malformed ready frame", Cause: err}
			}
			if env.Kind != protocol.KindReady || env.Ready == nil {
				return &rpcerr.InitializationError{Reason: fmt.Sprintf("expected ready envelope, got %q", env.Kind)}
			}
			ready = *env.Ready
			return nil
		case <-gctx.Done():
			return &rpcerr.InitializationError{Reason: "initialization timed out", Cause: gctx.Err()}
		}
	})
	g.Go(func() error { return checkExecutable(opts.WorkerPath) })

	if err := g.Wait(); err != nil {
		return protocol.Ready{}, err
	}
	return ready, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &rpcerr.InitializationError{Reason: "worker binary", Cause: err}
	}
	if info.Mode()&0o111 == 0 {
		return &rpcerr.InitializationError{Reason: fmt.Sprintf("worker binary %q is not executable", path)}
	}
	return nil
}
