// Package lifecycle spawns a worker process, races its startup against an
// initialization budget, and hands back a ready-to-use *parent.Handle. It
// also owns the signal-escalation path (SIGTERM, then SIGKILL) that
// parent.Handle's kill hook delegates to, so internal/parent never needs
// golang.org/x/sys.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/oriys/workerproc/internal/codec"
	"github.com/oriys/workerproc/internal/logging"
	"github.com/oriys/workerproc/internal/metrics"
)

// SpawnOptions configures one worker process for its entire lifetime. The
// codec mode, once negotiated, cannot change without respawning the
// worker.
type SpawnOptions struct {
	// WorkerPath is the worker binary to exec.
	WorkerPath string
	// ClassName is the registry key the worker binary resolves at
	// handshake time.
	ClassName string
	// Args is the constructor argument payload, encoded with Serialization.
	Args json.RawMessage
	// Env is merged onto the parent's environment.
	Env map[string]string
	// Cwd is the worker's working directory. Must exist.
	Cwd string
	// Timeout is the per-call timeout. Must be >= 0; zero is treated as
	// unset and defaults to 30s, so a zero Timeout is not rejected.
	Timeout time.Duration
	// Retries is the per-call retry budget. Must be >= 0; zero is treated
	// as unset and defaults to 3, the same convention withDefaults applies
	// to Timeout — there is no way to ask for "never retry" explicitly
	// through this field.
	Retries int
	// Serialization selects the wire codec for the worker's lifetime.
	Serialization codec.Mode
	// InitializationTimeout bounds the wait for the worker's Ready
	// envelope. Default 10s.
	InitializationTimeout time.Duration
	// ShutdownTimeout bounds a graceful Terminate's drain wait before
	// escalating to Kill. Default 5s.
	ShutdownTimeout time.Duration
	// MaxFrameBytes caps an individual frame's length prefix. Default 64MiB.
	MaxFrameBytes uint32
	// CallbackTimeout bounds a worker-invoked callback's round trip.
	// Defaults to Timeout if zero.
	CallbackTimeout time.Duration
	// KillGrace is how long Kill waits after SIGTERM before escalating to
	// SIGKILL. Default 5s.
	KillGrace time.Duration
	// Metrics, if non-nil, is wired into the spawned Handle's call
	// pipeline for Prometheus instrumentation.
	Metrics *metrics.Metrics
	// CallLog, if non-nil, receives a structured log line per completed
	// call.
	CallLog *logging.CallLogger
}

const (
	defaultTimeout               = 30 * time.Second
	defaultRetries               = 3
	defaultInitializationTimeout = 10 * time.Second
	defaultShutdownTimeout       = 5 * time.Second
	defaultMaxFrameBytes         = 64 << 20
	defaultKillGrace             = 5 * time.Second
)

// withDefaults returns a copy of opts with every zero-valued optional field
// filled in.
func (opts SpawnOptions) withDefaults() SpawnOptions {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retries == 0 {
		opts.Retries = defaultRetries
	}
	if opts.InitializationTimeout == 0 {
		opts.InitializationTimeout = defaultInitializationTimeout
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.MaxFrameBytes == 0 {
		opts.MaxFrameBytes = defaultMaxFrameBytes
	}
	if opts.CallbackTimeout == 0 {
		opts.CallbackTimeout = opts.Timeout
	}
	if opts.KillGrace == 0 {
		opts.KillGrace = defaultKillGrace
	}
	return opts
}

// Validate rejects a malformed SpawnOptions before any process is started,
// matching the boundary behaviors SPEC_FULL.md's Testable Properties
// require: bad timeouts, negative retries, a non-directory cwd, and
// non-string env values are all configuration errors, not runtime ones.
func (opts SpawnOptions) Validate() error {
	if opts.WorkerPath == "" {
		return fmt.Errorf("lifecycle: WorkerPath is required")
	}
	if opts.ClassName == "" {
		return fmt.Errorf("lifecycle: ClassName is required")
	}
	if opts.Timeout < 0 {
		return fmt.Errorf("lifecycle: Timeout must be >= 0, got %s", opts.Timeout)
	}
	if opts.Retries < 0 {
		return fmt.Errorf("lifecycle: Retries must be >= 0, got %d", opts.Retries)
	}
	if opts.InitializationTimeout < 0 {
		return fmt.Errorf("lifecycle: InitializationTimeout must be >= 0, got %s", opts.InitializationTimeout)
	}
	if opts.ShutdownTimeout < 0 {
		return fmt.Errorf("lifecycle: ShutdownTimeout must be >= 0, got %s", opts.ShutdownTimeout)
	}
	if opts.Cwd != "" {
		info, err := os.Stat(opts.Cwd)
		if err != nil {
			return fmt.Errorf("lifecycle: Cwd %q: %w", opts.Cwd, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("lifecycle: Cwd %q is not a directory", opts.Cwd)
		}
	}
	return nil
}

// envStrings renders Env in os/exec's "KEY=VALUE" form, appended onto the
// current process's environment.
func (opts SpawnOptions) envStrings() []string {
	if len(opts.Env) == 0 {
		return nil
	}
	env := os.Environ()
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	return env
}
