package lifecycle

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oriys/workerproc/internal/transport"
)

// processProvider is implemented by process-backed transports
// (transport.PipeTransport); vsock-backed transports have no local
// process to signal, so killFunc is a no-op for them.
type processProvider interface {
	Process() *os.Process
}

// killFunc returns the escalation hook installed as parent.Handle's kill
// closure: SIGTERM, then SIGKILL after grace if the transport hasn't
// closed by then. Grounded on the now-removed
// internal/firecracker/vm_lifecycle.go's 3-step graceful/forceful
// shutdown, collapsed to two steps since this module has no VM pause
// phase to run between them.
func killFunc(t transport.Transport, grace time.Duration) func() {
	return func() {
		pp, ok := t.(processProvider)
		if !ok {
			return
		}
		proc := pp.Process()
		if proc == nil {
			return
		}
		_ = unix.Kill(proc.Pid, unix.SIGTERM)
		select {
		case <-t.Closed():
			return
		case <-time.After(grace):
			_ = unix.Kill(proc.Pid, unix.SIGKILL)
		}
	}
}
