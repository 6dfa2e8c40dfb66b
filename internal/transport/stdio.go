package transport

import (
	"io"
	"sync"

	"github.com/oriys/workerproc/internal/codec"
)

// StdioTransport is the worker-side half of PipeTransport: it reads framed
// payloads off an input stream (the worker process's stdin) and writes
// framed payloads to an output stream (its stdout), the same framing
// PipeTransport expects on the parent side.
type StdioTransport struct {
	r io.Reader
	w io.Writer

	frames chan []byte
	ready  chan struct{}
	closed chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewStdioTransport wraps r/w (typically os.Stdin/os.Stdout) as a Transport
// and starts the reader goroutine immediately.
func NewStdioTransport(r io.Reader, w io.Writer, maxFrameBytes uint32) *StdioTransport {
	t := &StdioTransport{
		r:      r,
		w:      w,
		frames: make(chan []byte, 16),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	close(t.ready)
	go t.readLoop(maxFrameBytes)
	return t
}

func (t *StdioTransport) readLoop(maxFrameBytes uint32) {
	defer close(t.frames)
	for {
		payload, err := codec.ReadFrame(t.r, maxFrameBytes)
		if err != nil {
			t.closeOnce.Do(func() { close(t.closed) })
			return
		}
		t.frames <- payload
	}
}

func (t *StdioTransport) Write(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.w.Write(frame)
	return err
}

func (t *StdioTransport) Frames() <-chan []byte   { return t.frames }
func (t *StdioTransport) Ready() <-chan struct{}  { return t.ready }
func (t *StdioTransport) Closed() <-chan struct{} { return t.closed }

// Exit is always unreported: a worker process has no visibility into its
// own exit status while running.
func (t *StdioTransport) Exit() (code int, signal string, ok bool) { return 0, "", false }

func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}
