package worker

import "sync"

// fakeTransport is an in-memory transport.Transport double, mirroring the
// one used in internal/parent's tests. Frames pushed onto frames are what
// Serve's reader loop consumes, simulating inbound parent traffic; writes
// land on writes for a test to inspect.
type fakeTransport struct {
	mu         sync.Mutex
	writes     chan []byte
	frames     chan []byte
	ready      chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
	exitCode   int
	exitSignal string
	exited     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		writes: make(chan []byte, 16),
		frames: make(chan []byte, 16),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Write(frame []byte) error {
	cp := append([]byte(nil), frame...)
	f.writes <- cp
	return nil
}

func (f *fakeTransport) Frames() <-chan []byte   { return f.frames }
func (f *fakeTransport) Ready() <-chan struct{}  { return f.ready }
func (f *fakeTransport) Closed() <-chan struct{} { return f.closed }

func (f *fakeTransport) Exit() (code int, signal string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitCode, f.exitSignal, f.exited
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}
