package parent

import "sync"

// fakeTransport is an in-memory transport.Transport double. Writes land on
// writes for a test to inspect/respond to; frames pushed onto the frames
// channel are what the engine's readLoop consumes, simulating inbound
// worker traffic.
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

// crash closes the frames channel (as a real transport's readLoop does on
// EOF) and records an exit status, without closing f.closed.
func (f *fakeTransport) crash(code int, signal string) {
	f.mu.Lock()
	f.exitCode = code
	f.exitSignal = signal
	f.exited = true
	f.mu.Unlock()
	close(f.frames)
}
