package parent

import (
	"sync"

	"github.com/oriys/workerproc/internal/logging"
)

// listener is a registered event handler. once-listeners are removed after
// their first invocation.
type listener struct {
	id      uint64
	handler func(args any)
	once    bool
}

// eventHub fans Event messages out to registered listeners, in
// registration order. Listener panics are recovered and logged so one bad
// handler can't break the transport reader.
type eventHub struct {
	mu        sync.Mutex
	listeners map[string][]*listener
	nextID    uint64
}

func newEventHub() *eventHub {
	return &eventHub{listeners: make(map[string][]*listener)}
}

// on registers a persistent listener and returns a token for Off.
func (h *eventHub) on(event string, fn func(args any)) uint64 {
	return h.add(event, fn, false)
}

// once registers a listener that is removed after its first invocation.
func (h *eventHub) once(event string, fn func(args any)) uint64 {
	return h.add(event, fn, true)
}

func (h *eventHub) add(event string, fn func(args any), once bool) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.listeners[event] = append(h.listeners[event], &listener{id: id, handler: fn, once: once})
	return id
}

// off removes the listener identified by id, from any event name.
func (h *eventHub) off(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for event, ls := range h.listeners {
		for i, l := range ls {
			if l.id == id {
				h.listeners[event] = append(ls[:i], ls[i+1:]...)
				return
			}
		}
	}
}

// removeAll removes every listener for event, or every listener for every
// event when event is empty.
func (h *eventHub) removeAll(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if event == "" {
		h.listeners = make(map[string][]*listener)
		return
	}
	delete(h.listeners, event)
}

// emit invokes every listener registered for event, in registration order,
// with args. Called from the single reader goroutine, so listeners run
// serialized with every other reaction to inbound frames.
func (h *eventHub) emit(event string, args any) {
	h.mu.Lock()
	ls := append([]*listener(nil), h.listeners[event]...)
	var remaining []*listener
	for _, l := range h.listeners[event] {
		if !l.once {
			remaining = append(remaining, l)
		}
	}
	h.listeners[event] = remaining
	h.mu.Unlock()

	for _, l := range ls {
		h.invoke(l, event, args)
	}
}

func (h *eventHub) invoke(l *listener, event string, args any) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("rpc: event listener panicked", "event", event, "recover", r)
		}
	}()
	l.handler(args)
}
