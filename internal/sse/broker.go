// Package sse streams index lifecycle events to HTTP clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	EventRebuilt = "index.rebuilt"
	EventFailed  = "index.failed"
	EventChanged = "files.changed"
)

const (
	clientBuffer = 64
	keepAlive    = 30 * time.Second
)

// Event is one frame sent to every client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Rebuild describes a finished index build.
type Rebuild struct {
	Vaults int    `json:"vaults"`
	Notes  int    `json:"notes"`
	Stubs  int    `json:"stubs"`
	Links  int    `json:"links"`
	TookMs int64  `json:"tookMs"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	// Files lists the changed files that triggered the build, if any.
	Files []string `json:"files,omitempty"`
}

func (e Event) frame() ([]byte, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, payload)), nil
}

// hub is the state owned by the broker loop. Only the loop touches it.
type hub struct {
	clients map[chan []byte]struct{}
	// last rebuild frame, replayed to new subscribers
	last []byte

	changeMin    time.Duration
	lastChange   time.Time
	pendingFiles int
}

func (h *hub) broadcast(raw []byte) {
	for ch := range h.clients {
		select {
		case ch <- raw:
		default:
			// slow client, drop
		}
	}
}

func (h *hub) change(files int, now time.Time) {
	h.pendingFiles += files
	if now.Sub(h.lastChange) < h.changeMin {
		return
	}
	h.lastChange = now
	raw, err := Event{Type: EventChanged, Data: map[string]int{"files": h.pendingFiles}}.frame()
	h.pendingFiles = 0
	if err == nil {
		h.broadcast(raw)
	}
}

// Broker fans events out to subscribed clients.
//
// Every operation is a closure run on the broker's own goroutine, so the
// hub needs no locking.
type Broker struct {
	ops chan func(*hub)

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits at most one files.changed event per
// changeThrottle. Changes arriving inside the window are folded into the
// next event.
func NewBroker(changeThrottle time.Duration) *Broker {
	if changeThrottle <= 0 {
		changeThrottle = 2 * time.Second
	}

	b := &Broker{
		ops:     make(chan func(*hub), 256),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go b.run(&hub{
		clients:   make(map[chan []byte]struct{}),
		changeMin: changeThrottle,
	})
	return b
}

func (b *Broker) run(h *hub) {
	defer close(b.stopped)
	for {
		select {
		case <-b.stopCh:
			for ch := range h.clients {
				close(ch)
			}
			return
		case op := <-b.ops:
			op(h)
		}
	}
}

// do hands op to the loop. It reports false once the broker is closed.
func (b *Broker) do(op func(*hub)) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.ops <- op:
		return true
	case <-b.stopped:
		return false
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client. The channel receives the last rebuild event
// straight away when there is one. It is closed on Unsubscribe or Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	done := make(chan struct{})
	ok := b.do(func(h *hub) {
		h.clients[ch] = struct{}{}
		if h.last != nil {
			ch <- h.last
		}
		close(done)
	})
	if !ok {
		close(ch)
		return ch
	}
	select {
	case <-done:
	case <-b.stopped:
		select {
		case <-done:
		default:
			// never registered, so the loop will not close it
			close(ch)
		}
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.do(func(h *hub) {
		if _, ok := h.clients[ch]; ok {
			delete(h.clients, ch)
			close(ch)
		}
	})
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	resp := make(chan int, 1)
	if !b.do(func(h *hub) { resp <- len(h.clients) }) {
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	raw, err := event.frame()
	if err != nil {
		return
	}
	b.do(func(h *hub) { h.broadcast(raw) })
}

// PublishRebuild announces a finished build as index.rebuilt, or as
// index.failed when r carries an error.
func (b *Broker) PublishRebuild(r Rebuild) {
	typ := EventRebuilt
	if r.Error != "" {
		typ = EventFailed
	}
	raw, err := Event{Type: typ, Data: r}.frame()
	if err != nil {
		return
	}
	b.do(func(h *hub) {
		h.last = raw
		h.broadcast(raw)
	})
}

// PublishChange reports that files changed on disk.
func (b *Broker) PublishChange(files int) {
	now := time.Now()
	b.do(func(h *hub) { h.change(files, now) })
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
