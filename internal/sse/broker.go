// Package sse implements a Server-Sent Events broker for live indexer updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/notidx/internal/scheduler"
)

// Event types emitted by the broker.
const (
	EventFlushed  = "index.flushed"
	EventProgress = "indexer.progress"
	EventState    = "indexer.state"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// FlushedData is the payload of an index.flushed event.
type FlushedData struct {
	Notes     int `json:"notes"`
	Resources int `json:"resources"`
	Failed    int `json:"failed"`
	Cleared   int `json:"cleared"`
}

// ProgressData is the payload of an indexer.progress event.
type ProgressData struct {
	Pending     scheduler.Pending `json:"pending"`
	Interrupted bool              `json:"interrupted"`
	NextMillis  int64             `json:"next_ms"`
	Error       string            `json:"error,omitempty"`
}

// StateData is the payload of an indexer.state event.
type StateData struct {
	Action string `json:"action"`
	State  string `json:"state"`
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + progress throttle timestamp). Public methods communicate with this loop
// through channels, so no mutexes are required.
type Broker struct {
	progressMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	reportCh      chan scheduler.Report
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. indexer.progress events are sent at
// most once per progressThrottle.
func NewBroker(progressThrottle time.Duration) *Broker {
	if progressThrottle <= 0 {
		progressThrottle = 2 * time.Second
	}

	b := &Broker{
		progressMin:   progressThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		reportCh:      make(chan scheduler.Report, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastProgress time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case rep := <-b.reportCh:
			flushed := FlushedData{
				Notes:     rep.Notes.Flush.Written,
				Resources: rep.Resources.Flush.Written,
				Failed:    rep.Notes.Flush.Failed + rep.Resources.Flush.Failed,
				Cleared:   rep.Notes.Flush.Cleared + rep.Resources.Flush.Cleared,
			}
			if flushed.Notes+flushed.Resources+flushed.Failed+flushed.Cleared > 0 {
				broadcast(Event{Type: EventFlushed, Data: flushed})
			}

			now := time.Now()
			if now.Sub(lastProgress) >= b.progressMin {
				lastProgress = now
				broadcast(Event{Type: EventProgress, Data: ProgressData{
					Pending:     rep.Pending,
					Interrupted: rep.Interrupted,
					NextMillis:  rep.Next.Milliseconds(),
					Error:       rep.Error,
				}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
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
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishReport turns a tick report into an index.flushed event, when the
// tick wrote anything, and a throttled indexer.progress event. Its signature
// matches scheduler.ReportHook.
func (b *Broker) PublishReport(rep scheduler.Report) {
	if b.closed.Load() {
		return
	}
	select {
	case b.reportCh <- rep:
	case <-b.stopped:
	}
}

// PublishState announces a control action and the resulting scheduler state.
func (b *Broker) PublishState(action, state string) {
	b.Publish(Event{Type: EventState, Data: StateData{Action: action, State: state}})
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
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
