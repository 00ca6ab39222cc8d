package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/notidx/internal/index"
	"github.com/starford/notidx/internal/scheduler"
)

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishState(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishState("pause", scheduler.StatePaused)

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: "+EventState) {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"action":"pause"`) || !strings.Contains(s, `"state":"paused"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishReport_FlushAndThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	wrote := scheduler.Report{
		Notes:   scheduler.PhaseReport{Flush: index.FlushStats{Written: 3, Cleared: 1}},
		Pending: scheduler.Pending{Notes: 2},
		Next:    time.Second,
	}
	// First report: flushed + progress. Second, immediately: flushed only.
	b.PublishReport(wrote)
	b.PublishReport(wrote)
	// Nothing written: no flushed event, progress still throttled.
	b.PublishReport(scheduler.Report{})

	time.Sleep(50 * time.Millisecond)
	var flushed, progress int
	for _, s := range drain(ch) {
		switch {
		case strings.Contains(s, "event: "+EventFlushed):
			flushed++
			if !strings.Contains(s, `"notes":3`) || !strings.Contains(s, `"cleared":1`) {
				t.Errorf("flushed payload = %q", s)
			}
		case strings.Contains(s, "event: "+EventProgress):
			progress++
			if !strings.Contains(s, `"next_ms":1000`) {
				t.Errorf("progress payload = %q", s)
			}
		}
	}
	if flushed != 2 {
		t.Errorf("flushed events = %d, want 2", flushed)
	}
	if progress != 1 {
		t.Errorf("progress events = %d, want 1 (throttled)", progress)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishState("resume", scheduler.StateIdle)
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: indexer.state") {
		t.Errorf("handler output missing event: %q", body)
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.PublishState("pause", scheduler.StatePaused)
	b.PublishReport(scheduler.Report{})
	b.Close()
}
