package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/behavior"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/queue"
)

type fakeEvents struct {
	mu      sync.Mutex
	seen    []messaging.IncomingEvent
	outcome behavior.Outcome
	err     error
}

func (f *fakeEvents) HandleIncoming(_ context.Context, event messaging.IncomingEvent) (behavior.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, event)
	return f.outcome, f.err
}

type fakeObserver struct {
	seen []messaging.IncomingEvent
}

func (f *fakeObserver) Observe(event messaging.IncomingEvent) {
	f.seen = append(f.seen, event)
}

type fakeQueues struct {
	items   []queue.Item
	drained []queue.Key
	err     error
}

func (f *fakeQueues) List(context.Context, queue.Key) ([]queue.Item, error) {
	return f.items, f.err
}

func (f *fakeQueues) InFlight(queue.Key) (queue.Item, bool) {
	if len(f.items) == 0 {
		return queue.Item{}, false
	}
	return f.items[0], true
}

func (f *fakeQueues) Drain(_ context.Context, key queue.Key) error {
	f.drained = append(f.drained, key)
	return f.err
}

func newTestHandler(t *testing.T, cfg Config, events *fakeEvents, queues *fakeQueues) (http.Handler, *fakeObserver) {
	t.Helper()
	observer := &fakeObserver{}
	return NewHandler(log.New(os.Stdout, "", 0), cfg, events, observer, queues), observer
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t, Config{}, &fakeEvents{}, &fakeQueues{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestEventsAcceptsMessage(t *testing.T) {
	events := &fakeEvents{outcome: behavior.OutcomeStarted}
	h, observer := newTestHandler(t, Config{}, events, &fakeQueues{})

	body := []byte(`{"channel_id":"C1","message_id":"1.0","user_id":"U1","text":"hello","is_mention":true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["outcome"] != string(behavior.OutcomeStarted) || resp["thread_id"] != "1.0" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if len(events.seen) != 1 || events.seen[0].Platform != "rest" || !events.seen[0].IsMention {
		t.Fatalf("unexpected event: %+v", events.seen)
	}
	if len(observer.seen) != 1 || observer.seen[0].ThreadID != "1.0" {
		t.Fatalf("event must be observed before handling: %+v", observer.seen)
	}
}

func TestEventsRejectsInvalidBody(t *testing.T) {
	h, _ := newTestHandler(t, Config{}, &fakeEvents{}, &fakeQueues{})

	for _, body := range []string{
		`{"channel_id":"C1"}`,
		`{"channel_id":"C1","message_id":"1.0","unknown":true}`,
		`{"channel_id":"C1","message_id":"1.0"}{}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader([]byte(body)))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestEventsStorageErrorIsUnavailable(t *testing.T) {
	events := &fakeEvents{err: &queue.StorageError{Op: "enqueue", Err: errors.New("disk full")}}
	h, _ := newTestHandler(t, Config{}, events, &fakeQueues{})

	body := []byte(`{"channel_id":"C1","message_id":"1.0","text":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	events.err = errors.New("boom")
	req = httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestEventsRateLimited(t *testing.T) {
	h, _ := newTestHandler(t, Config{RateLimit: 1}, &fakeEvents{outcome: behavior.OutcomeStarted}, &fakeQueues{})

	body := []byte(`{"channel_id":"C1","message_id":"1.0","text":"hi"}`)
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusAccepted || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes: %v", codes)
	}
}

func TestQueueInspectAndDrain(t *testing.T) {
	queues := &fakeQueues{items: []queue.Item{
		{Key: queue.Key{ChannelID: "C1", ThreadID: "1.0"}, MessageID: "1.0", GUID: "a", EnqueuedAt: time.Unix(10, 0).UTC()},
		{Key: queue.Key{ChannelID: "C1", ThreadID: "1.0"}, MessageID: "2.0", GUID: "b", EnqueuedAt: time.Unix(20, 0).UTC()},
	}}
	h, _ := newTestHandler(t, Config{}, &fakeEvents{}, queues)

	req := httptest.NewRequest(http.MethodGet, "/v1/queues/C1/1.0", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Items []queuedItem `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 || !resp.Items[0].InFlight || resp.Items[1].InFlight {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/queues/C1/1.0", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || len(queues.drained) != 1 || queues.drained[0].ThreadID != "1.0" {
		t.Fatalf("drain not applied: code=%d drained=%v", rr.Code, queues.drained)
	}
}

func TestOptionalRoutes(t *testing.T) {
	stream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h, _ := newTestHandler(t, Config{Stream: stream}, &fakeEvents{}, &fakeQueues{})

	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected stream handler, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("metrics must be absent when not configured, got %d", rr.Code)
	}
}
