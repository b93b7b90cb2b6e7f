package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
)

type recordingPublisher struct {
	mu  sync.Mutex
	out []Outbound
}

func (p *recordingPublisher) Publish(out Outbound) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, out)
}

func testRef() messaging.EventRef {
	return messaging.EventRef{Platform: Platform, ChannelID: "C1", ThreadID: "1.0", MessageID: "1.0"}
}

func TestSendMessageRendersMarkdown(t *testing.T) {
	pub := &recordingPublisher{}
	a := NewAdapter(pub)

	if err := a.SendMessage(context.Background(), testRef(), "**bold** reply", messaging.MessageTypeMarkdown, false); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(pub.out) != 1 {
		t.Fatalf("expected one outbound, got %d", len(pub.out))
	}
	out := pub.out[0]
	if out.Kind != KindMessage || out.Text != "**bold** reply" {
		t.Fatalf("unexpected outbound: %+v", out)
	}
	if !strings.Contains(out.HTML, "<strong>bold</strong>") {
		t.Fatalf("expected rendered html, got %q", out.HTML)
	}

	if err := a.SendMessage(context.Background(), testRef(), "plain *text*", messaging.MessageTypeText, true); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.out[1].HTML != "" || !pub.out[1].IsInternal {
		t.Fatalf("plain internal message should not be rendered: %+v", pub.out[1])
	}
}

func TestHistoryKeepsInboundAndReplies(t *testing.T) {
	a := NewAdapter(nil)
	ref := testRef()
	a.Observe(messaging.IncomingEvent{EventRef: ref, Text: "question"})
	if err := a.SendMessage(context.Background(), ref, "answer", messaging.MessageTypeText, false); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := a.SendMessage(context.Background(), ref, "diagnostic", messaging.MessageTypeText, true); err != nil {
		t.Fatalf("send internal: %v", err)
	}

	got, err := a.FetchConversationHistory(context.Background(), ref, "C1", "1.0")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 2 || got[0].Text != "question" || got[1].Text != "answer" || !got[1].FromBot {
		t.Fatalf("unexpected history: %+v", got)
	}
	other, _ := a.FetchConversationHistory(context.Background(), ref, "C1", "2.0")
	if len(other) != 0 {
		t.Fatalf("threads must not share history")
	}
}

func TestReactionsAreBatched(t *testing.T) {
	pub := &recordingPublisher{}
	a := NewAdapter(pub)
	if err := messaging.UpdateReactions(context.Background(), a, testRef(), "C1", "1.0", []string{"hourglass"}, []string{"eyes"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(pub.out) != 1 || pub.out[0].Kind != KindReactions || pub.out[0].Remove[0] != "hourglass" || pub.out[0].Add[0] != "eyes" {
		t.Fatalf("expected a single batched reaction event, got %+v", pub.out)
	}
}

func TestWebhookReceivesMessagesAndFailuresSurface(t *testing.T) {
	received := make(chan Outbound, 4)
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var out Outbound
		if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
			t.Errorf("decode webhook: %v", err)
		}
		received <- out
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	a := NewAdapter(nil, WithWebhook(server.URL, server.Client()))
	if err := a.UploadFile(context.Background(), testRef(), []byte("data"), "report.txt", "Report", false); err != nil {
		t.Fatalf("upload: %v", err)
	}
	select {
	case out := <-received:
		if out.Kind != KindFile || out.Filename != "report.txt" || string(out.Content) != "data" {
			t.Fatalf("unexpected webhook payload: %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for webhook")
	}

	status.Store(http.StatusBadGateway)
	if err := a.SendMessage(context.Background(), testRef(), "hello", messaging.MessageTypeText, false); err == nil {
		t.Fatalf("expected webhook failure to be returned")
	}
}

func TestHubStreamsToSubscribers(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	all, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer all.Close()
	filtered, _, err := websocket.DefaultDialer.Dial(wsURL+"?channel_id=C2", nil)
	if err != nil {
		t.Fatalf("dial filtered: %v", err)
	}
	defer filtered.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers did not register")
		}
		time.Sleep(10 * time.Millisecond)
	}

	a := NewAdapter(hub)
	if err := a.SendMessage(context.Background(), testRef(), "to C1", messaging.MessageTypeText, false); err != nil {
		t.Fatalf("send: %v", err)
	}
	c2 := messaging.EventRef{Platform: Platform, ChannelID: "C2", ThreadID: "5.0"}
	if err := a.SendMessage(context.Background(), c2, "to C2", messaging.MessageTypeText, false); err != nil {
		t.Fatalf("send: %v", err)
	}

	_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{"to C1", "to C2"} {
		var out Outbound
		if err := all.ReadJSON(&out); err != nil {
			t.Fatalf("read: %v", err)
		}
		if out.Text != want {
			t.Fatalf("want %q got %q", want, out.Text)
		}
	}

	_ = filtered.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out Outbound
	if err := filtered.ReadJSON(&out); err != nil {
		t.Fatalf("read filtered: %v", err)
	}
	if out.Text != "to C2" {
		t.Fatalf("filtered stream got %q", out.Text)
	}
}
