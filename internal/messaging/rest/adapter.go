package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
)

const (
	Platform          = "rest"
	webhookTimeout    = 10 * time.Second
	defaultMaxHistory = 200
)

const (
	KindMessage   = "message"
	KindFile      = "file"
	KindReactions = "reactions"
)

// Outbound is what the REST platform emits for every side effect.
type Outbound struct {
	Kind        string                `json:"kind"`
	Event       messaging.EventRef    `json:"event"`
	IsInternal  bool                  `json:"is_internal,omitempty"`
	Text        string                `json:"text,omitempty"`
	HTML        string                `json:"html,omitempty"`
	MessageType messaging.MessageType `json:"message_type,omitempty"`
	Filename    string                `json:"filename,omitempty"`
	Title       string                `json:"title,omitempty"`
	Content     []byte                `json:"content,omitempty"`
	ChannelID   string                `json:"channel_id,omitempty"`
	Timestamp   string                `json:"timestamp,omitempty"`
	Remove      []string              `json:"remove,omitempty"`
	Add         []string              `json:"add,omitempty"`
	SentAt      time.Time             `json:"sent_at"`
}

type Publisher interface {
	Publish(out Outbound)
}

type Option func(*Adapter)

func WithLogger(logger *log.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithWebhook POSTs every outbound message to url. A webhook failure fails the call.
func WithWebhook(url string, client *http.Client) Option {
	return func(a *Adapter) {
		a.webhookURL = strings.TrimSpace(url)
		if client != nil {
			a.httpClient = client
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// Adapter is the HTTP-facing platform: inbound messages arrive on the API and outbound
// ones are pushed to stream subscribers and the optional webhook.
type Adapter struct {
	logger     *log.Logger
	publisher  Publisher
	webhookURL string
	httpClient *http.Client
	markdown   goldmark.Markdown
	now        func() time.Time

	mu         sync.Mutex
	history    map[string][]messaging.IncomingEvent
	maxHistory int
}

var (
	_ messaging.Adapter      = (*Adapter)(nil)
	_ messaging.BatchReactor = (*Adapter)(nil)
)

func NewAdapter(publisher Publisher, opts ...Option) *Adapter {
	a := &Adapter{
		logger:     log.New(io.Discard, "", 0),
		publisher:  publisher,
		httpClient: &http.Client{Timeout: webhookTimeout},
		markdown:   goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:        time.Now,
		history:    make(map[string][]messaging.IncomingEvent),
		maxHistory: defaultMaxHistory,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string {
	return Platform
}

// Observe remembers an inbound message so FetchConversationHistory can return it.
func (a *Adapter) Observe(event messaging.IncomingEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := threadKey(event.ChannelID, event.ThreadID)
	h := append(a.history[key], event)
	if len(h) > a.maxHistory {
		h = h[len(h)-a.maxHistory:]
	}
	a.history[key] = h
}

func (a *Adapter) SendMessage(ctx context.Context, ref messaging.EventRef, text string, messageType messaging.MessageType, isInternal bool) error {
	out := Outbound{
		Kind:        KindMessage,
		Event:       ref,
		IsInternal:  isInternal,
		Text:        text,
		MessageType: messageType,
	}
	if messageType == messaging.MessageTypeMarkdown || messageType == "" {
		html, err := a.render(text)
		if err != nil {
			return err
		}
		out.HTML = html
	}
	if err := a.emit(ctx, out); err != nil {
		return err
	}
	if !isInternal {
		a.Observe(messaging.IncomingEvent{
			EventRef:   messaging.EventRef{Platform: Platform, ChannelID: ref.ChannelID, ThreadID: ref.ThreadID, UserName: "bot"},
			Text:       text,
			FromBot:    true,
			ReceivedAt: a.now().UTC(),
		})
	}
	return nil
}

func (a *Adapter) UploadFile(ctx context.Context, ref messaging.EventRef, content []byte, filename, title string, isInternal bool) error {
	return a.emit(ctx, Outbound{
		Kind:       KindFile,
		Event:      ref,
		IsInternal: isInternal,
		Filename:   filename,
		Title:      title,
		Content:    content,
	})
}

func (a *Adapter) AddReaction(ctx context.Context, ref messaging.EventRef, channelID, timestamp, reaction string) error {
	return a.UpdateReactions(ctx, ref, channelID, timestamp, nil, []string{reaction})
}

func (a *Adapter) RemoveReaction(ctx context.Context, ref messaging.EventRef, channelID, timestamp, reaction string) error {
	return a.UpdateReactions(ctx, ref, channelID, timestamp, []string{reaction}, nil)
}

func (a *Adapter) UpdateReactions(ctx context.Context, ref messaging.EventRef, channelID, timestamp string, remove, add []string) error {
	return a.emit(ctx, Outbound{
		Kind:      KindReactions,
		Event:     ref,
		ChannelID: channelID,
		Timestamp: timestamp,
		Remove:    remove,
		Add:       add,
	})
}

func (a *Adapter) FetchConversationHistory(_ context.Context, _ messaging.EventRef, channelID, threadID string) ([]messaging.IncomingEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]messaging.IncomingEvent(nil), a.history[threadKey(channelID, threadID)]...), nil
}

func (a *Adapter) render(text string) (string, error) {
	var buf bytes.Buffer
	if err := a.markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return buf.String(), nil
}

func (a *Adapter) emit(ctx context.Context, out Outbound) error {
	out.SentAt = a.now().UTC()
	if a.webhookURL != "" && out.Kind != KindReactions {
		if err := a.postWebhook(ctx, out); err != nil {
			return err
		}
	}
	if a.publisher != nil {
		a.publisher.Publish(out)
	}
	return nil
}

func (a *Adapter) postWebhook(ctx context.Context, out Outbound) error {
	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal outbound: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("webhook returned %s: %s", resp.Status, msg)
	}
	return nil
}

func threadKey(channelID, threadID string) string {
	return channelID + "\x00" + threadID
}
