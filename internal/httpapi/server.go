package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/behavior"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/queue"
)

const maxEventBytes int64 = 2 << 20

// EventHandler receives inbound messages posted to the REST platform.
type EventHandler interface {
	HandleIncoming(ctx context.Context, event messaging.IncomingEvent) (behavior.Outcome, error)
}

// Observer keeps inbound REST messages so conversation history can be served back.
type Observer interface {
	Observe(event messaging.IncomingEvent)
}

type Queues interface {
	List(ctx context.Context, key queue.Key) ([]queue.Item, error)
	InFlight(key queue.Key) (queue.Item, bool)
	Drain(ctx context.Context, key queue.Key) error
}

type Config struct {
	Addr string
	// RateLimit caps POST /v1/events per client IP per minute. Zero disables it.
	RateLimit int
	Platform  string
	Stream    http.Handler
	Metrics   http.Handler
}

type server struct {
	logger   *log.Logger
	events   EventHandler
	observer Observer
	queues   Queues
	platform string
	now      func() time.Time
}

func NewServer(logger *log.Logger, cfg Config, events EventHandler, observer Observer, queues Queues) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(logger, cfg, events, observer, queues),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func NewHandler(logger *log.Logger, cfg Config, events EventHandler, observer Observer, queues Queues) http.Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	platform := strings.TrimSpace(cfg.Platform)
	if platform == "" {
		platform = "rest"
	}
	h := &server{
		logger:   logger,
		events:   events,
		observer: observer,
		queues:   queues,
		platform: platform,
		now:      time.Now,
	}

	var eventsHandler http.Handler = http.HandlerFunc(h.handleEvents)
	if cfg.RateLimit > 0 {
		eventsHandler = httprate.Limit(cfg.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))(eventsHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/v1/events", eventsHandler)
	mux.HandleFunc("/v1/queues/{channel}/{thread}", h.handleQueue)
	if cfg.Stream != nil {
		mux.Handle("/v1/stream", cfg.Stream)
	}
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics)
	}
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type eventBody struct {
	ChannelID string         `json:"channel_id"`
	ThreadID  string         `json:"thread_id"`
	MessageID string         `json:"message_id"`
	UserID    string         `json:"user_id"`
	UserName  string         `json:"user_name"`
	Text      string         `json:"text"`
	IsMention bool           `json:"is_mention"`
	IsDirect  bool           `json:"is_direct"`
	Metadata  map[string]any `json:"metadata"`
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defer r.Body.Close()
	var body eventBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxEventBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if dec.More() {
		http.Error(w, "invalid json: trailing content", http.StatusBadRequest)
		return
	}
	if err := validateEvent(body); err != nil {
		http.Error(w, fmt.Sprintf("invalid event: %v", err), http.StatusBadRequest)
		return
	}

	event := messaging.IncomingEvent{
		EventRef: messaging.EventRef{
			Platform:  s.platform,
			ChannelID: strings.TrimSpace(body.ChannelID),
			ThreadID:  strings.TrimSpace(body.ThreadID),
			MessageID: strings.TrimSpace(body.MessageID),
			UserID:    body.UserID,
			UserName:  body.UserName,
		},
		Text:       body.Text,
		IsMention:  body.IsMention,
		IsDirect:   body.IsDirect,
		ReceivedAt: s.now().UTC(),
		Metadata:   body.Metadata,
	}
	if event.ThreadID == "" {
		event.ThreadID = event.MessageID
	}
	if s.observer != nil {
		s.observer.Observe(event)
	}

	outcome, err := s.events.HandleIncoming(r.Context(), event)
	if err != nil {
		var storageErr *queue.StorageError
		if errors.As(err, &storageErr) {
			s.logger.Printf("event rejected, storage unavailable channel_id=%s message_id=%s err=%v", event.ChannelID, event.MessageID, err)
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		s.logger.Printf("event failed channel_id=%s message_id=%s err=%v", event.ChannelID, event.MessageID, err)
		http.Error(w, "failed to accept event", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":   true,
		"outcome":    outcome,
		"channel_id": event.ChannelID,
		"thread_id":  event.ThreadID,
		"message_id": event.MessageID,
	})
}

type queuedItem struct {
	MessageID  string    `json:"message_id"`
	GUID       string    `json:"guid"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	InFlight   bool      `json:"in_flight"`
}

func (s *server) handleQueue(w http.ResponseWriter, r *http.Request) {
	key := queue.Key{ChannelID: r.PathValue("channel"), ThreadID: r.PathValue("thread")}
	if err := key.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		items, err := s.queues.List(r.Context(), key)
		if err != nil {
			http.Error(w, "list queue failed", http.StatusServiceUnavailable)
			return
		}
		current, busy := s.queues.InFlight(key)
		out := make([]queuedItem, 0, len(items))
		for _, item := range items {
			out = append(out, queuedItem{
				MessageID:  item.MessageID,
				GUID:       item.GUID,
				EnqueuedAt: item.EnqueuedAt,
				InFlight:   busy && item.GUID == current.GUID,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"channel_id": key.ChannelID,
			"thread_id":  key.ThreadID,
			"items":      out,
		})
	case http.MethodDelete:
		if err := s.queues.Drain(r.Context(), key); err != nil {
			s.logger.Printf("drain failed channel_id=%s thread_id=%s err=%v", key.ChannelID, key.ThreadID, err)
			http.Error(w, "drain queue failed", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"drained": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func validateEvent(body eventBody) error {
	if strings.TrimSpace(body.ChannelID) == "" {
		return errors.New("channel_id is required")
	}
	if strings.TrimSpace(body.MessageID) == "" {
		return errors.New("message_id is required")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
