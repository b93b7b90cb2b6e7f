package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/ids"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/queue"
)

type EventType string

const (
	EventSendMessage              EventType = "send_message"
	EventUploadFile               EventType = "upload_file"
	EventAddReaction              EventType = "add_reaction"
	EventRemoveReaction           EventType = "remove_reaction"
	EventRemoveReactionFromThread EventType = "remove_reaction_from_thread"
	EventUpdateReactions          EventType = "update_reactions"
)

// Params are the arguments of the recorded platform call.
type Params struct {
	Event       messaging.EventRef    `json:"event"`
	Text        string                `json:"text,omitempty"`
	MessageType messaging.MessageType `json:"message_type,omitempty"`
	Content     []byte                `json:"content,omitempty"`
	Filename    string                `json:"filename,omitempty"`
	Title       string                `json:"title,omitempty"`
	ChannelID   string                `json:"channel_id,omitempty"`
	Timestamp   string                `json:"timestamp,omitempty"`
	Reaction    string                `json:"reaction,omitempty"`
	Remove      []string              `json:"remove,omitempty"`
	Add         []string              `json:"add,omitempty"`
	Extra       map[string]any        `json:"extra,omitempty"`
}

type Record struct {
	EventID    string    `json:"event_id"`
	EventType  EventType `json:"event_type"`
	Params     Params    `json:"method_params"`
	IsInternal bool      `json:"is_internal"`
	ChannelID  string    `json:"channel_id"`
	ThreadID   string    `json:"thread_id"`
	CreatedAt  time.Time `json:"created_at"`

	// Durable is false when the record could not be persisted for replay.
	Durable bool `json:"-"`

	sequence  int64
	messageID string
}

func (r Record) key() queue.Key {
	return queue.Key{ChannelID: r.ChannelID, ThreadID: r.ThreadID}
}

func (r Record) container() string {
	if r.IsInternal {
		return queue.ContainerInternalEvents
	}
	return queue.ContainerExternalEvents
}

type deadLetter struct {
	EventID    string    `json:"event_id"`
	EventType  EventType `json:"event_type"`
	IsInternal bool      `json:"is_internal"`
	ChannelID  string    `json:"channel_id"`
	ThreadID   string    `json:"thread_id"`
	CreatedAt  time.Time `json:"created_at"`
	Error      string    `json:"error"`
	Summary    string    `json:"summary"`
}

// Executor performs the side effect described by a record.
type Executor func(ctx context.Context, rec Record) error

type Option func(*Log)

func WithLogger(logger *log.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithDisabled turns Record into a no-op that reports non-durable records.
func WithDisabled(disabled bool) Option {
	return func(l *Log) { l.disabled = disabled }
}

// Log persists side-effecting operations before they run so unacknowledged ones can be
// replayed after a restart. Internal and external records are two independent streams.
type Log struct {
	logger   *log.Logger
	store    queue.Store
	now      func() time.Time
	seq      *ids.Sequencer
	disabled bool
}

func New(store queue.Store, opts ...Option) *Log {
	l := &Log{
		logger: log.New(io.Discard, "", 0),
		store:  store,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.seq = ids.NewSequencer(l.now)
	return l
}

// Record persists the operation and returns once the write is confirmed. A storage
// failure is returned and the caller must not perform the side effect. A record that
// cannot be serialized goes to the dead-letter container and comes back with
// Durable=false so the side effect can still run once.
func (l *Log) Record(ctx context.Context, eventType EventType, params Params, isInternal bool) (Record, error) {
	now := l.now().UTC()
	rec := Record{
		EventID:    ids.New(),
		EventType:  eventType,
		Params:     params,
		IsInternal: isInternal,
		ChannelID:  params.Event.ChannelID,
		ThreadID:   params.Event.ThreadID,
		CreatedAt:  now,
		sequence:   l.seq.Next(),
	}
	if l.disabled {
		return rec, nil
	}
	if err := rec.key().Validate(); err != nil {
		return Record{}, fmt.Errorf("record %s: %w", eventType, err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		l.deadLetter(ctx, rec, &queue.SerializationError{What: string(eventType) + " params", Err: err})
		return rec, nil
	}

	rec.messageID = ids.Timestamp(now)
	item := queue.Item{
		Key:        rec.key(),
		MessageID:  rec.messageID,
		GUID:       rec.EventID,
		Payload:    payload,
		EnqueuedAt: now,
		Sequence:   rec.sequence,
	}
	if err := l.store.Enqueue(ctx, rec.container(), item); err != nil {
		return Record{}, fmt.Errorf("record %s event_id=%s: %w", eventType, rec.EventID, err)
	}
	rec.Durable = true
	return rec, nil
}

// Acknowledge deletes a delivered record. Acknowledging twice is a no-op.
func (l *Log) Acknowledge(ctx context.Context, rec Record) error {
	if !rec.Durable {
		return nil
	}
	item, err := l.itemFor(rec)
	if err != nil {
		return err
	}
	if err := l.store.Dequeue(ctx, rec.container(), rec.key(), item.MessageID, item.GUID); err != nil {
		return fmt.Errorf("acknowledge event_id=%s: %w", rec.EventID, err)
	}
	return nil
}

// Pending lists unacknowledged records of one container in creation order.
func (l *Log) Pending(ctx context.Context, container string) ([]Record, error) {
	items, err := l.store.ListContainer(ctx, container)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", container, err)
	}
	slices.SortStableFunc(items, func(a, b queue.Item) int {
		if a.Sequence != b.Sequence {
			if a.Sequence < b.Sequence {
				return -1
			}
			return 1
		}
		return queue.Compare(a, b)
	})

	out := make([]Record, 0, len(items))
	for _, item := range items {
		var rec Record
		if err := json.Unmarshal(item.Payload, &rec); err != nil {
			serr := &queue.SerializationError{What: "event record", Err: err}
			l.logger.Printf("unreadable event record skipped container=%s key=%s err=%v", container, item.StorageKey(), serr)
			l.discardUnreadable(ctx, container, item, serr)
			continue
		}
		rec.Durable = true
		rec.sequence = item.Sequence
		rec.messageID = item.MessageID
		rec.ChannelID = item.Key.ChannelID
		rec.ThreadID = item.Key.ThreadID
		out = append(out, rec)
	}
	return out, nil
}

// ReplayPending re-executes every unacknowledged record. Each container is replayed in
// creation order on its own goroutine. Records that execute successfully are
// acknowledged; failures stay pending for the next start. It returns the records that
// were replayed successfully.
func (l *Log) ReplayPending(ctx context.Context, exec Executor) ([]Record, error) {
	containers := []string{queue.ContainerInternalEvents, queue.ContainerExternalEvents}
	results := make([][]Record, len(containers))
	errs := make([]error, len(containers))

	var wg sync.WaitGroup
	for i, container := range containers {
		wg.Add(1)
		go func(i int, container string) {
			defer wg.Done()
			results[i], errs[i] = l.replayContainer(ctx, container, exec)
		}(i, container)
	}
	wg.Wait()

	out := make([]Record, 0)
	for i := range containers {
		if errs[i] != nil {
			return out, errs[i]
		}
		out = append(out, results[i]...)
	}
	return out, nil
}

func (l *Log) replayContainer(ctx context.Context, container string, exec Executor) ([]Record, error) {
	pending, err := l.Pending(ctx, container)
	if err != nil {
		return nil, err
	}
	replayed := make([]Record, 0, len(pending))
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		if err := exec(ctx, rec); err != nil {
			l.logger.Printf("replay failed, record kept event_id=%s event_type=%s container=%s err=%v", rec.EventID, rec.EventType, container, err)
			continue
		}
		if err := l.Acknowledge(ctx, rec); err != nil {
			l.logger.Printf("replay acknowledge failed event_id=%s err=%v", rec.EventID, err)
		}
		replayed = append(replayed, rec)
	}
	if len(pending) > 0 {
		l.logger.Printf("replayed event records container=%s pending=%d replayed=%d", container, len(pending), len(replayed))
	}
	return replayed, nil
}

// itemFor rebuilds the storage coordinates of a record.
func (l *Log) itemFor(rec Record) (queue.Item, error) {
	if rec.EventID == "" {
		return queue.Item{}, fmt.Errorf("event record has no id")
	}
	messageID := rec.messageID
	if messageID == "" {
		messageID = ids.Timestamp(rec.CreatedAt)
	}
	return queue.Item{
		Key:       rec.key(),
		MessageID: messageID,
		GUID:      rec.EventID,
	}, nil
}

func (l *Log) deadLetter(ctx context.Context, rec Record, cause error) {
	l.logger.Printf("event record not replayable, dead-lettered event_id=%s event_type=%s err=%v", rec.EventID, rec.EventType, cause)
	entry := deadLetter{
		EventID:    rec.EventID,
		EventType:  rec.EventType,
		IsInternal: rec.IsInternal,
		ChannelID:  rec.ChannelID,
		ThreadID:   rec.ThreadID,
		CreatedAt:  rec.CreatedAt,
		Error:      cause.Error(),
		Summary:    summarize(rec.Params),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("dead-letter encode failed event_id=%s err=%v", rec.EventID, err)
		return
	}
	key := rec.key()
	if key.Validate() != nil {
		key = queue.Key{ChannelID: "unknown", ThreadID: "unknown"}
	}
	item := queue.Item{
		Key:        key,
		MessageID:  ids.Timestamp(rec.CreatedAt),
		GUID:       rec.EventID,
		Payload:    payload,
		EnqueuedAt: rec.CreatedAt,
		Sequence:   rec.sequence,
	}
	if err := l.store.Enqueue(ctx, queue.ContainerDeadLetter, item); err != nil {
		l.logger.Printf("dead-letter write failed event_id=%s err=%v", rec.EventID, err)
	}
}

func (l *Log) discardUnreadable(ctx context.Context, container string, item queue.Item, cause error) {
	dl := queue.Item{
		Key:        item.Key,
		MessageID:  item.MessageID,
		GUID:       item.GUID,
		EnqueuedAt: item.EnqueuedAt,
		Sequence:   item.Sequence,
	}
	payload, _ := json.Marshal(map[string]string{
		"container": container,
		"error":     cause.Error(),
		"raw":       string(item.Payload),
	})
	dl.Payload = payload
	if err := l.store.Enqueue(ctx, queue.ContainerDeadLetter, dl); err != nil {
		l.logger.Printf("dead-letter write failed key=%s err=%v", item.StorageKey(), err)
		return
	}
	if err := l.store.Dequeue(ctx, container, item.Key, item.MessageID, item.GUID); err != nil {
		l.logger.Printf("drop unreadable record failed key=%s err=%v", item.StorageKey(), err)
	}
}

func summarize(p Params) string {
	text := p.Text
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return fmt.Sprintf("platform=%s channel=%s thread=%s message=%s text=%q file=%s reaction=%s remove=%v add=%v extra_keys=%d",
		p.Event.Platform, p.Event.ChannelID, p.Event.ThreadID, p.Event.MessageID,
		text, p.Filename, p.Reaction, p.Remove, p.Add, len(p.Extra))
}
