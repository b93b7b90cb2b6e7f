package threadqueue

import (
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"io"
	"log"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/ids"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/queue"
)

var (
	ErrDiscarded = errors.New("event discarded while thread is busy")
	ErrClosed    = errors.New("thread queue engine closed")
)

const (
	cleanupTimeout   = 10 * time.Second
	interruptTimeout = 5 * time.Second
	admitStripes     = 64
)

// Handler processes one item. It is never invoked concurrently for the same key.
type Handler func(ctx context.Context, item queue.Item) error

// FailureHook observes items whose handler returned an error or panicked. The item is
// dequeued after the hook returns.
type FailureHook func(ctx context.Context, item queue.Item, err error)

// WaitNotifier is called when an event is discarded in degraded mode, at most once per
// busy period per key.
type WaitNotifier func(ctx context.Context, key queue.Key, messageID string, payload []byte)

// InterruptHook observes items whose handler was cancelled by Close. The item stays in
// the store for the next Recover. ctx survives the shutdown for a short grace period.
type InterruptHook func(ctx context.Context, item queue.Item)

type Admission int

const (
	AdmissionStarted Admission = iota
	AdmissionQueued
	AdmissionDiscarded
)

func (a Admission) String() string {
	switch a {
	case AdmissionStarted:
		return "started"
	case AdmissionQueued:
		return "queued"
	case AdmissionDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("admission(%d)", int(a))
	}
}

type Result struct {
	Admission Admission
	GUID      string
}

type Option func(*Engine)

func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithFailureHook(hook FailureHook) Option {
	return func(e *Engine) { e.onFailure = hook }
}

func WithWaitNotifier(notify WaitNotifier) Option {
	return func(e *Engine) { e.notifyWait = notify }
}

func WithInterruptHook(hook InterruptHook) Option {
	return func(e *Engine) { e.onInterrupt = hook }
}

// WithTTL sets the expiry applied by Sweep. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

// WithAtMostOnePending enables degraded mode: an event arriving for a busy key is
// discarded instead of queued.
func WithAtMostOnePending(enabled bool) Option {
	return func(e *Engine) { e.atMostOnePending = enabled }
}

// WithSweepContainers adds containers that Sweep expires with their own ttl, besides the
// engine's container. A non-positive ttl leaves them alone.
func WithSweepContainers(ttl time.Duration, containers ...string) Option {
	return func(e *Engine) {
		if ttl <= 0 {
			return
		}
		for _, c := range containers {
			e.sweepContainers = append(e.sweepContainers, sweepTarget{container: c, ttl: ttl})
		}
	}
}

func WithContainer(container string) Option {
	return func(e *Engine) {
		if container != "" {
			e.container = container
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs one consumer goroutine per active key on top of a durable queue.Store.
type Engine struct {
	logger           *log.Logger
	store            queue.Store
	container        string
	sweepContainers  []sweepTarget
	handler          Handler
	onFailure        FailureHook
	onInterrupt      InterruptHook
	notifyWait       WaitNotifier
	ttl              time.Duration
	atMostOnePending bool
	metrics          *Metrics
	tracer           trace.Tracer
	now              func() time.Time
	seq              *ids.Sequencer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// admit serializes Submit per key stripe, so the store check and the schedule
	// decision of one submission are not interleaved with another's.
	admit     [admitStripes]sync.Mutex
	admitSeed maphash.Seed

	mu        sync.Mutex
	keys      map[queue.Key]*keyState
	cleanup   map[string]queue.Item
	inTransit map[string]struct{}
	closed    bool
}

type scheduleResult int

const (
	// scheduleStarted means the item is next in line with nothing in flight for its key.
	scheduleStarted scheduleResult = iota
	scheduleQueued
	scheduleBusy
	scheduleDuplicate
	scheduleClosed
)

type sweepTarget struct {
	container string
	ttl       time.Duration
}

type keyState struct {
	pending      []queue.Item
	inFlight     *queue.Item
	waitNotified bool
}

func New(store queue.Store, handler Handler, opts ...Option) *Engine {
	e := &Engine{
		logger:    log.New(io.Discard, "", 0),
		store:     store,
		container: queue.ContainerMessages,
		handler:   handler,
		tracer:    otel.Tracer("genaibots/threadqueue"),
		now:       time.Now,
		keys:      make(map[queue.Key]*keyState),
		cleanup:   make(map[string]queue.Item),
		inTransit: make(map[string]struct{}),
		admitSeed: maphash.MakeSeed(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.seq = ids.NewSequencer(e.now)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// Submit is the admission entry point. The item is started only when schedule finds its
// key idle and the store holds nothing ordered before messageID. Every other accepted
// item is queued.
func (e *Engine) Submit(ctx context.Context, key queue.Key, messageID string, payload []byte) (Result, error) {
	lock := e.admitLock(key)
	lock.Lock()
	defer lock.Unlock()

	older := false
	if !e.busyInMemory(key) {
		var err error
		older, err = e.HasOlderMessages(ctx, key, messageID)
		if err != nil {
			e.logger.Printf("admission check failed channel_id=%s thread_id=%s message_id=%s err=%v", key.ChannelID, key.ThreadID, messageID, err)
		}
	}

	guid, started, err := e.enqueue(ctx, key, messageID, payload)
	if errors.Is(err, ErrDiscarded) {
		return Result{Admission: AdmissionDiscarded}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if started && !older {
		return Result{Admission: AdmissionStarted, GUID: guid}, nil
	}
	return Result{Admission: AdmissionQueued, GUID: guid}, nil
}

// Enqueue writes the item durably, then schedules it on the key's worker. It returns the
// generated GUID. A failed durable write returns a *queue.StorageError and schedules
// nothing.
func (e *Engine) Enqueue(ctx context.Context, key queue.Key, messageID string, payload []byte) (string, error) {
	guid, _, err := e.enqueue(ctx, key, messageID, payload)
	return guid, err
}

// enqueue also reports whether schedule put the item first on an idle key.
func (e *Engine) enqueue(ctx context.Context, key queue.Key, messageID string, payload []byte) (string, bool, error) {
	if err := key.Validate(); err != nil {
		return "", false, err
	}
	if e.atMostOnePending && e.busyInMemory(key) {
		e.discard(ctx, key, messageID, payload)
		return "", false, ErrDiscarded
	}

	item := queue.Item{
		Key:        key,
		MessageID:  messageID,
		GUID:       ids.New(),
		Payload:    payload,
		EnqueuedAt: e.now().UTC(),
		Sequence:   e.seq.Next(),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", false, ErrClosed
	}
	e.inTransit[item.StorageKey()] = struct{}{}
	e.mu.Unlock()

	if err := e.store.Enqueue(ctx, e.container, item); err != nil {
		e.mu.Lock()
		delete(e.inTransit, item.StorageKey())
		e.mu.Unlock()
		return "", false, fmt.Errorf("enqueue channel_id=%s thread_id=%s message_id=%s: %w", key.ChannelID, key.ThreadID, messageID, err)
	}
	if e.metrics != nil {
		e.metrics.EnqueueTotal.WithLabelValues(e.container).Inc()
	}

	res := e.schedule(item, e.atMostOnePending)
	switch res {
	case scheduleClosed:
		// Stored but not scheduled; the next Recover picks it up.
		return "", false, ErrClosed
	case scheduleBusy:
		// Lost the race for the single slot; the durable record goes too.
		if err := e.store.Dequeue(ctx, e.container, key, item.MessageID, item.GUID); err != nil {
			e.logger.Printf("drop discarded item failed channel_id=%s thread_id=%s message_id=%s err=%v", key.ChannelID, key.ThreadID, messageID, err)
		}
		e.discard(ctx, key, messageID, payload)
		return "", false, ErrDiscarded
	}
	return item.GUID, res == scheduleStarted, nil
}

func (e *Engine) admitLock(key queue.Key) *sync.Mutex {
	h := maphash.String(e.admitSeed, key.ChannelID+"\x00"+key.ThreadID)
	return &e.admit[h%admitStripes]
}

func (e *Engine) HasOlderMessages(ctx context.Context, key queue.Key, messageID string) (bool, error) {
	return e.store.HasOlder(ctx, e.container, key, queue.At(messageID))
}

// Dequeue removes the durable record. Removing a missing item is not an error.
func (e *Engine) Dequeue(ctx context.Context, key queue.Key, messageID, guid string) error {
	return e.store.Dequeue(ctx, e.container, key, messageID, guid)
}

func (e *Engine) GetNext(ctx context.Context, key queue.Key, messageID string) (queue.Item, bool, error) {
	return e.store.GetNext(ctx, e.container, key, queue.At(messageID))
}

func (e *Engine) List(ctx context.Context, key queue.Key) ([]queue.Item, error) {
	return e.store.List(ctx, e.container, key)
}

// InFlight returns the item whose handler is currently running for key.
func (e *Engine) InFlight(key queue.Key) (queue.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.keys[key]
	if !ok || st.inFlight == nil {
		return queue.Item{}, false
	}
	return *st.inFlight, true
}

// Drain removes every queued item for key, in memory and in the store. An in-flight
// handler is not interrupted.
func (e *Engine) Drain(ctx context.Context, key queue.Key) error {
	e.mu.Lock()
	dropped := 0
	if st, ok := e.keys[key]; ok {
		dropped = len(st.pending)
		st.pending = nil
	}
	e.mu.Unlock()

	if err := e.store.Clear(ctx, e.container, key); err != nil {
		return fmt.Errorf("drain channel_id=%s thread_id=%s: %w", key.ChannelID, key.ThreadID, err)
	}
	e.logger.Printf("queue drained channel_id=%s thread_id=%s dropped_in_memory=%d", key.ChannelID, key.ThreadID, dropped)
	return nil
}

// Recover schedules every stored item of the engine's container without rewriting it.
// It is meant to run once at startup, before new events are accepted.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	items, err := e.store.ListContainer(ctx, e.container)
	if err != nil {
		return 0, fmt.Errorf("recover %s: %w", e.container, err)
	}
	scheduled := 0
	for _, item := range items {
		if e.ttl > 0 && item.Expired(e.now(), e.ttl) {
			continue
		}
		if res := e.schedule(item, false); res == scheduleStarted || res == scheduleQueued {
			scheduled++
		}
	}
	if scheduled > 0 {
		e.logger.Printf("recovered queued items container=%s count=%d", e.container, scheduled)
	}
	return scheduled, nil
}

// Sweep retries failed deletions and expires items older than the TTL. Store errors
// are logged and returned joined; a failing container does not stop the others.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	var errs []error

	e.mu.Lock()
	retry := make([]queue.Item, 0, len(e.cleanup))
	for _, item := range e.cleanup {
		retry = append(retry, item)
	}
	e.mu.Unlock()
	for _, item := range retry {
		if err := e.store.Dequeue(ctx, e.container, item.Key, item.MessageID, item.GUID); err != nil {
			e.logger.Printf("cleanup retry failed channel_id=%s thread_id=%s message_id=%s err=%v", item.Key.ChannelID, item.Key.ThreadID, item.MessageID, err)
			errs = append(errs, err)
			continue
		}
		e.mu.Lock()
		delete(e.cleanup, item.StorageKey())
		e.mu.Unlock()
	}
	e.updateCleanupGauge()

	now := e.now()
	targets := e.sweepContainers
	if e.ttl > 0 {
		e.mu.Lock()
		for _, st := range e.keys {
			st.pending = slices.DeleteFunc(st.pending, func(item queue.Item) bool {
				return item.Expired(now, e.ttl)
			})
		}
		e.mu.Unlock()
		targets = append([]sweepTarget{{container: e.container, ttl: e.ttl}}, targets...)
	}

	total := 0
	for _, target := range targets {
		removed, err := e.store.CleanupExpired(ctx, target.container, nil, queue.Cutoff(now, target.ttl))
		if err != nil {
			e.logger.Printf("ttl sweep failed container=%s err=%v", target.container, err)
			errs = append(errs, err)
			continue
		}
		if removed > 0 {
			e.logger.Printf("ttl sweep removed container=%s count=%d", target.container, removed)
			if e.metrics != nil {
				e.metrics.SweepRemoved.WithLabelValues(target.container).Add(float64(removed))
			}
		}
		total += removed
	}
	return total, errors.Join(errs...)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = e.Sweep(ctx)
		}
	}
}

// Close stops accepting work and cancels running handlers. Items whose handler was
// cancelled stay in the store for the next Recover.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for thread workers: %w", ctx.Err())
	}
}

func (e *Engine) busyInMemory(key queue.Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.keys[key]
	return ok && (st.inFlight != nil || len(st.pending) > 0)
}

func (e *Engine) discard(ctx context.Context, key queue.Key, messageID string, payload []byte) {
	if e.metrics != nil {
		e.metrics.DiscardTotal.Inc()
	}
	e.mu.Lock()
	notify := false
	if st, ok := e.keys[key]; ok && !st.waitNotified {
		st.waitNotified = true
		notify = true
	}
	e.mu.Unlock()

	e.logger.Printf("event discarded, thread busy channel_id=%s thread_id=%s message_id=%s notify=%t", key.ChannelID, key.ThreadID, messageID, notify)
	if notify && e.notifyWait != nil {
		e.notifyWait(ctx, key, messageID, payload)
	}
}

// schedule adds item to its key's pending list and starts the worker when idle. With
// exclusive set it refuses when the key already has work. Items already known by GUID
// are ignored. The admission decision is made here, under e.mu.
func (e *Engine) schedule(item queue.Item, exclusive bool) scheduleResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inTransit, item.StorageKey())
	if e.closed {
		return scheduleClosed
	}

	st, running := e.keys[item.Key]
	if running && exclusive && (st.inFlight != nil || len(st.pending) > 0) {
		return scheduleBusy
	}
	if running && e.knownLocked(st, item) {
		return scheduleDuplicate
	}
	if !running {
		if _, done := e.cleanup[item.StorageKey()]; done {
			return scheduleDuplicate
		}
		st = &keyState{}
		e.keys[item.Key] = st
	}
	idx, _ := slices.BinarySearchFunc(st.pending, item, queue.Compare)
	st.pending = slices.Insert(st.pending, idx, item)

	if running {
		// a worker winding down after its last item picks this one up next
		if st.inFlight == nil && len(st.pending) == 1 {
			return scheduleStarted
		}
		return scheduleQueued
	}
	e.wg.Add(1)
	go e.run(item.Key)
	return scheduleStarted
}

func (e *Engine) knownLocked(st *keyState, item queue.Item) bool {
	if st.inFlight != nil && st.inFlight.GUID == item.GUID && st.inFlight.MessageID == item.MessageID {
		return true
	}
	if _, ok := e.cleanup[item.StorageKey()]; ok {
		return true
	}
	for _, p := range st.pending {
		if p.GUID == item.GUID && p.MessageID == item.MessageID {
			return true
		}
	}
	return false
}

func (e *Engine) run(key queue.Key) {
	defer e.wg.Done()
	var last *queue.Cursor
	for {
		item, ok := e.next(key, last)
		if !ok {
			return
		}
		if !e.process(item) {
			e.release(key)
			return
		}
		cursor := item.Cursor()
		last = &cursor
	}
}

// next pops the oldest pending item for key. When memory is empty it polls the store
// once for an item after last that this process has not seen, and retires the worker
// if there is none. Items still between their durable write and schedule are left to
// their Enqueue call.
func (e *Engine) next(key queue.Key, last *queue.Cursor) (queue.Item, bool) {
	polled := false
	for {
		e.mu.Lock()
		st := e.keys[key]
		if len(st.pending) > 0 && e.ctx.Err() == nil {
			item := st.pending[0]
			st.pending = st.pending[1:]
			st.inFlight = &item
			e.mu.Unlock()
			return item, true
		}
		if polled || last == nil || e.ctx.Err() != nil {
			delete(e.keys, key)
			e.mu.Unlock()
			return queue.Item{}, false
		}
		e.mu.Unlock()

		polled = true
		item, ok, err := e.store.GetNext(e.ctx, e.container, key, *last)
		if err != nil {
			e.logger.Printf("poll next failed channel_id=%s thread_id=%s err=%v", key.ChannelID, key.ThreadID, err)
			continue
		}
		if !ok {
			continue
		}
		e.mu.Lock()
		_, transit := e.inTransit[item.StorageKey()]
		if !transit && !e.knownLocked(st, item) {
			idx, _ := slices.BinarySearchFunc(st.pending, item, queue.Compare)
			st.pending = slices.Insert(st.pending, idx, item)
		}
		e.mu.Unlock()
	}
}

func (e *Engine) release(key queue.Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.keys, key)
}

// process runs the handler for one item and dequeues it. It returns false when the
// engine is shutting down and the item was left in the store.
func (e *Engine) process(item queue.Item) bool {
	ctx, span := e.tracer.Start(e.ctx, "threadqueue.process", trace.WithAttributes(
		attribute.String("channel_id", item.Key.ChannelID),
		attribute.String("thread_id", item.Key.ThreadID),
		attribute.String("message_id", item.MessageID),
	))
	defer span.End()

	if e.metrics != nil {
		e.metrics.InFlight.Inc()
		defer e.metrics.InFlight.Dec()
	}
	started := time.Now()
	err := e.invoke(ctx, item)
	if e.metrics != nil {
		e.metrics.HandlerSeconds.Observe(time.Since(started).Seconds())
	}

	if err != nil && e.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		e.logger.Printf("handler cancelled by shutdown, item kept channel_id=%s thread_id=%s message_id=%s", item.Key.ChannelID, item.Key.ThreadID, item.MessageID)
		span.SetStatus(codes.Error, "cancelled")
		e.interrupted(item)
		return false
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Printf("handler failed channel_id=%s thread_id=%s message_id=%s err=%v", item.Key.ChannelID, item.Key.ThreadID, item.MessageID, err)
		if e.metrics != nil {
			e.metrics.HandlerFailures.Inc()
		}
		if e.onFailure != nil {
			e.onFailure(ctx, item, err)
		}
	}

	e.complete(item)
	return true
}

func (e *Engine) interrupted(item queue.Item) {
	if e.onInterrupt == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), interruptTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("interrupt hook panic channel_id=%s thread_id=%s message_id=%s panic=%v", item.Key.ChannelID, item.Key.ThreadID, item.MessageID, r)
		}
	}()
	e.onInterrupt(ctx, item)
}

func (e *Engine) invoke(ctx context.Context, item queue.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("handler panic channel_id=%s thread_id=%s message_id=%s panic=%v\n%s", item.Key.ChannelID, item.Key.ThreadID, item.MessageID, r, debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return e.handler(ctx, item)
}

// complete removes the durable record and clears the in-flight slot. A failed delete
// is remembered for Sweep and does not hold up the key.
func (e *Engine) complete(item queue.Item) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), cleanupTimeout)
	defer cancel()

	outcome := "ok"
	if err := e.store.Dequeue(ctx, e.container, item.Key, item.MessageID, item.GUID); err != nil {
		outcome = "deferred"
		e.logger.Printf("dequeue failed, retrying on sweep channel_id=%s thread_id=%s message_id=%s err=%v", item.Key.ChannelID, item.Key.ThreadID, item.MessageID, err)
		e.mu.Lock()
		e.cleanup[item.StorageKey()] = item
		e.mu.Unlock()
		e.updateCleanupGauge()
	}
	if e.metrics != nil {
		e.metrics.DequeueTotal.WithLabelValues(outcome).Inc()
	}

	e.mu.Lock()
	if st, ok := e.keys[item.Key]; ok {
		st.inFlight = nil
	}
	e.mu.Unlock()
}

func (e *Engine) updateCleanupGauge() {
	if e.metrics == nil {
		return
	}
	e.mu.Lock()
	n := len(e.cleanup)
	e.mu.Unlock()
	e.metrics.CleanupPending.Set(float64(n))
}
