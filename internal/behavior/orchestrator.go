package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/genai"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/queue"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/session"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/threadqueue"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/turn"
)

const (
	DefaultWaitMessage    = "I'm still working on your previous message, please wait for my answer before sending a new one."
	DefaultApology        = "Sorry, something went wrong while processing your message. Please try again."
	DefaultPausedMessage  = "Bot stopped in this thread. Send the start keyword to resume."
	DefaultResumedMessage = "Bot resumed in this thread."
	DefaultClearedMessage = "Queue cleared for this thread."
	DefaultInterrupted    = "I was interrupted while answering this message. I will pick it up again after restarting."
)

// Messenger is the side-effecting platform surface the orchestrator writes to. Every
// call goes through the event log.
type Messenger interface {
	SendMessage(ctx context.Context, ref messaging.EventRef, text string, messageType messaging.MessageType, isInternal bool) error
	UploadFile(ctx context.Context, ref messaging.EventRef, content []byte, filename, title string, isInternal bool) error
	FetchConversationHistory(ctx context.Context, ref messaging.EventRef, channelID, threadID string) ([]messaging.IncomingEvent, error)
}

// Queue is the admission surface of the per-thread queue engine.
type Queue interface {
	Submit(ctx context.Context, key queue.Key, messageID string, payload []byte) (threadqueue.Result, error)
	Drain(ctx context.Context, key queue.Key) error
}

type Settings struct {
	RequireMentionNewMessage    bool
	RequireMentionThreadMessage bool
	BreakKeyword                string
	StartKeyword                string
	ClearQueueKeyword           string
	AllowedChannels             []string
	HistoryLimit                int
	SystemPrompt                string
	Model                       string
	MaxTokens                   int
	WaitMessage                 string
	ApologyMessage              string
	InterruptedMessage          string
}

type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomePaused    Outcome = "paused"
	OutcomeResumed   Outcome = "resumed"
	OutcomeCleared   Outcome = "cleared"
	OutcomeStarted   Outcome = "started"
	OutcomeQueued    Outcome = "queued"
	OutcomeDiscarded Outcome = "discarded"
)

type Option func(*Orchestrator)

func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithActions(actions *ActionRegistry) Option {
	return func(o *Orchestrator) {
		if actions != nil {
			o.actions = actions
		}
	}
}

// Orchestrator owns the bot's business rules: it gates inbound messages, admits them to
// the per-thread queue and runs each conversation turn when the queue hands it over.
type Orchestrator struct {
	logger    *log.Logger
	settings  Settings
	gate      *gate
	messenger Messenger
	turns     *turn.Machine
	provider  genai.Provider
	sessions  session.Store
	actions   *ActionRegistry
	queue     Queue
	tracer    trace.Tracer
}

func New(settings Settings, messenger Messenger, turns *turn.Machine, provider genai.Provider, sessions session.Store, opts ...Option) (*Orchestrator, error) {
	g, err := newGate(settings)
	if err != nil {
		return nil, err
	}
	if settings.WaitMessage == "" {
		settings.WaitMessage = DefaultWaitMessage
	}
	if settings.ApologyMessage == "" {
		settings.ApologyMessage = DefaultApology
	}
	if settings.InterruptedMessage == "" {
		settings.InterruptedMessage = DefaultInterrupted
	}
	o := &Orchestrator{
		logger:    log.New(io.Discard, "", 0),
		settings:  settings,
		gate:      g,
		messenger: messenger,
		turns:     turns,
		provider:  provider,
		sessions:  sessions,
		actions:   NewActionRegistry(),
		tracer:    otel.Tracer("genaibots/behavior"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Bind connects the queue engine, which is built with the orchestrator's hooks.
func (o *Orchestrator) Bind(q Queue) {
	o.queue = q
}

// EngineOptions returns the engine options that route turn outcomes and wait notices
// back here.
func (o *Orchestrator) EngineOptions() []threadqueue.Option {
	return []threadqueue.Option{
		threadqueue.WithFailureHook(o.OnFailure),
		threadqueue.WithInterruptHook(o.OnInterrupt),
		threadqueue.WithWaitNotifier(o.OnWait),
	}
}

// HandleIncoming applies the gating rules and admits the message to its thread queue.
func (o *Orchestrator) HandleIncoming(ctx context.Context, event messaging.IncomingEvent) (Outcome, error) {
	if event.ThreadID == "" {
		event.ThreadID = event.MessageID
	}
	ref := event.EventRef
	key := session.Key{ChannelID: event.ChannelID, ThreadID: event.ThreadID}

	if event.FromBot {
		return OutcomeIgnored, nil
	}
	if !o.gate.channelAllowed(event.ChannelID) {
		o.logger.Printf("message ignored, channel not allowed channel_id=%s", event.ChannelID)
		return OutcomeIgnored, nil
	}

	switch o.gate.command(event.Text) {
	case commandBreak:
		if err := o.sessions.SetPaused(ctx, key, event.Platform, true); err != nil {
			return "", fmt.Errorf("pause thread: %w", err)
		}
		o.notify(ctx, ref, DefaultPausedMessage)
		return OutcomePaused, nil
	case commandStart:
		if err := o.sessions.SetPaused(ctx, key, event.Platform, false); err != nil {
			return "", fmt.Errorf("resume thread: %w", err)
		}
		o.notify(ctx, ref, DefaultResumedMessage)
		return OutcomeResumed, nil
	case commandClearQueue:
		if o.queue == nil {
			return "", errors.New("queue engine not bound")
		}
		if err := o.queue.Drain(ctx, queue.Key{ChannelID: event.ChannelID, ThreadID: event.ThreadID}); err != nil {
			return "", fmt.Errorf("clear queue: %w", err)
		}
		o.notify(ctx, ref, DefaultClearedMessage)
		return OutcomeCleared, nil
	}

	if o.paused(ctx, key) {
		return OutcomeIgnored, nil
	}
	if !o.gate.mentionSatisfied(event) {
		return OutcomeIgnored, nil
	}
	if o.queue == nil {
		return "", errors.New("queue engine not bound")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", &queue.SerializationError{What: "incoming event", Err: err}
	}
	res, err := o.queue.Submit(ctx, queue.Key{ChannelID: event.ChannelID, ThreadID: event.ThreadID}, event.MessageID, payload)
	if err != nil {
		return "", err
	}

	switch res.Admission {
	case threadqueue.AdmissionQueued:
		if err := o.turns.Queue(ctx, ref); err != nil {
			o.logger.Printf("wait reaction failed channel_id=%s message_id=%s err=%v", ref.ChannelID, ref.MessageID, err)
		}
		return OutcomeQueued, nil
	case threadqueue.AdmissionDiscarded:
		return OutcomeDiscarded, nil
	default:
		return OutcomeStarted, nil
	}
}

// Handle runs one conversation turn. The queue engine calls it for one item per thread
// at a time.
func (o *Orchestrator) Handle(ctx context.Context, item queue.Item) error {
	event, err := decodeEvent(item.Payload)
	if err != nil {
		return err
	}
	ref := event.EventRef

	ctx, span := o.tracer.Start(ctx, "behavior.turn", trace.WithAttributes(
		attribute.String("platform", ref.Platform),
		attribute.String("channel_id", ref.ChannelID),
		attribute.String("thread_id", ref.ThreadID),
		attribute.String("message_id", ref.MessageID),
	))
	defer span.End()

	err = o.runTurn(ctx, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *Orchestrator) runTurn(ctx context.Context, event messaging.IncomingEvent) error {
	ref := event.EventRef
	key := session.Key{ChannelID: event.ChannelID, ThreadID: event.ThreadID}
	o.react(ctx, ref, o.turns.Admit)

	messages := o.history(ctx, event)
	messages = append(messages, genai.Message{Role: genai.RoleUser, Content: event.Text})

	o.react(ctx, ref, o.turns.BeginGeneration)
	completion, err := o.provider.GenerateCompletion(ctx, messages, genai.Context{
		ChannelID:    event.ChannelID,
		ThreadID:     event.ThreadID,
		UserID:       event.UserID,
		SystemPrompt: o.settings.SystemPrompt,
		Model:        o.settings.Model,
		MaxTokens:    o.settings.MaxTokens,
	})
	if err != nil {
		return err
	}
	o.react(ctx, ref, o.turns.EndGeneration)

	replied := false
	for _, action := range ParseActions(completion.Text) {
		sent, err := o.execute(ctx, event, action)
		if err != nil {
			return fmt.Errorf("action %s: %w", action.Name, err)
		}
		replied = replied || sent
	}
	if replied {
		o.react(ctx, ref, o.turns.Delivered)
	} else {
		o.react(ctx, ref, o.turns.CompleteNoAction)
	}

	entries := []session.Entry{
		{Role: genai.RoleUser, Content: event.Text, MessageID: event.MessageID},
		{Role: genai.RoleAssistant, Content: completion.Text},
	}
	thread, err := o.sessions.RecordTurn(ctx, key, event.Platform, entries, completion.Cost)
	if err != nil {
		o.logger.Printf("record turn failed channel_id=%s thread_id=%s err=%v", key.ChannelID, key.ThreadID, err)
		return nil
	}
	o.logger.Printf("turn done channel_id=%s thread_id=%s message_id=%s tokens=%d thread_tokens=%d thread_cost=%.6f",
		key.ChannelID, key.ThreadID, event.MessageID, completion.Cost.TotalTokens, thread.Cost.TotalTokens, thread.Cost.TotalPrice())
	return nil
}

// execute runs one action and reports whether something was written back to the user.
func (o *Orchestrator) execute(ctx context.Context, event messaging.IncomingEvent, action Action) (bool, error) {
	ref := replyRef(event)
	switch action.Name {
	case ActionNoAction:
		return false, nil
	case ActionUserInteraction:
		text := strings.TrimSpace(action.String("value"))
		if text == "" {
			return false, nil
		}
		o.react(ctx, event.EventRef, o.turns.BeginWriting)
		return true, o.messenger.SendMessage(ctx, ref, text, messaging.MessageTypeMarkdown, false)
	case ActionUploadFile:
		filename := action.String("filename")
		if filename == "" {
			filename = "file.txt"
		}
		o.react(ctx, event.EventRef, o.turns.BeginWriting)
		return true, o.messenger.UploadFile(ctx, ref, decodeFileContent(action.String("file_content")), filename, action.String("title"), false)
	}

	handler, err := o.actions.Resolve(action.Name)
	if err != nil {
		return false, err
	}
	o.react(ctx, event.EventRef, o.turns.BeginAction)
	err = handler.Execute(ctx, ActionContext{Event: event, Messenger: o.messenger}, action)
	o.react(ctx, event.EventRef, o.turns.EndAction)
	return false, err
}

// OnFailure reports a failed turn: the reaction goes to ERROR, an internal diagnostic
// carries the error and the user gets a generic apology.
func (o *Orchestrator) OnFailure(ctx context.Context, item queue.Item, cause error) {
	event, err := decodeEvent(item.Payload)
	if err != nil {
		o.logger.Printf("failed item has unreadable payload key=%s err=%v cause=%v", item.StorageKey(), err, cause)
		return
	}
	ref := event.EventRef
	o.react(ctx, ref, o.turns.Fail)

	diagnostic := fmt.Sprintf("Error while processing message_id=%s in channel_id=%s thread_id=%s: %v", ref.MessageID, ref.ChannelID, ref.ThreadID, cause)
	if err := o.messenger.SendMessage(ctx, replyRef(event), diagnostic, messaging.MessageTypeText, true); err != nil {
		o.logger.Printf("internal diagnostic failed message_id=%s err=%v", ref.MessageID, err)
	}
	if err := o.messenger.SendMessage(ctx, replyRef(event), o.settings.ApologyMessage, messaging.MessageTypeText, false); err != nil {
		o.logger.Printf("apology failed message_id=%s err=%v", ref.MessageID, err)
	}
}

// OnInterrupt tells the thread that a turn was cut short by shutdown. The item stays
// queued and runs again after the next Recover.
func (o *Orchestrator) OnInterrupt(ctx context.Context, item queue.Item) {
	event, err := decodeEvent(item.Payload)
	if err != nil {
		o.logger.Printf("interrupted item has unreadable payload key=%s err=%v", item.StorageKey(), err)
		return
	}
	ref := event.EventRef
	o.react(ctx, ref, o.turns.Interrupt)

	notice := fmt.Sprintf("Shutdown interrupted message_id=%s in channel_id=%s thread_id=%s, kept for replay", ref.MessageID, ref.ChannelID, ref.ThreadID)
	if err := o.messenger.SendMessage(ctx, replyRef(event), notice, messaging.MessageTypeText, true); err != nil {
		o.logger.Printf("internal interrupt notice failed message_id=%s err=%v", ref.MessageID, err)
	}
	if err := o.messenger.SendMessage(ctx, replyRef(event), o.settings.InterruptedMessage, messaging.MessageTypeComment, false); err != nil {
		o.logger.Printf("interrupt notice failed message_id=%s err=%v", ref.MessageID, err)
	}
}

// OnWait answers a message dropped in degraded mode.
func (o *Orchestrator) OnWait(ctx context.Context, key queue.Key, messageID string, payload []byte) {
	event, err := decodeEvent(payload)
	if err != nil {
		event = messaging.IncomingEvent{EventRef: messaging.EventRef{ChannelID: key.ChannelID, ThreadID: key.ThreadID, MessageID: messageID}}
	}
	if err := o.messenger.SendMessage(ctx, replyRef(event), o.settings.WaitMessage, messaging.MessageTypeComment, false); err != nil {
		o.logger.Printf("wait notice failed channel_id=%s thread_id=%s err=%v", key.ChannelID, key.ThreadID, err)
	}
}

// history prefers the stored conversation and falls back to the platform for threads the
// bot has not seen yet.
func (o *Orchestrator) history(ctx context.Context, event messaging.IncomingEvent) []genai.Message {
	key := session.Key{ChannelID: event.ChannelID, ThreadID: event.ThreadID}
	stored, err := o.sessions.History(ctx, key, o.settings.HistoryLimit)
	if err != nil {
		o.logger.Printf("load history failed channel_id=%s thread_id=%s err=%v", key.ChannelID, key.ThreadID, err)
	}
	out := make([]genai.Message, 0, len(stored))
	for _, m := range stored {
		out = append(out, m.Message())
	}
	if len(out) > 0 || !event.IsThreadReply() {
		return out
	}

	platform, err := o.messenger.FetchConversationHistory(ctx, event.EventRef, event.ChannelID, event.ThreadID)
	if err != nil {
		o.logger.Printf("fetch platform history failed channel_id=%s thread_id=%s err=%v", key.ChannelID, key.ThreadID, err)
		return out
	}
	for _, m := range platform {
		if m.MessageID != "" && m.MessageID == event.MessageID {
			continue
		}
		role := genai.RoleUser
		if m.FromBot {
			role = genai.RoleAssistant
		}
		out = append(out, genai.Message{Role: role, Content: m.Text})
	}
	if limit := o.settings.HistoryLimit; limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (o *Orchestrator) paused(ctx context.Context, key session.Key) bool {
	thread, err := o.sessions.GetThread(ctx, key)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			o.logger.Printf("thread state lookup failed channel_id=%s thread_id=%s err=%v", key.ChannelID, key.ThreadID, err)
		}
		return false
	}
	return thread.Paused
}

func (o *Orchestrator) notify(ctx context.Context, ref messaging.EventRef, text string) {
	if err := o.messenger.SendMessage(ctx, ref, text, messaging.MessageTypeComment, false); err != nil {
		o.logger.Printf("notice failed channel_id=%s thread_id=%s err=%v", ref.ChannelID, ref.ThreadID, err)
	}
}

// react fires a reaction transition. Reaction failures are logged and never fail the
// turn.
func (o *Orchestrator) react(ctx context.Context, ref messaging.EventRef, fire func(context.Context, messaging.EventRef) error) {
	if err := fire(ctx, ref); err != nil {
		o.logger.Printf("reaction update failed channel_id=%s message_id=%s err=%v", ref.ChannelID, ref.MessageID, err)
	}
}

func replyRef(event messaging.IncomingEvent) messaging.EventRef {
	ref := event.EventRef
	if ref.ThreadID == "" {
		ref.ThreadID = ref.MessageID
	}
	return ref
}

func decodeEvent(payload []byte) (messaging.IncomingEvent, error) {
	var event messaging.IncomingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return messaging.IncomingEvent{}, &queue.SerializationError{What: "queued event", Err: err}
	}
	return event, nil
}
