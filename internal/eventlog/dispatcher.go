package eventlog

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
)

// Dispatcher routes every side-effecting platform call through the log: record, run
// on the platform named by the event reference, then acknowledge. Replay uses the same
// execution path.
type Dispatcher struct {
	logger   *log.Logger
	log      *Log
	adapters *messaging.Registry
}

func NewDispatcher(logger *log.Logger, l *Log, adapters *messaging.Registry) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{logger: logger, log: l, adapters: adapters}
}

func (d *Dispatcher) SendMessage(ctx context.Context, ref messaging.EventRef, text string, messageType messaging.MessageType, isInternal bool) error {
	return d.dispatch(ctx, EventSendMessage, Params{Event: ref, Text: text, MessageType: messageType}, isInternal)
}

func (d *Dispatcher) UploadFile(ctx context.Context, ref messaging.EventRef, content []byte, filename, title string, isInternal bool) error {
	return d.dispatch(ctx, EventUploadFile, Params{Event: ref, Content: content, Filename: filename, Title: title}, isInternal)
}

func (d *Dispatcher) AddReaction(ctx context.Context, ref messaging.EventRef, channelID, timestamp, reaction string) error {
	return d.dispatch(ctx, EventAddReaction, Params{Event: ref, ChannelID: channelID, Timestamp: timestamp, Reaction: reaction}, false)
}

func (d *Dispatcher) RemoveReaction(ctx context.Context, ref messaging.EventRef, channelID, timestamp, reaction string) error {
	return d.dispatch(ctx, EventRemoveReaction, Params{Event: ref, ChannelID: channelID, Timestamp: timestamp, Reaction: reaction}, false)
}

// RemoveReactionFromThread removes a reaction from the thread's root message.
func (d *Dispatcher) RemoveReactionFromThread(ctx context.Context, ref messaging.EventRef, reaction string) error {
	return d.dispatch(ctx, EventRemoveReactionFromThread, Params{Event: ref, ChannelID: ref.ChannelID, Timestamp: ref.ThreadID, Reaction: reaction}, false)
}

func (d *Dispatcher) UpdateReactions(ctx context.Context, ref messaging.EventRef, channelID, timestamp string, remove, add []string) error {
	if len(remove) == 0 && len(add) == 0 {
		return nil
	}
	return d.dispatch(ctx, EventUpdateReactions, Params{Event: ref, ChannelID: channelID, Timestamp: timestamp, Remove: remove, Add: add}, false)
}

// FetchConversationHistory reads from the platform directly; reads are not recorded.
func (d *Dispatcher) FetchConversationHistory(ctx context.Context, ref messaging.EventRef, channelID, threadID string) ([]messaging.IncomingEvent, error) {
	adapter, err := d.adapters.Resolve(ref.Platform)
	if err != nil {
		return nil, err
	}
	return adapter.FetchConversationHistory(ctx, ref, channelID, threadID)
}

// Replay re-executes records left pending by a previous run.
func (d *Dispatcher) Replay(ctx context.Context) ([]Record, error) {
	return d.log.ReplayPending(ctx, d.Execute)
}

// Execute performs the platform call a record describes.
func (d *Dispatcher) Execute(ctx context.Context, rec Record) error {
	p := rec.Params
	adapter, err := d.adapters.Resolve(p.Event.Platform)
	if err != nil {
		return err
	}

	switch rec.EventType {
	case EventSendMessage:
		return adapter.SendMessage(ctx, p.Event, p.Text, p.MessageType, rec.IsInternal)
	case EventUploadFile:
		return adapter.UploadFile(ctx, p.Event, p.Content, p.Filename, p.Title, rec.IsInternal)
	case EventAddReaction:
		return adapter.AddReaction(ctx, p.Event, p.ChannelID, p.Timestamp, p.Reaction)
	case EventRemoveReaction, EventRemoveReactionFromThread:
		return adapter.RemoveReaction(ctx, p.Event, p.ChannelID, p.Timestamp, p.Reaction)
	case EventUpdateReactions:
		return messaging.UpdateReactions(ctx, adapter, p.Event, p.ChannelID, p.Timestamp, p.Remove, p.Add)
	default:
		return fmt.Errorf("unknown event type %q", rec.EventType)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, eventType EventType, params Params, isInternal bool) error {
	rec, err := d.log.Record(ctx, eventType, params, isInternal)
	if err != nil {
		return err
	}
	if err := d.Execute(ctx, rec); err != nil {
		return fmt.Errorf("%s event_id=%s: %w", eventType, rec.EventID, err)
	}
	if err := d.log.Acknowledge(ctx, rec); err != nil {
		d.logger.Printf("acknowledge failed, record will replay event_id=%s event_type=%s err=%v", rec.EventID, eventType, err)
	}
	return nil
}
