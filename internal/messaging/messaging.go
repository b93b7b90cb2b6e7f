package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/registry"
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeMarkdown MessageType = "markdown"
	MessageTypeComment  MessageType = "comment"
)

// EventRef points at one message on one platform. MessageID is the platform's message
// timestamp or snowflake and doubles as the queue ordering value.
type EventRef struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id,omitempty"`
	UserName  string `json:"user_name,omitempty"`
}

type IncomingEvent struct {
	EventRef
	Text       string         `json:"text"`
	IsMention  bool           `json:"is_mention,omitempty"`
	FromBot    bool           `json:"from_bot,omitempty"`
	IsDirect   bool           `json:"is_direct,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IsThreadReply reports whether the message answers an existing thread rather than
// starting one.
func (e IncomingEvent) IsThreadReply() bool {
	return e.ThreadID != "" && e.ThreadID != e.MessageID
}

// Adapter is the capability set every messaging platform provides. Removing a reaction
// that is not present must succeed.
type Adapter interface {
	Name() string
	SendMessage(ctx context.Context, ref EventRef, text string, messageType MessageType, isInternal bool) error
	UploadFile(ctx context.Context, ref EventRef, content []byte, filename, title string, isInternal bool) error
	AddReaction(ctx context.Context, ref EventRef, channelID, timestamp, reaction string) error
	RemoveReaction(ctx context.Context, ref EventRef, channelID, timestamp, reaction string) error
	FetchConversationHistory(ctx context.Context, ref EventRef, channelID, threadID string) ([]IncomingEvent, error)
}

// BatchReactor is implemented by adapters that can swap several reactions in one call.
type BatchReactor interface {
	UpdateReactions(ctx context.Context, ref EventRef, channelID, timestamp string, remove, add []string) error
}

// UpdateReactions applies removals then additions, in one call when the adapter
// supports batching.
func UpdateReactions(ctx context.Context, adapter Adapter, ref EventRef, channelID, timestamp string, remove, add []string) error {
	if batch, ok := adapter.(BatchReactor); ok {
		return batch.UpdateReactions(ctx, ref, channelID, timestamp, remove, add)
	}
	var errs []error
	for _, name := range remove {
		if err := adapter.RemoveReaction(ctx, ref, channelID, timestamp, name); err != nil {
			errs = append(errs, fmt.Errorf("remove reaction %s: %w", name, err))
		}
	}
	for _, name := range add {
		if err := adapter.AddReaction(ctx, ref, channelID, timestamp, name); err != nil {
			errs = append(errs, fmt.Errorf("add reaction %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

type Registry = registry.Registry[Adapter]

func NewRegistry() *Registry {
	return registry.New[Adapter]("messaging")
}
