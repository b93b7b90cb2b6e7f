package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
)

const (
	Platform       = "discord"
	maxMessageSize = 2000
	historyLimit   = 100
)

// Session is the part of *discordgo.Session the adapter calls.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

var defaultEmoji = map[string]string{
	"eyes":             "👀",
	"hourglass":        "⏳",
	"gear":             "⚙️",
	"brain":            "🧠",
	"pencil2":          "✏️",
	"white_check_mark": "✅",
	"red_circle":       "🔴",
}

type Option func(*Adapter)

func WithLogger(logger *log.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithInternalChannel sets where internal diagnostics are posted. Without it internal
// messages are only logged.
func WithInternalChannel(channelID string) Option {
	return func(a *Adapter) { a.internalChannelID = strings.TrimSpace(channelID) }
}

// WithBotUserID is the user whose reactions RemoveReaction deletes; "@me" by default.
func WithBotUserID(userID string) Option {
	return func(a *Adapter) {
		if id := strings.TrimSpace(userID); id != "" {
			a.botUserID = id
		}
	}
}

type Adapter struct {
	session           Session
	logger            *log.Logger
	internalChannelID string
	botUserID         string
}

var _ messaging.Adapter = (*Adapter)(nil)

func NewAdapter(session Session, opts ...Option) *Adapter {
	a := &Adapter{
		session:   session,
		logger:    log.New(io.Discard, "", 0),
		botUserID: "@me",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string {
	return Platform
}

func (a *Adapter) SendMessage(_ context.Context, ref messaging.EventRef, text string, messageType messaging.MessageType, isInternal bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if messageType == messaging.MessageTypeComment {
		text = "_" + text + "_"
	}
	channelID, reference, ok := a.target(ref, isInternal)
	if !ok {
		a.logger.Printf("internal message dropped, no internal channel configured channel_id=%s text=%q", ref.ChannelID, text)
		return nil
	}
	for _, chunk := range splitMessage(text, maxMessageSize) {
		msg := &discordgo.MessageSend{Content: chunk, Reference: reference}
		if _, err := a.session.ChannelMessageSendComplex(channelID, msg); err != nil {
			return fmt.Errorf("discord send channel_id=%s: %w", channelID, err)
		}
	}
	return nil
}

func (a *Adapter) UploadFile(_ context.Context, ref messaging.EventRef, content []byte, filename, title string, isInternal bool) error {
	channelID, reference, ok := a.target(ref, isInternal)
	if !ok {
		a.logger.Printf("internal upload dropped, no internal channel configured channel_id=%s filename=%s", ref.ChannelID, filename)
		return nil
	}
	msg := &discordgo.MessageSend{
		Content:   title,
		Reference: reference,
		Files:     []*discordgo.File{{Name: filename, Reader: bytes.NewReader(content)}},
	}
	if _, err := a.session.ChannelMessageSendComplex(channelID, msg); err != nil {
		return fmt.Errorf("discord upload channel_id=%s filename=%s: %w", channelID, filename, err)
	}
	return nil
}

func (a *Adapter) AddReaction(_ context.Context, _ messaging.EventRef, channelID, timestamp, reaction string) error {
	if err := a.session.MessageReactionAdd(channelID, timestamp, emoji(reaction)); err != nil {
		return fmt.Errorf("discord add reaction %s: %w", reaction, err)
	}
	return nil
}

// RemoveReaction deletes the bot's own reaction. Discord answers 404 for a reaction that
// is not there, which counts as success.
func (a *Adapter) RemoveReaction(_ context.Context, _ messaging.EventRef, channelID, timestamp, reaction string) error {
	err := a.session.MessageReactionRemove(channelID, timestamp, emoji(reaction), a.botUserID)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("discord remove reaction %s: %w", reaction, err)
	}
	return nil
}

// FetchConversationHistory returns the thread root and the replies that reference it,
// oldest first.
func (a *Adapter) FetchConversationHistory(_ context.Context, _ messaging.EventRef, channelID, threadID string) ([]messaging.IncomingEvent, error) {
	msgs, err := a.session.ChannelMessages(channelID, historyLimit, "", previousID(threadID), "")
	if err != nil {
		return nil, fmt.Errorf("discord history channel_id=%s: %w", channelID, err)
	}
	out := make([]messaging.IncomingEvent, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.ID != threadID && (m.MessageReference == nil || m.MessageReference.MessageID != threadID) {
			continue
		}
		out = append(out, toIncoming(m, a.botUserID))
	}
	return out, nil
}

func (a *Adapter) target(ref messaging.EventRef, isInternal bool) (string, *discordgo.MessageReference, bool) {
	if isInternal {
		if a.internalChannelID == "" {
			return "", nil, false
		}
		return a.internalChannelID, nil, true
	}
	var reference *discordgo.MessageReference
	if ref.ThreadID != "" {
		reference = &discordgo.MessageReference{ChannelID: ref.ChannelID, MessageID: ref.ThreadID}
	}
	return ref.ChannelID, reference, true
}

func emoji(name string) string {
	name = strings.Trim(strings.TrimSpace(name), ":")
	if e, ok := defaultEmoji[name]; ok {
		return e
	}
	return name
}

func isNotFound(err error) bool {
	if rest, ok := err.(*discordgo.RESTError); ok && rest.Response != nil {
		return rest.Response.StatusCode == 404
	}
	return false
}

// previousID makes the thread root itself part of an "after" query.
func previousID(id string) string {
	b := []byte(id)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < '0' || b[i] > '9' {
			return id
		}
		if b[i] > '0' {
			b[i]--
			return strings.TrimLeft(string(b), "0")
		}
		b[i] = '9'
	}
	return id
}

func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	out := make([]string, 0, len(runes)/limit+1)
	for len(runes) > 0 {
		n := limit
		if len(runes) < n {
			n = len(runes)
		} else if cut := lastNewline(runes[:n]); cut > limit/2 {
			n = cut + 1
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
