package discord

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
)

// Sink receives every inbound Discord message.
type Sink func(ctx context.Context, event messaging.IncomingEvent)

const handleTimeout = 10 * time.Second

// Listener owns the gateway connection and exposes an Adapter bound to it.
type Listener struct {
	token  string
	logger *log.Logger
	sink   Sink
	opts   []Option

	mu      sync.Mutex
	session *discordgo.Session
	adapter *Adapter
	botID   string
}

func NewListener(token string, sink Sink, logger *log.Logger, opts ...Option) *Listener {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Listener{token: token, logger: logger, sink: sink, opts: opts}
}

// Connect creates the REST session so the adapter can be registered before Start opens
// the gateway.
func (l *Listener) Connect() (*Adapter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.adapter != nil {
		return l.adapter, nil
	}
	s, err := discordgo.New(normalizeBotToken(l.token))
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	s.AddHandler(l.handleMessage)
	l.session = s
	l.adapter = NewAdapter(s, append([]Option{WithLogger(l.logger)}, l.opts...)...)
	return l.adapter, nil
}

func (l *Listener) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := l.Connect(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	if l.session.State != nil && l.session.State.User != nil {
		l.botID = l.session.State.User.ID
	}
	l.logger.Printf("discord listener started bot_id=%s", l.botID)
	return nil
}

func (l *Listener) Stop() error {
	l.mu.Lock()
	s := l.session
	l.session = nil
	l.adapter = nil
	l.mu.Unlock()

	if s == nil {
		return nil
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	l.logger.Printf("discord listener stopped")
	return nil
}

func (l *Listener) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	l.mu.Lock()
	botID := l.botID
	l.mu.Unlock()

	event := toIncoming(m.Message, botID)
	if l.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	l.sink(ctx, event)
}

// toIncoming maps a Discord message to an inbound event. A reply belongs to the thread
// of the message it references; any other message starts its own thread.
func toIncoming(m *discordgo.Message, botID string) messaging.IncomingEvent {
	threadID := m.ID
	if m.MessageReference != nil && strings.TrimSpace(m.MessageReference.MessageID) != "" {
		threadID = m.MessageReference.MessageID
	}
	received := m.Timestamp.UTC()
	if received.IsZero() {
		received = time.Now().UTC()
	}

	event := messaging.IncomingEvent{
		EventRef: messaging.EventRef{
			Platform:  Platform,
			ChannelID: m.ChannelID,
			ThreadID:  threadID,
			MessageID: m.ID,
		},
		Text:       m.Content,
		IsDirect:   m.GuildID == "",
		ReceivedAt: received,
	}
	if m.Author != nil {
		event.UserID = m.Author.ID
		event.UserName = m.Author.Username
		event.FromBot = m.Author.Bot || (botID != "" && m.Author.ID == botID)
	}
	for _, u := range m.Mentions {
		if u != nil && botID != "" && u.ID == botID {
			event.IsMention = true
			event.Text = stripMention(event.Text, botID)
		}
	}
	return event
}

func stripMention(text, botID string) string {
	for _, token := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		text = strings.ReplaceAll(text, token, "")
	}
	return strings.TrimSpace(text)
}

func normalizeBotToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(strings.ToLower(token), "bot ") {
		return token
	}
	return "Bot " + token
}
