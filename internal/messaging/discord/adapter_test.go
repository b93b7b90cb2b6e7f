package discord

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
)

type sent struct {
	channelID string
	msg       *discordgo.MessageSend
}

type fakeSession struct {
	sent      []sent
	added     []string
	removed   []string
	removeErr error
	history   []*discordgo.Message
	afterID   string
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sent = append(f.sent, sent{channelID: channelID, msg: data})
	return &discordgo.Message{ID: "m"}, nil
}

func (f *fakeSession) MessageReactionAdd(channelID, messageID, emojiID string, _ ...discordgo.RequestOption) error {
	f.added = append(f.added, channelID+"/"+messageID+"/"+emojiID)
	return nil
}

func (f *fakeSession) MessageReactionRemove(channelID, messageID, emojiID, userID string, _ ...discordgo.RequestOption) error {
	f.removed = append(f.removed, channelID+"/"+messageID+"/"+emojiID+"/"+userID)
	return f.removeErr
}

func (f *fakeSession) ChannelMessages(_ string, _ int, _, afterID, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.afterID = afterID
	return f.history, nil
}

func testRef() messaging.EventRef {
	return messaging.EventRef{Platform: Platform, ChannelID: "chan-1", ThreadID: "1000", MessageID: "1005"}
}

func TestSendMessageRepliesInThreadAndSplits(t *testing.T) {
	session := &fakeSession{}
	a := NewAdapter(session)

	long := strings.Repeat("a", 1500) + "\n" + strings.Repeat("b", 1000)
	if err := a.SendMessage(context.Background(), testRef(), long, messaging.MessageTypeText, false); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(session.sent) != 2 {
		t.Fatalf("expected message split in two, got %d", len(session.sent))
	}
	for _, s := range session.sent {
		if s.channelID != "chan-1" || s.msg.Reference == nil || s.msg.Reference.MessageID != "1000" {
			t.Fatalf("expected reply to thread root, got channel=%s ref=%+v", s.channelID, s.msg.Reference)
		}
		if len([]rune(s.msg.Content)) > maxMessageSize {
			t.Fatalf("chunk exceeds limit: %d", len(s.msg.Content))
		}
	}
	if !strings.HasSuffix(session.sent[0].msg.Content, "\n") {
		t.Fatalf("expected split on newline")
	}
}

func TestInternalMessagesGoToInternalChannel(t *testing.T) {
	session := &fakeSession{}
	a := NewAdapter(session, WithInternalChannel("ops"))
	if err := a.SendMessage(context.Background(), testRef(), "diagnostic", messaging.MessageTypeText, true); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(session.sent) != 1 || session.sent[0].channelID != "ops" || session.sent[0].msg.Reference != nil {
		t.Fatalf("unexpected internal send: %+v", session.sent)
	}

	silent := NewAdapter(&fakeSession{})
	if err := silent.SendMessage(context.Background(), testRef(), "diagnostic", messaging.MessageTypeText, true); err != nil {
		t.Fatalf("internal message without channel should be dropped quietly: %v", err)
	}
}

func TestReactionsMapToEmoji(t *testing.T) {
	session := &fakeSession{}
	a := NewAdapter(session)
	ctx := context.Background()
	if err := a.AddReaction(ctx, testRef(), "chan-1", "1005", "eyes"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.RemoveReaction(ctx, testRef(), "chan-1", "1005", ":hourglass:"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if session.added[0] != "chan-1/1005/👀" {
		t.Fatalf("unexpected add: %v", session.added)
	}
	if session.removed[0] != "chan-1/1005/⏳/@me" {
		t.Fatalf("unexpected remove: %v", session.removed)
	}
}

func TestRemoveMissingReactionSucceeds(t *testing.T) {
	session := &fakeSession{removeErr: &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}}
	a := NewAdapter(session)
	if err := a.RemoveReaction(context.Background(), testRef(), "chan-1", "1005", "gear"); err != nil {
		t.Fatalf("404 must be treated as success: %v", err)
	}

	session.removeErr = errors.New("boom")
	if err := a.RemoveReaction(context.Background(), testRef(), "chan-1", "1005", "gear"); err == nil {
		t.Fatalf("expected other errors to surface")
	}
}

func TestFetchConversationHistoryKeepsThread(t *testing.T) {
	session := &fakeSession{history: []*discordgo.Message{
		{ID: "1003", ChannelID: "chan-1", Content: "reply 2", Author: &discordgo.User{ID: "u1"}, MessageReference: &discordgo.MessageReference{MessageID: "1000"}},
		{ID: "1002", ChannelID: "chan-1", Content: "unrelated", Author: &discordgo.User{ID: "u2"}},
		{ID: "1001", ChannelID: "chan-1", Content: "reply 1", Author: &discordgo.User{ID: "bot", Bot: true}, MessageReference: &discordgo.MessageReference{MessageID: "1000"}},
		{ID: "1000", ChannelID: "chan-1", Content: "root", Author: &discordgo.User{ID: "u1"}},
	}}
	a := NewAdapter(session)

	got, err := a.FetchConversationHistory(context.Background(), testRef(), "chan-1", "1000")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if session.afterID != "999" {
		t.Fatalf("expected query to include the root, after=%s", session.afterID)
	}
	want := []string{"root", "reply 1", "reply 2"}
	if len(got) != len(want) {
		t.Fatalf("unexpected history: %+v", got)
	}
	for i, e := range got {
		if e.Text != want[i] || e.ThreadID != "1000" {
			t.Fatalf("entry %d: %+v", i, e)
		}
	}
	if !got[1].FromBot {
		t.Fatalf("bot reply should be flagged")
	}
}

func TestToIncomingMapsMentionsAndThreads(t *testing.T) {
	msg := &discordgo.Message{
		ID:               "2002",
		ChannelID:        "chan-1",
		GuildID:          "guild",
		Content:          "<@bot-1> summarize this",
		Timestamp:        time.Date(2026, time.February, 14, 12, 0, 0, 0, time.UTC),
		Author:           &discordgo.User{ID: "user-1", Username: "ada"},
		Mentions:         []*discordgo.User{{ID: "bot-1"}},
		MessageReference: &discordgo.MessageReference{MessageID: "2000"},
	}
	event := toIncoming(msg, "bot-1")
	if event.ThreadID != "2000" || event.MessageID != "2002" || !event.IsThreadReply() {
		t.Fatalf("unexpected thread mapping: %+v", event.EventRef)
	}
	if !event.IsMention || event.Text != "summarize this" {
		t.Fatalf("expected mention stripped: mention=%v text=%q", event.IsMention, event.Text)
	}
	if event.IsDirect || event.FromBot || event.UserName != "ada" {
		t.Fatalf("unexpected flags: %+v", event)
	}

	own := toIncoming(&discordgo.Message{ID: "3", ChannelID: "dm", Author: &discordgo.User{ID: "bot-1"}}, "bot-1")
	if !own.FromBot || !own.IsDirect || own.ThreadID != "3" {
		t.Fatalf("unexpected own message mapping: %+v", own)
	}
}

func TestPreviousID(t *testing.T) {
	cases := map[string]string{"1000": "999", "1235": "1234", "abc": "abc", "10": "9"}
	for in, want := range cases {
		if got := previousID(in); got != want {
			t.Fatalf("previousID(%s)=%s want=%s", in, got, want)
		}
	}
}

func TestNormalizeBotToken(t *testing.T) {
	if normalizeBotToken(" abc ") != "Bot abc" || normalizeBotToken("Bot abc") != "Bot abc" {
		t.Fatalf("unexpected token normalization")
	}
}
