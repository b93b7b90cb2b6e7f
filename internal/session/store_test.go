package session

import (
	"context"
	"errors"
	"log"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/genai"
)

func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	key := Key{ChannelID: "C1", ThreadID: "1700000000.000100"}

	if _, err := store.GetThread(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown thread, got %v", err)
	}

	first, err := store.RecordTurn(ctx, key, "rest", []Entry{
		{Role: genai.RoleUser, Content: "hello", MessageID: "1700000000.000100"},
		{Role: genai.RoleAssistant, Content: "hi there"},
		{Role: genai.RoleUser, Content: "   "},
	}, genai.Cost{TotalTokens: 30, PromptTokens: 20, CompletionTokens: 10, InputTokenPrice: 0.02, OutputTokenPrice: 0.01})
	if err != nil {
		t.Fatalf("record turn 1: %v", err)
	}
	if first.Turns != 1 || first.Platform != "rest" {
		t.Fatalf("unexpected thread after first turn: %+v", first)
	}

	second, err := store.RecordTurn(ctx, key, "", []Entry{
		{Role: genai.RoleUser, Content: "how are you"},
		{Role: genai.RoleAssistant, Content: "fine"},
	}, genai.Cost{TotalTokens: 5, PromptTokens: 4, CompletionTokens: 1, InputTokenPrice: 0.004, OutputTokenPrice: 0.001})
	if err != nil {
		t.Fatalf("record turn 2: %v", err)
	}
	if second.Turns != 2 || second.Cost.TotalTokens != 35 || second.Cost.PromptTokens != 24 {
		t.Fatalf("unexpected totals: %+v", second.Cost)
	}
	if math.Abs(second.Cost.TotalPrice()-0.035) > 1e-9 {
		t.Fatalf("unexpected total price: %f", second.Cost.TotalPrice())
	}
	if second.Platform != "rest" {
		t.Fatalf("platform should be kept when omitted, got %q", second.Platform)
	}

	history, err := store.History(ctx, key, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 messages (blank dropped), got %d", len(history))
	}
	want := []string{"hello", "hi there", "how are you", "fine"}
	for i, m := range history {
		if m.Content != want[i] || m.Sequence != int64(i+1) {
			t.Fatalf("message %d: unexpected %+v", i, m)
		}
	}
	if history[0].MessageID != "1700000000.000100" || history[1].Role != genai.RoleAssistant {
		t.Fatalf("unexpected message fields: %+v", history[:2])
	}

	last, err := store.History(ctx, key, 2)
	if err != nil {
		t.Fatalf("history limit: %v", err)
	}
	if len(last) != 2 || last[0].Content != "how are you" || last[1].Content != "fine" {
		t.Fatalf("expected the two most recent messages in order, got %+v", last)
	}

	other, err := store.History(ctx, Key{ChannelID: "C1", ThreadID: "other"}, 0)
	if err != nil || len(other) != 0 {
		t.Fatalf("threads must be isolated: %+v err=%v", other, err)
	}

	if err := store.SetPaused(ctx, key, "rest", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	thread, err := store.GetThread(ctx, key)
	if err != nil || !thread.Paused || thread.Turns != 2 {
		t.Fatalf("expected paused thread with totals kept: %+v err=%v", thread, err)
	}

	fresh := Key{ChannelID: "C2", ThreadID: "t"}
	if err := store.SetPaused(ctx, fresh, "discord", true); err != nil {
		t.Fatalf("pause new thread: %v", err)
	}
	if thread, err := store.GetThread(ctx, fresh); err != nil || !thread.Paused || thread.Platform != "discord" {
		t.Fatalf("pausing an unknown thread should create it: %+v err=%v", thread, err)
	}
	if err := store.SetPaused(ctx, fresh, "", false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if thread, _ := store.GetThread(ctx, fresh); thread.Paused {
		t.Fatalf("expected resumed thread")
	}

	if _, err := store.RecordTurn(ctx, Key{ChannelID: "C1"}, "rest", nil, genai.Cost{}); err == nil {
		t.Fatalf("expected validation error for missing thread id")
	}
}

func TestMemoryStoreContract(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()
	runStoreContract(t, store)
}

func TestGormStoreSQLiteContract(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewGormStore("sqlite", dbPath, log.New(os.Stdout, "", 0))
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	defer func() { _ = store.Close() }()
	runStoreContract(t, store)
}

func TestGormStorePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	key := Key{ChannelID: "C1", ThreadID: "T1"}

	store, err := NewGormStore("sqlite", dbPath, nil)
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	if _, err := store.RecordTurn(context.Background(), key, "rest", []Entry{{Role: genai.RoleUser, Content: "persist me"}}, genai.Cost{TotalTokens: 3}); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = store.Close()

	reopened, err := NewGormStore("sqlite", dbPath, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	history, err := reopened.History(context.Background(), key, 0)
	if err != nil || len(history) != 1 || history[0].Content != "persist me" {
		t.Fatalf("history not persisted: %+v err=%v", history, err)
	}
	thread, err := reopened.GetThread(context.Background(), key)
	if err != nil || thread.Cost.TotalTokens != 3 {
		t.Fatalf("cost not persisted: %+v err=%v", thread, err)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Close()
	if _, err := store.History(context.Background(), Key{ChannelID: "C", ThreadID: "T"}, 0); err == nil {
		t.Fatalf("expected closed store error")
	}
}
