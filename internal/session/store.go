package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/genai"
)

var ErrNotFound = errors.New("not found")

// Key identifies one conversation thread.
type Key struct {
	ChannelID string
	ThreadID  string
}

func (k Key) validate() error {
	if strings.TrimSpace(k.ChannelID) == "" {
		return fmt.Errorf("channel_id is required")
	}
	if strings.TrimSpace(k.ThreadID) == "" {
		return fmt.Errorf("thread_id is required")
	}
	return nil
}

func (k Key) String() string {
	return k.ChannelID + ":" + k.ThreadID
}

// Entry is one message appended to a thread.
type Entry struct {
	Role      genai.Role
	Content   string
	MessageID string
}

// Store keeps the conversation history, cost totals and pause flag of each thread.
type Store interface {
	RecordTurn(ctx context.Context, key Key, platform string, entries []Entry, cost genai.Cost) (ThreadRecord, error)
	History(ctx context.Context, key Key, limit int) ([]MessageRecord, error)
	GetThread(ctx context.Context, key Key) (ThreadRecord, error)
	SetPaused(ctx context.Context, key Key, platform string, paused bool) error
	Close() error
}

func newThread(key Key, platform string, now time.Time) ThreadRecord {
	return ThreadRecord{
		ChannelID: key.ChannelID,
		ThreadID:  key.ThreadID,
		Platform:  strings.TrimSpace(platform),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func applyTurn(thread ThreadRecord, platform string, cost genai.Cost, now time.Time) ThreadRecord {
	out := thread
	if p := strings.TrimSpace(platform); p != "" {
		out.Platform = p
	}
	out.Cost = out.Cost.Add(cost)
	out.Turns++
	out.UpdatedAt = now
	return out
}

func cleanEntries(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Content) == "" {
			continue
		}
		if e.Role == "" {
			e.Role = genai.RoleUser
		}
		out = append(out, e)
	}
	return out
}

// tail keeps the last limit records; limit <= 0 keeps all.
func tail(records []MessageRecord, limit int) []MessageRecord {
	if limit > 0 && len(records) > limit {
		return records[len(records)-limit:]
	}
	return records
}
