package queue

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	ContainerMessages       = "messages"
	ContainerInternalEvents = "internal_events"
	ContainerExternalEvents = "external_events"
	ContainerDeadLetter     = "dead_letter_events"
)

// Key identifies one ordering domain.
type Key struct {
	ChannelID string
	ThreadID  string
}

func (k Key) String() string {
	return k.ChannelID + "_" + k.ThreadID
}

func (k Key) Validate() error {
	if strings.TrimSpace(k.ChannelID) == "" {
		return fmt.Errorf("channel_id is required")
	}
	if strings.TrimSpace(k.ThreadID) == "" {
		return fmt.Errorf("thread_id is required")
	}
	return nil
}

type Item struct {
	Key        Key
	MessageID  string
	GUID       string
	Payload    []byte
	EnqueuedAt time.Time
	Sequence   int64
}

// StorageKey is the flat composite name "{channel}_{thread}_{message}_{guid}".
func (i Item) StorageKey() string {
	return i.Key.String() + "_" + i.MessageID + "_" + i.GUID
}

func (i Item) Cursor() Cursor {
	return Cursor{MessageID: i.MessageID, GUID: i.GUID, Sequence: i.Sequence}
}

// Expired reports whether the item has lived for at least ttl. A zero ttl never expires.
func (i Item) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(i.EnqueuedAt) >= ttl
}

// Cutoff returns the newest EnqueuedAt that counts as expired at now.
func Cutoff(now time.Time, ttl time.Duration) time.Time {
	return now.Add(-ttl)
}

// Store is a durable container-scoped item store. Implementations must tolerate
// concurrent use from many keys and treat deletes of missing items as no-ops.
// Every returned error is a *StorageError.
type Store interface {
	Enqueue(ctx context.Context, container string, item Item) error
	Dequeue(ctx context.Context, container string, key Key, messageID, guid string) error
	// GetNext returns the oldest item under key ordered strictly after the cursor.
	GetNext(ctx context.Context, container string, key Key, after Cursor) (Item, bool, error)
	// HasOlder reports whether any item under key is ordered strictly before the cursor.
	HasOlder(ctx context.Context, container string, key Key, before Cursor) (bool, error)
	// List returns the items under key in processing order.
	List(ctx context.Context, container string, key Key) ([]Item, error)
	// ListContainer returns every item in container grouped by key, each group in
	// processing order.
	ListContainer(ctx context.Context, container string) ([]Item, error)
	Clear(ctx context.Context, container string, key Key) error
	// CleanupExpired removes items enqueued at or before cutoff, under key or across the
	// whole container when key is nil. It returns the number of removed items.
	CleanupExpired(ctx context.Context, container string, key *Key, cutoff time.Time) (int, error)
	Close() error
}

func nextAfter(items []Item, after Cursor) (Item, bool) {
	SortItems(items)
	for _, item := range items {
		if compareToCursor(item, after) > 0 {
			return item, true
		}
	}
	return Item{}, false
}

func anyBefore(items []Item, before Cursor) bool {
	for _, item := range items {
		if compareToCursor(item, before) < 0 {
			return true
		}
	}
	return false
}
