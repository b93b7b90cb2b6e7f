package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type fileRecord struct {
	ChannelID  string    `json:"channel_id"`
	ThreadID   string    `json:"thread_id"`
	MessageID  string    `json:"message_id"`
	GUID       string    `json:"guid"`
	Payload    []byte    `json:"payload"`
	Sequence   int64     `json:"sequence"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// FileStore keeps one JSON file per item in {root}/{container}/{storage key}.json.
// Listing a key is a prefix scan of a flat directory.
type FileStore struct {
	root   string
	logger *log.Logger

	mu     sync.Mutex
	closed bool
}

func NewFileStore(root string, logger *log.Logger) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("file store root is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create file store root: %w", err)
	}
	return &FileStore{root: root, logger: logger}, nil
}

func (s *FileStore) Enqueue(_ context.Context, container string, item Item) error {
	if err := item.Key.Validate(); err != nil {
		return storageErr("enqueue", container, err)
	}
	data, err := json.Marshal(fileRecord{
		ChannelID:  item.Key.ChannelID,
		ThreadID:   item.Key.ThreadID,
		MessageID:  item.MessageID,
		GUID:       item.GUID,
		Payload:    item.Payload,
		Sequence:   item.Sequence,
		EnqueuedAt: item.EnqueuedAt.UTC(),
	})
	if err != nil {
		return storageErr("enqueue", container, &SerializationError{What: "queue item", Err: err})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("enqueue", container, errStoreClosed)
	}
	dir, err := s.containerDir(container, true)
	if err != nil {
		return storageErr("enqueue", container, err)
	}
	path := filepath.Join(dir, fileName(item))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return storageErr("enqueue", container, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return storageErr("enqueue", container, err)
	}
	return nil
}

func (s *FileStore) Dequeue(_ context.Context, container string, key Key, messageID, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("dequeue", container, errStoreClosed)
	}
	dir, err := s.containerDir(container, false)
	if err != nil {
		return storageErr("dequeue", container, err)
	}
	path := filepath.Join(dir, fileName(Item{Key: key, MessageID: messageID, GUID: guid}))
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("dequeue", container, err)
	}
	return nil
}

func (s *FileStore) GetNext(_ context.Context, container string, key Key, after Cursor) (Item, bool, error) {
	items, err := s.scan("get_next", container, &key)
	if err != nil {
		return Item{}, false, err
	}
	item, ok := nextAfter(items, after)
	return item, ok, nil
}

func (s *FileStore) HasOlder(_ context.Context, container string, key Key, before Cursor) (bool, error) {
	items, err := s.scan("has_older", container, &key)
	if err != nil {
		return false, err
	}
	return anyBefore(items, before), nil
}

func (s *FileStore) List(_ context.Context, container string, key Key) ([]Item, error) {
	items, err := s.scan("list", container, &key)
	if err != nil {
		return nil, err
	}
	SortItems(items)
	return items, nil
}

func (s *FileStore) ListContainer(_ context.Context, container string) ([]Item, error) {
	items, err := s.scan("list_container", container, nil)
	if err != nil {
		return nil, err
	}
	sortGrouped(items)
	return items, nil
}

func (s *FileStore) Clear(ctx context.Context, container string, key Key) error {
	items, err := s.scan("clear", container, &key)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.Dequeue(ctx, container, key, item.MessageID, item.GUID); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) CleanupExpired(ctx context.Context, container string, key *Key, cutoff time.Time) (int, error) {
	items, err := s.scan("cleanup_expired", container, key)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, item := range items {
		if item.EnqueuedAt.After(cutoff) {
			continue
		}
		if err := s.Dequeue(ctx, container, item.Key, item.MessageID, item.GUID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// scan reads every item file under container whose name carries key's prefix.
// Unreadable files are logged and skipped so one corrupt item cannot block a key.
func (s *FileStore) scan(op, container string, key *Key) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storageErr(op, container, errStoreClosed)
	}
	dir, err := s.containerDir(container, false)
	if err != nil {
		return nil, storageErr(op, container, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Item{}, nil
		}
		return nil, storageErr(op, container, err)
	}

	prefix := ""
	if key != nil {
		prefix = keyPrefix(*key)
	}
	out := make([]Item, 0)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || !strings.HasPrefix(name, prefix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, storageErr(op, container, err)
		}
		var rec fileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Printf("skipping unreadable queue file container=%s file=%s err=%v", container, name, &SerializationError{What: "queue item", Err: err})
			continue
		}
		item := Item{
			Key:        Key{ChannelID: rec.ChannelID, ThreadID: rec.ThreadID},
			MessageID:  rec.MessageID,
			GUID:       rec.GUID,
			Payload:    rec.Payload,
			Sequence:   rec.Sequence,
			EnqueuedAt: rec.EnqueuedAt,
		}
		if key != nil && item.Key != *key {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *FileStore) containerDir(container string, create bool) (string, error) {
	name := strings.TrimSpace(container)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid container name %q", container)
	}
	dir := filepath.Join(s.root, name)
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func keyPrefix(key Key) string {
	return escapePart(key.ChannelID) + "_" + escapePart(key.ThreadID) + "_"
}

func fileName(item Item) string {
	return keyPrefix(item.Key) + escapePart(item.MessageID) + "_" + escapePart(item.GUID) + ".json"
}

// escapePart keeps path separators and the "_" delimiter out of name segments.
func escapePart(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), "_", "%5F")
}
