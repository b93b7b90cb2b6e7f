package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errStoreClosed = errors.New("store is closed")

type MemoryStore struct {
	mu         sync.Mutex
	containers map[string]map[Key]map[string]Item
	closed     bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{containers: make(map[string]map[Key]map[string]Item)}
}

func (s *MemoryStore) Enqueue(_ context.Context, container string, item Item) error {
	if err := item.Key.Validate(); err != nil {
		return storageErr("enqueue", container, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("enqueue", container, errStoreClosed)
	}
	keys, ok := s.containers[container]
	if !ok {
		keys = make(map[Key]map[string]Item)
		s.containers[container] = keys
	}
	items, ok := keys[item.Key]
	if !ok {
		items = make(map[string]Item)
		keys[item.Key] = items
	}
	item.Payload = append([]byte(nil), item.Payload...)
	items[item.StorageKey()] = item
	return nil
}

func (s *MemoryStore) Dequeue(_ context.Context, container string, key Key, messageID, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("dequeue", container, errStoreClosed)
	}
	items := s.containers[container][key]
	if items == nil {
		return nil
	}
	delete(items, Item{Key: key, MessageID: messageID, GUID: guid}.StorageKey())
	if len(items) == 0 {
		delete(s.containers[container], key)
	}
	return nil
}

func (s *MemoryStore) GetNext(_ context.Context, container string, key Key, after Cursor) (Item, bool, error) {
	items, err := s.snapshot("get_next", container, &key)
	if err != nil {
		return Item{}, false, err
	}
	item, ok := nextAfter(items, after)
	return item, ok, nil
}

func (s *MemoryStore) HasOlder(_ context.Context, container string, key Key, before Cursor) (bool, error) {
	items, err := s.snapshot("has_older", container, &key)
	if err != nil {
		return false, err
	}
	return anyBefore(items, before), nil
}

func (s *MemoryStore) List(_ context.Context, container string, key Key) ([]Item, error) {
	items, err := s.snapshot("list", container, &key)
	if err != nil {
		return nil, err
	}
	SortItems(items)
	return items, nil
}

func (s *MemoryStore) ListContainer(_ context.Context, container string) ([]Item, error) {
	items, err := s.snapshot("list_container", container, nil)
	if err != nil {
		return nil, err
	}
	sortGrouped(items)
	return items, nil
}

func (s *MemoryStore) Clear(_ context.Context, container string, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("clear", container, errStoreClosed)
	}
	if keys := s.containers[container]; keys != nil {
		delete(keys, key)
	}
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, container string, key *Key, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storageErr("cleanup_expired", container, errStoreClosed)
	}

	removed := 0
	for k, items := range s.containers[container] {
		if key != nil && k != *key {
			continue
		}
		for name, item := range items {
			if !item.EnqueuedAt.After(cutoff) {
				delete(items, name)
				removed++
			}
		}
		if len(items) == 0 {
			delete(s.containers[container], k)
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) snapshot(op, container string, key *Key) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storageErr(op, container, errStoreClosed)
	}

	out := make([]Item, 0)
	for k, items := range s.containers[container] {
		if key != nil && k != *key {
			continue
		}
		for _, item := range items {
			item.Payload = append([]byte(nil), item.Payload...)
			out = append(out, item)
		}
	}
	return out, nil
}
