package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/genai"
)

type MemoryStore struct {
	mu       sync.Mutex
	threads  map[Key]ThreadRecord
	messages map[Key][]MessageRecord
	closed   bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  make(map[Key]ThreadRecord),
		messages: make(map[Key][]MessageRecord),
	}
}

func (s *MemoryStore) RecordTurn(_ context.Context, key Key, platform string, entries []Entry, cost genai.Cost) (ThreadRecord, error) {
	if err := key.validate(); err != nil {
		return ThreadRecord{}, err
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ThreadRecord{}, fmt.Errorf("memory store is closed")
	}

	thread, ok := s.threads[key]
	if !ok {
		thread = newThread(key, platform, now)
	}
	history := s.messages[key]
	next := int64(len(history)) + 1
	for _, e := range cleanEntries(entries) {
		history = append(history, MessageRecord{
			ChannelID: key.ChannelID,
			ThreadID:  key.ThreadID,
			Sequence:  next,
			Role:      e.Role,
			Content:   e.Content,
			MessageID: e.MessageID,
			CreatedAt: now,
		})
		next++
	}
	s.messages[key] = history
	thread = applyTurn(thread, platform, cost, now)
	s.threads[key] = thread
	return thread, nil
}

func (s *MemoryStore) History(_ context.Context, key Key, limit int) ([]MessageRecord, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store is closed")
	}
	return append([]MessageRecord(nil), tail(s.messages[key], limit)...), nil
}

func (s *MemoryStore) GetThread(_ context.Context, key Key) (ThreadRecord, error) {
	if err := key.validate(); err != nil {
		return ThreadRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ThreadRecord{}, fmt.Errorf("memory store is closed")
	}
	thread, ok := s.threads[key]
	if !ok {
		return ThreadRecord{}, ErrNotFound
	}
	return thread, nil
}

func (s *MemoryStore) SetPaused(_ context.Context, key Key, platform string, paused bool) error {
	if err := key.validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	thread, ok := s.threads[key]
	if !ok {
		thread = newThread(key, platform, now)
	}
	thread.Paused = paused
	thread.UpdatedAt = now
	s.threads[key] = thread
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
