package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "genaibots"

// RedisStore keeps one hash per key ("{prefix}:{container}:items:{key}", field = storage
// key, value = JSON item) plus a set of hash names per container for full listings.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *log.Logger
}

type RedisOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.prefix = p
		}
	}
}

func WithRedisLogger(logger *log.Logger) RedisOption {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Enqueue(ctx context.Context, container string, item Item) error {
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

	hash := s.hashName(container, item.Key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hash, item.StorageKey(), data)
		pipe.SAdd(ctx, s.indexName(container), hash)
		return nil
	})
	return storageErr("enqueue", container, err)
}

func (s *RedisStore) Dequeue(ctx context.Context, container string, key Key, messageID, guid string) error {
	field := Item{Key: key, MessageID: messageID, GUID: guid}.StorageKey()
	if err := s.client.HDel(ctx, s.hashName(container, key), field).Err(); err != nil {
		return storageErr("dequeue", container, err)
	}
	return nil
}

func (s *RedisStore) GetNext(ctx context.Context, container string, key Key, after Cursor) (Item, bool, error) {
	items, err := s.load(ctx, "get_next", container, s.hashName(container, key))
	if err != nil {
		return Item{}, false, err
	}
	item, ok := nextAfter(items, after)
	return item, ok, nil
}

func (s *RedisStore) HasOlder(ctx context.Context, container string, key Key, before Cursor) (bool, error) {
	items, err := s.load(ctx, "has_older", container, s.hashName(container, key))
	if err != nil {
		return false, err
	}
	return anyBefore(items, before), nil
}

func (s *RedisStore) List(ctx context.Context, container string, key Key) ([]Item, error) {
	items, err := s.load(ctx, "list", container, s.hashName(container, key))
	if err != nil {
		return nil, err
	}
	SortItems(items)
	return items, nil
}

func (s *RedisStore) ListContainer(ctx context.Context, container string) ([]Item, error) {
	hashes, err := s.client.SMembers(ctx, s.indexName(container)).Result()
	if err != nil {
		return nil, storageErr("list_container", container, err)
	}
	out := make([]Item, 0)
	for _, hash := range hashes {
		items, err := s.load(ctx, "list_container", container, hash)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			s.client.SRem(ctx, s.indexName(container), hash)
		}
		out = append(out, items...)
	}
	sortGrouped(out)
	return out, nil
}

func (s *RedisStore) Clear(ctx context.Context, container string, key Key) error {
	hash := s.hashName(container, key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, hash)
		pipe.SRem(ctx, s.indexName(container), hash)
		return nil
	})
	return storageErr("clear", container, err)
}

func (s *RedisStore) CleanupExpired(ctx context.Context, container string, key *Key, cutoff time.Time) (int, error) {
	var items []Item
	var err error
	if key != nil {
		items, err = s.load(ctx, "cleanup_expired", container, s.hashName(container, *key))
	} else {
		items, err = s.ListContainer(ctx, container)
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, item := range items {
		if item.EnqueuedAt.After(cutoff) {
			continue
		}
		n, err := s.client.HDel(ctx, s.hashName(container, item.Key), item.StorageKey()).Result()
		if err != nil {
			return removed, storageErr("cleanup_expired", container, err)
		}
		removed += int(n)
	}
	return removed, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) load(ctx context.Context, op, container, hash string) ([]Item, error) {
	values, err := s.client.HGetAll(ctx, hash).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, storageErr(op, container, err)
	}
	out := make([]Item, 0, len(values))
	for field, raw := range values {
		var rec fileRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Printf("skipping unreadable redis queue item container=%s field=%s err=%v", container, field, &SerializationError{What: "queue item", Err: err})
			continue
		}
		out = append(out, Item{
			Key:        Key{ChannelID: rec.ChannelID, ThreadID: rec.ThreadID},
			MessageID:  rec.MessageID,
			GUID:       rec.GUID,
			Payload:    rec.Payload,
			Sequence:   rec.Sequence,
			EnqueuedAt: rec.EnqueuedAt,
		})
	}
	return out, nil
}

func (s *RedisStore) hashName(container string, key Key) string {
	return s.prefix + ":" + container + ":items:" + keyPrefix(key)
}

func (s *RedisStore) indexName(container string) string {
	return s.prefix + ":" + container + ":keys"
}
