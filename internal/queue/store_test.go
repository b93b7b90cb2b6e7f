package queue

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestGormStoreSQLiteContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		store, err := NewGormStore("sqlite", filepath.Join(t.TempDir(), "queue.db"), log.New(os.Stdout, "", 0))
		if err != nil {
			t.Fatalf("new gorm store: %v", err)
		}
		return store
	})
}

func TestFileStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		store, err := NewFileStore(t.TempDir(), log.New(os.Stdout, "", 0))
		if err != nil {
			t.Fatalf("new file store: %v", err)
		}
		return store
	})
}

func TestRedisStoreContract(t *testing.T) {
	addr := os.Getenv("GENAIBOTS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GENAIBOTS_TEST_REDIS_ADDR not set")
	}
	runStoreContract(t, func(t *testing.T) Store {
		client := redis.NewClient(&redis.Options{Addr: addr})
		prefix := "genaibots-test-" + t.Name()
		t.Cleanup(func() {
			keys, _ := client.Keys(context.Background(), prefix+"*").Result()
			if len(keys) > 0 {
				client.Del(context.Background(), keys...)
			}
		})
		return NewRedisStore(client, WithRedisPrefix(prefix))
	})
}

func TestFileStoreUsesCompositeFileNames(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	item := Item{Key: Key{ChannelID: "C1", ThreadID: "T1"}, MessageID: "100", GUID: "g1", EnqueuedAt: time.Now()}
	if err := store.Enqueue(context.Background(), ContainerMessages, item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ContainerMessages, "C1_T1_100_g1.json")); err != nil {
		t.Fatalf("expected composite file name: %v", err)
	}
}

func TestFileStoreSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, log.New(os.Stdout, "", 0))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	key := Key{ChannelID: "C1", ThreadID: "T1"}
	if err := store.Enqueue(context.Background(), ContainerMessages, Item{Key: key, MessageID: "1", GUID: "g", EnqueuedAt: time.Now()}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ContainerMessages, "C1_T1_2_bad.json"), []byte("{"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	items, err := store.List(context.Background(), ContainerMessages, key)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].MessageID != "1" {
		t.Fatalf("expected only the readable item, got %+v", items)
	}
}

func TestMemoryStoreClosedReturnsStorageError(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Close()

	err := store.Enqueue(context.Background(), ContainerMessages, Item{Key: Key{ChannelID: "C", ThreadID: "T"}})
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if storageErr.Op != "enqueue" || storageErr.Container != ContainerMessages {
		t.Fatalf("unexpected storage error fields: %+v", storageErr)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), "blob", BackendOptions{}); err == nil {
		t.Fatalf("expected unknown backend error")
	}
	store, err := Open(context.Background(), "Memory", BackendOptions{})
	if err != nil {
		t.Fatalf("open memory backend: %v", err)
	}
	_ = store.Close()
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ordering and get next", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()
		ctx := context.Background()
		key := Key{ChannelID: "C1", ThreadID: "T1"}
		now := time.Now().UTC()

		for i, id := range []string{"102", "100", "101"} {
			item := Item{Key: key, MessageID: id, GUID: "g" + id, Payload: []byte(id), EnqueuedAt: now, Sequence: int64(i + 1)}
			if err := store.Enqueue(ctx, ContainerMessages, item); err != nil {
				t.Fatalf("enqueue %s: %v", id, err)
			}
		}
		other := Item{Key: Key{ChannelID: "C1", ThreadID: "T2"}, MessageID: "50", GUID: "x", EnqueuedAt: now}
		if err := store.Enqueue(ctx, ContainerMessages, other); err != nil {
			t.Fatalf("enqueue other key: %v", err)
		}

		items, err := store.List(ctx, ContainerMessages, key)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(items) != 3 || items[0].MessageID != "100" || items[2].MessageID != "102" {
			t.Fatalf("unexpected list order: %+v", items)
		}
		if string(items[1].Payload) != "101" {
			t.Fatalf("unexpected payload: %q", items[1].Payload)
		}

		next, ok, err := store.GetNext(ctx, ContainerMessages, key, At("100"))
		if err != nil || !ok || next.MessageID != "101" {
			t.Fatalf("get next after 100: item=%+v ok=%v err=%v", next, ok, err)
		}
		if _, ok, err := store.GetNext(ctx, ContainerMessages, key, At("102")); err != nil || ok {
			t.Fatalf("expected nothing after 102, ok=%v err=%v", ok, err)
		}

		all, err := store.ListContainer(ctx, ContainerMessages)
		if err != nil {
			t.Fatalf("list container: %v", err)
		}
		if len(all) != 4 || all[3].Key.ThreadID != "T2" {
			t.Fatalf("unexpected container listing: %+v", all)
		}
	})

	t.Run("has older", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()
		ctx := context.Background()
		key := Key{ChannelID: "C1", ThreadID: "T1"}

		if err := store.Enqueue(ctx, ContainerMessages, Item{Key: key, MessageID: "501", GUID: "a", EnqueuedAt: time.Now()}); err != nil {
			t.Fatalf("enqueue 501: %v", err)
		}
		older, err := store.HasOlder(ctx, ContainerMessages, key, At("500"))
		if err != nil || older {
			t.Fatalf("expected no older item with only 501, older=%v err=%v", older, err)
		}

		if err := store.Enqueue(ctx, ContainerMessages, Item{Key: key, MessageID: "499", GUID: "b", EnqueuedAt: time.Now()}); err != nil {
			t.Fatalf("enqueue 499: %v", err)
		}
		older, err = store.HasOlder(ctx, ContainerMessages, key, At("500"))
		if err != nil || !older {
			t.Fatalf("expected older item 499, older=%v err=%v", older, err)
		}
	})

	t.Run("idempotent dequeue and clear", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()
		ctx := context.Background()
		key := Key{ChannelID: "C9", ThreadID: "T9"}
		item := Item{Key: key, MessageID: "1", GUID: "g", EnqueuedAt: time.Now()}

		if err := store.Enqueue(ctx, ContainerMessages, item); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := store.Dequeue(ctx, ContainerMessages, key, "1", "g"); err != nil {
				t.Fatalf("dequeue #%d: %v", i+1, err)
			}
		}
		items, err := store.List(ctx, ContainerMessages, key)
		if err != nil || len(items) != 0 {
			t.Fatalf("expected empty key after dequeue, items=%+v err=%v", items, err)
		}

		for _, id := range []string{"1", "2"} {
			if err := store.Enqueue(ctx, ContainerMessages, Item{Key: key, MessageID: id, GUID: "g", EnqueuedAt: time.Now()}); err != nil {
				t.Fatalf("enqueue %s: %v", id, err)
			}
		}
		if err := store.Clear(ctx, ContainerMessages, key); err != nil {
			t.Fatalf("clear: %v", err)
		}
		if err := store.Clear(ctx, ContainerMessages, key); err != nil {
			t.Fatalf("second clear: %v", err)
		}
		items, err = store.List(ctx, ContainerMessages, key)
		if err != nil || len(items) != 0 {
			t.Fatalf("expected empty key after clear, items=%+v err=%v", items, err)
		}
	})

	t.Run("cleanup expired boundary", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()
		ctx := context.Background()
		key := Key{ChannelID: "C1", ThreadID: "T1"}
		now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
		ttl := 10 * time.Minute

		fixtures := map[string]time.Time{
			"1": now.Add(-ttl - time.Second), // T+eps
			"2": now.Add(-ttl),               // exactly T
			"3": now.Add(-ttl + time.Second), // T-eps
		}
		for id, at := range fixtures {
			if err := store.Enqueue(ctx, ContainerMessages, Item{Key: key, MessageID: id, GUID: "g", EnqueuedAt: at}); err != nil {
				t.Fatalf("enqueue %s: %v", id, err)
			}
		}

		removed, err := store.CleanupExpired(ctx, ContainerMessages, nil, Cutoff(now, ttl))
		if err != nil {
			t.Fatalf("cleanup: %v", err)
		}
		if removed != 2 {
			t.Fatalf("expected 2 expired items, removed %d", removed)
		}
		items, err := store.List(ctx, ContainerMessages, key)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(items) != 1 || items[0].MessageID != "3" {
			t.Fatalf("expected only the unexpired item, got %+v", items)
		}
	})
}
