package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/YounitedCredit/younited-genaibots-sub001/internal/db"
)

type itemRow struct {
	Container  string    `gorm:"primaryKey;size:64;index:idx_queue_items_key,priority:1"`
	ItemKey    string    `gorm:"primaryKey;size:512"`
	ChannelID  string    `gorm:"size:191;not null;index:idx_queue_items_key,priority:2"`
	ThreadID   string    `gorm:"size:191;not null;index:idx_queue_items_key,priority:3"`
	MessageID  string    `gorm:"size:191;not null"`
	GUID       string    `gorm:"size:64;not null"`
	Payload    []byte    `gorm:"not null"`
	Sequence   int64     `gorm:"not null"`
	EnqueuedAt time.Time `gorm:"not null;index"`
}

func (itemRow) TableName() string {
	return "queue_items"
}

func (r itemRow) toItem() Item {
	return Item{
		Key:        Key{ChannelID: r.ChannelID, ThreadID: r.ThreadID},
		MessageID:  r.MessageID,
		GUID:       r.GUID,
		Payload:    r.Payload,
		EnqueuedAt: r.EnqueuedAt,
		Sequence:   r.Sequence,
	}
}

func rowFromItem(container string, item Item) itemRow {
	return itemRow{
		Container:  container,
		ItemKey:    item.StorageKey(),
		ChannelID:  item.Key.ChannelID,
		ThreadID:   item.Key.ThreadID,
		MessageID:  item.MessageID,
		GUID:       item.GUID,
		Payload:    item.Payload,
		Sequence:   item.Sequence,
		EnqueuedAt: item.EnqueuedAt.UTC(),
	}
}

// GormStore keeps items in a single queue_items table. Ordering is applied in Go
// because message ids are compared as exact decimals, which SQL collation cannot do.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(driver, dsn string, logger *log.Logger) (*GormStore, error) {
	gormDB, err := dbpkg.Open(driver, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("open gorm queue store: %w", err)
	}
	store, err := NewGormStoreFromDB(gormDB)
	if err != nil {
		_ = dbpkg.Close(gormDB)
		return nil, err
	}
	return store, nil
}

func NewGormStoreFromDB(gormDB *gorm.DB) (*GormStore, error) {
	if err := gormDB.AutoMigrate(&itemRow{}); err != nil {
		return nil, fmt.Errorf("migrate queue_items: %w", err)
	}
	return &GormStore{db: gormDB}, nil
}

func (s *GormStore) Enqueue(ctx context.Context, container string, item Item) error {
	if err := item.Key.Validate(); err != nil {
		return storageErr("enqueue", container, err)
	}
	row := rowFromItem(container, item)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	return storageErr("enqueue", container, err)
}

func (s *GormStore) Dequeue(ctx context.Context, container string, key Key, messageID, guid string) error {
	err := s.db.WithContext(ctx).
		Where("container = ? AND channel_id = ? AND thread_id = ? AND message_id = ? AND guid = ?",
			container, key.ChannelID, key.ThreadID, messageID, guid).
		Delete(&itemRow{}).Error
	return storageErr("dequeue", container, err)
}

func (s *GormStore) GetNext(ctx context.Context, container string, key Key, after Cursor) (Item, bool, error) {
	items, err := s.find(ctx, "get_next", container, &key)
	if err != nil {
		return Item{}, false, err
	}
	item, ok := nextAfter(items, after)
	return item, ok, nil
}

func (s *GormStore) HasOlder(ctx context.Context, container string, key Key, before Cursor) (bool, error) {
	items, err := s.find(ctx, "has_older", container, &key)
	if err != nil {
		return false, err
	}
	return anyBefore(items, before), nil
}

func (s *GormStore) List(ctx context.Context, container string, key Key) ([]Item, error) {
	items, err := s.find(ctx, "list", container, &key)
	if err != nil {
		return nil, err
	}
	SortItems(items)
	return items, nil
}

func (s *GormStore) ListContainer(ctx context.Context, container string) ([]Item, error) {
	items, err := s.find(ctx, "list_container", container, nil)
	if err != nil {
		return nil, err
	}
	sortGrouped(items)
	return items, nil
}

func (s *GormStore) Clear(ctx context.Context, container string, key Key) error {
	err := s.db.WithContext(ctx).
		Where("container = ? AND channel_id = ? AND thread_id = ?", container, key.ChannelID, key.ThreadID).
		Delete(&itemRow{}).Error
	return storageErr("clear", container, err)
}

func (s *GormStore) CleanupExpired(ctx context.Context, container string, key *Key, cutoff time.Time) (int, error) {
	items, err := s.find(ctx, "cleanup_expired", container, key)
	if err != nil {
		return 0, err
	}
	expired := make([]string, 0)
	for _, item := range items {
		if !item.EnqueuedAt.After(cutoff) {
			expired = append(expired, item.StorageKey())
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).
		Where("container = ? AND item_key IN ?", container, expired).
		Delete(&itemRow{})
	if res.Error != nil {
		return 0, storageErr("cleanup_expired", container, res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *GormStore) Close() error {
	return dbpkg.Close(s.db)
}

func (s *GormStore) find(ctx context.Context, op, container string, key *Key) ([]Item, error) {
	query := s.db.WithContext(ctx).Where("container = ?", container)
	if key != nil {
		query = query.Where("channel_id = ? AND thread_id = ?", key.ChannelID, key.ThreadID)
	}

	var rows []itemRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, storageErr(op, container, err)
	}
	out := make([]Item, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toItem())
	}
	return out, nil
}
