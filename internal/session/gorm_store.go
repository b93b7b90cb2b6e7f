package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"gorm.io/gorm"

	dbpkg "github.com/YounitedCredit/younited-genaibots-sub001/internal/db"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/genai"
)

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(driver, dsn string, logger *log.Logger) (*GormStore, error) {
	gormDB, err := dbpkg.Open(driver, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}
	return NewGormStoreFromDB(gormDB)
}

// NewGormStoreFromDB migrates and uses an already opened database, for example the one
// the queue backend runs on.
func NewGormStoreFromDB(gormDB *gorm.DB) (*GormStore, error) {
	store := &GormStore{db: gormDB}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	if err := s.db.AutoMigrate(&threadRow{}, &messageRow{}); err != nil {
		return fmt.Errorf("migrate session tables: %w", err)
	}
	return nil
}

func (s *GormStore) RecordTurn(ctx context.Context, key Key, platform string, entries []Entry, cost genai.Cost) (ThreadRecord, error) {
	if err := key.validate(); err != nil {
		return ThreadRecord{}, err
	}
	now := time.Now().UTC()

	var out ThreadRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		thread, err := takeThread(tx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			thread = newThread(key, platform, now)
		}

		var maxSeq int64
		if err := tx.Model(&messageRow{}).
			Where("channel_id = ? AND thread_id = ?", key.ChannelID, key.ThreadID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("sequence lookup: %w", err)
		}

		rows := make([]messageRow, 0, len(entries))
		for _, e := range cleanEntries(entries) {
			maxSeq++
			rows = append(rows, messageRow{
				ChannelID: key.ChannelID,
				ThreadID:  key.ThreadID,
				Sequence:  maxSeq,
				Role:      string(e.Role),
				Content:   e.Content,
				MessageID: e.MessageID,
				CreatedAt: now,
			})
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("append messages: %w", err)
			}
		}

		out = applyTurn(thread, platform, cost, now)
		row := threadRowFromRecord(out)
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("save thread: %w", err)
		}
		return nil
	})
	if err != nil {
		return ThreadRecord{}, err
	}
	return out, nil
}

func (s *GormStore) History(ctx context.Context, key Key, limit int) ([]MessageRecord, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).
		Model(&messageRow{}).
		Where("channel_id = ? AND thread_id = ?", key.ChannelID, key.ThreadID).
		Order("sequence DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []messageRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	slices.Reverse(rows)
	out := make([]MessageRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func (s *GormStore) GetThread(ctx context.Context, key Key) (ThreadRecord, error) {
	if err := key.validate(); err != nil {
		return ThreadRecord{}, err
	}
	return takeThread(s.db.WithContext(ctx), key)
}

func (s *GormStore) SetPaused(ctx context.Context, key Key, platform string, paused bool) error {
	if err := key.validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		thread, err := takeThread(tx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			thread = newThread(key, platform, now)
		}
		thread.Paused = paused
		thread.UpdatedAt = now
		row := threadRowFromRecord(thread)
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("save thread: %w", err)
		}
		return nil
	})
}

func (s *GormStore) Close() error {
	return dbpkg.Close(s.db)
}

func takeThread(tx *gorm.DB, key Key) (ThreadRecord, error) {
	var row threadRow
	err := tx.Where("channel_id = ? AND thread_id = ?", key.ChannelID, key.ThreadID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ThreadRecord{}, ErrNotFound
		}
		return ThreadRecord{}, fmt.Errorf("get thread: %w", err)
	}
	return row.toRecord(), nil
}
