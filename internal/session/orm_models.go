package session

import (
	"time"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/genai"
)

type threadRow struct {
	ChannelID        string    `gorm:"primaryKey;size:191"`
	ThreadID         string    `gorm:"primaryKey;size:191"`
	Platform         string    `gorm:"size:191"`
	Paused           bool      `gorm:"not null;default:false"`
	Turns            int64     `gorm:"not null;default:0"`
	TotalTokens      int64     `gorm:"not null;default:0"`
	PromptTokens     int64     `gorm:"not null;default:0"`
	CompletionTokens int64     `gorm:"not null;default:0"`
	InputTokenPrice  float64   `gorm:"not null;default:0"`
	OutputTokenPrice float64   `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (threadRow) TableName() string {
	return "threads"
}

func (r threadRow) toRecord() ThreadRecord {
	return ThreadRecord{
		ChannelID: r.ChannelID,
		ThreadID:  r.ThreadID,
		Platform:  r.Platform,
		Paused:    r.Paused,
		Turns:     r.Turns,
		Cost: genai.Cost{
			TotalTokens:      r.TotalTokens,
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			InputTokenPrice:  r.InputTokenPrice,
			OutputTokenPrice: r.OutputTokenPrice,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func threadRowFromRecord(rec ThreadRecord) threadRow {
	return threadRow{
		ChannelID:        rec.ChannelID,
		ThreadID:         rec.ThreadID,
		Platform:         rec.Platform,
		Paused:           rec.Paused,
		Turns:            rec.Turns,
		TotalTokens:      rec.Cost.TotalTokens,
		PromptTokens:     rec.Cost.PromptTokens,
		CompletionTokens: rec.Cost.CompletionTokens,
		InputTokenPrice:  rec.Cost.InputTokenPrice,
		OutputTokenPrice: rec.Cost.OutputTokenPrice,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}

type messageRow struct {
	ChannelID string    `gorm:"primaryKey;size:191;index:idx_messages_thread_sequence,priority:1"`
	ThreadID  string    `gorm:"primaryKey;size:191;index:idx_messages_thread_sequence,priority:2"`
	Sequence  int64     `gorm:"primaryKey;index:idx_messages_thread_sequence,priority:3"`
	Role      string    `gorm:"size:32;not null"`
	Content   string    `gorm:"type:text;not null"`
	MessageID string    `gorm:"size:191"`
	CreatedAt time.Time `gorm:"not null"`
}

func (messageRow) TableName() string {
	return "thread_messages"
}

func (r messageRow) toRecord() MessageRecord {
	return MessageRecord{
		ChannelID: r.ChannelID,
		ThreadID:  r.ThreadID,
		Sequence:  r.Sequence,
		Role:      genai.Role(r.Role),
		Content:   r.Content,
		MessageID: r.MessageID,
		CreatedAt: r.CreatedAt,
	}
}
