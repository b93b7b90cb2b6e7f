package session

import (
	"time"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/genai"
)

type ThreadRecord struct {
	ChannelID string     `json:"channel_id"`
	ThreadID  string     `json:"thread_id"`
	Platform  string     `json:"platform,omitempty"`
	Paused    bool       `json:"paused"`
	Turns     int64      `json:"turns"`
	Cost      genai.Cost `json:"cost"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type MessageRecord struct {
	ChannelID string     `json:"channel_id"`
	ThreadID  string     `json:"thread_id"`
	Sequence  int64      `json:"sequence"`
	Role      genai.Role `json:"role"`
	Content   string     `json:"content"`
	MessageID string     `json:"message_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (m MessageRecord) Message() genai.Message {
	return genai.Message{Role: m.Role, Content: m.Content}
}
