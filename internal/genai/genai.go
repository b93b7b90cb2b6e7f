package genai

import (
	"context"
	"errors"
	"fmt"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/registry"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Context carries per-call settings that are not part of the conversation.
type Context struct {
	ChannelID    string
	ThreadID     string
	UserID       string
	SystemPrompt string
	Model        string
	MaxTokens    int
}

type Cost struct {
	TotalTokens      int64   `json:"total_tokens"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	InputTokenPrice  float64 `json:"input_token_price"`
	OutputTokenPrice float64 `json:"output_token_price"`
}

func (c Cost) TotalPrice() float64 {
	return c.InputTokenPrice + c.OutputTokenPrice
}

func (c Cost) Add(other Cost) Cost {
	return Cost{
		TotalTokens:      c.TotalTokens + other.TotalTokens,
		PromptTokens:     c.PromptTokens + other.PromptTokens,
		CompletionTokens: c.CompletionTokens + other.CompletionTokens,
		InputTokenPrice:  c.InputTokenPrice + other.InputTokenPrice,
		OutputTokenPrice: c.OutputTokenPrice + other.OutputTokenPrice,
	}
}

// Pricing is the configured price per thousand tokens.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

func (p Pricing) Cost(promptTokens, completionTokens int64) Cost {
	return Cost{
		TotalTokens:      promptTokens + completionTokens,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		InputTokenPrice:  float64(promptTokens) / 1000 * p.InputPer1K,
		OutputTokenPrice: float64(completionTokens) / 1000 * p.OutputPer1K,
	}
}

type Completion struct {
	Text string
	Cost Cost
}

// Provider generates a completion. Cancellation is returned as the context error;
// every other failure is a *CompletionError.
type Provider interface {
	GenerateCompletion(ctx context.Context, messages []Message, cc Context) (Completion, error)
}

type CompletionError struct {
	Provider string
	Err      error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion %s: %v", e.Provider, e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

// classify keeps context cancellation intact and wraps everything else.
func classify(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var cerr *CompletionError
	if errors.As(err, &cerr) {
		return err
	}
	return &CompletionError{Provider: provider, Err: err}
}

type Registry = registry.Registry[Provider]

func NewRegistry() *Registry {
	return registry.New[Provider]("genai")
}
