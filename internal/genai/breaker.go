package genai

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker stops calling a failing provider for a cool-down period after repeated
// consecutive failures. Cancelled calls do not count as failures.
type Breaker struct {
	name  string
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

func NewBreaker(name string, inner Provider, threshold uint32, cooldown time.Duration) *Breaker {
	if threshold == 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:  name,
		inner: inner,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "genai-" + name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}
}

func (b *Breaker) GenerateCompletion(ctx context.Context, messages []Message, cc Context) (Completion, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.GenerateCompletion(ctx, messages, cc)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Completion{}, &CompletionError{Provider: b.name, Err: err}
		}
		return Completion{}, classify(ctx, b.name, err)
	}
	return out.(Completion), nil
}

func (b *Breaker) State() string {
	return b.cb.State().String()
}
