package ids

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

func New() string {
	return uuid.NewString()
}

// Sequencer hands out strictly increasing values seeded from the wall clock, so values
// stay ordered across restarts as long as the clock does not move backwards.
type Sequencer struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewSequencer(now func() time.Time) *Sequencer {
	if now == nil {
		now = time.Now
	}
	return &Sequencer{now: now}
}

func (s *Sequencer) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.now().UnixNano()
	if v <= s.last {
		v = s.last + 1
	}
	s.last = v
	return v
}

// Timestamp renders t the way platforms stamp messages ("seconds.microseconds").
func Timestamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}
