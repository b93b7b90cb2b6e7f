package turn

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
)

type Status string

const (
	Acknowledge Status = "ACKNOWLEDGE"
	Wait        Status = "WAIT"
	Processing  Status = "PROCESSING"
	Generating  Status = "GENERATING"
	Writing     Status = "WRITING"
	Done        Status = "DONE"
	Error       Status = "ERROR"
)

func (s Status) Terminal() bool {
	return s == Done || s == Error
}

type Trigger string

const (
	Admitted        Trigger = "admitted"
	Queued          Trigger = "queued"
	BeginGeneration Trigger = "begin_generation"
	EndGeneration   Trigger = "end_generation"
	BeginAction     Trigger = "begin_action"
	EndAction       Trigger = "end_action"
	NoAction        Trigger = "no_action"
	BeginWriting    Trigger = "begin_writing"
	Delivered       Trigger = "delivered"
	Failed          Trigger = "failed"
	Interrupted     Trigger = "interrupted"
)

// Step is the reaction change for one trigger and the status it enters.
type Step struct {
	Remove []Status
	Add    []Status
	Enter  Status
}

var transitions = map[Trigger]Step{
	Admitted:        {Remove: []Status{Wait}, Add: []Status{Acknowledge}, Enter: Acknowledge},
	BeginGeneration: {Remove: []Status{Writing}, Add: []Status{Generating}, Enter: Generating},
	EndGeneration:   {Remove: []Status{Generating}, Enter: Acknowledge},
	BeginAction:     {Remove: []Status{Generating}, Add: []Status{Processing}, Enter: Processing},
	EndAction:       {Remove: []Status{Processing}, Enter: Acknowledge},
	NoAction:        {Add: []Status{Done}, Enter: Done},
	BeginWriting:    {Add: []Status{Writing}, Enter: Writing},
	Delivered:       {Remove: []Status{Writing, Acknowledge}, Add: []Status{Done}, Enter: Done},
	Failed:          {Remove: []Status{Generating}, Add: []Status{Error}, Enter: Error},
	Queued:          {Add: []Status{Wait}, Enter: Wait},
	Interrupted:     {Remove: []Status{Generating, Processing, Writing}, Add: []Status{Wait}, Enter: Wait},
}

func StepFor(trigger Trigger) (Step, bool) {
	step, ok := transitions[trigger]
	return step, ok
}

// Apply returns the reaction set after step: removals first, then additions.
// Removing an absent status is a no-op.
func Apply(set map[Status]bool, step Step) map[Status]bool {
	out := make(map[Status]bool, len(set)+len(step.Add))
	for s, on := range set {
		if on {
			out[s] = true
		}
	}
	for _, s := range step.Remove {
		delete(out, s)
	}
	for _, s := range step.Add {
		out[s] = true
	}
	return out
}

// Reactions maps statuses to platform reaction names.
type Reactions map[Status]string

func DefaultReactions() Reactions {
	return Reactions{
		Acknowledge: "eyes",
		Wait:        "hourglass",
		Processing:  "gear",
		Generating:  "brain",
		Writing:     "pencil2",
		Done:        "white_check_mark",
		Error:       "red_circle",
	}
}

// Merge overrides the defaults with any non-empty names in overrides.
func (r Reactions) Merge(overrides map[Status]string) Reactions {
	out := make(Reactions, len(r))
	for s, name := range r {
		out[s] = name
	}
	for s, name := range overrides {
		if name != "" {
			out[s] = name
		}
	}
	return out
}

func (r Reactions) names(statuses []Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		if name := r[s]; name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Reactor applies a batch of reaction changes to one message.
type Reactor interface {
	UpdateReactions(ctx context.Context, ref messaging.EventRef, channelID, timestamp string, remove, add []string) error
}

const defaultMaxTracked = 10000

// Machine drives the reaction lifecycle of conversation turns. Each turn is identified
// by the channel and timestamp of the user message it reacts to. Calls for one turn are
// serialized so a late WAIT cannot land after the turn was admitted.
type Machine struct {
	logger    *log.Logger
	reactor   Reactor
	reactions Reactions

	mu         sync.Mutex
	turns      map[string]*state
	maxTracked int
}

type state struct {
	mu     sync.Mutex
	status Status
	set    map[Status]bool
}

type Option func(*Machine)

func WithLogger(logger *log.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithReactions(r Reactions) Option {
	return func(m *Machine) {
		if r != nil {
			m.reactions = r
		}
	}
}

func New(reactor Reactor, opts ...Option) *Machine {
	m := &Machine{
		logger:     log.New(io.Discard, "", 0),
		reactor:    reactor,
		reactions:  DefaultReactions(),
		turns:      make(map[string]*state),
		maxTracked: defaultMaxTracked,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Fire applies trigger to the turn of ref as one batched reaction update. Admitting a
// turn whose previous run ended also clears the old terminal reaction. Queued only
// applies to a turn that has not started yet.
func (m *Machine) Fire(ctx context.Context, ref messaging.EventRef, trigger Trigger) error {
	step, ok := StepFor(trigger)
	if !ok {
		return fmt.Errorf("unknown turn trigger %q", trigger)
	}

	st := m.stateFor(ref)
	st.mu.Lock()
	defer st.mu.Unlock()

	if trigger == Queued && st.status != "" {
		// the turn was admitted before the wait reaction got here
		return nil
	}
	if trigger == Admitted && st.status.Terminal() {
		step.Remove = append(append([]Status(nil), step.Remove...), Done, Error)
	}

	err := m.reactor.UpdateReactions(ctx, ref, ref.ChannelID, ref.MessageID, m.reactions.names(step.Remove), m.reactions.names(step.Add))
	st.set = Apply(st.set, step)
	st.status = step.Enter
	if err != nil {
		m.logger.Printf("turn reaction update failed channel_id=%s message_id=%s trigger=%s err=%v", ref.ChannelID, ref.MessageID, trigger, err)
		return fmt.Errorf("turn %s: %w", trigger, err)
	}
	return nil
}

func (m *Machine) Admit(ctx context.Context, ref messaging.EventRef) error {
	return m.Fire(ctx, ref, Admitted)
}

func (m *Machine) Queue(ctx context.Context, ref messaging.EventRef) error {
	return m.Fire(ctx, ref, Queued)
}

func (m *Machine) BeginGeneration(ctx context.Context, ref messaging.EventRef) error {
	return m.Fire(ctx, ref, BeginGeneration)
}

func (m *Machine) EndGeneration(ctx context.Context, ref messaging.EventRef) error {
	return m.Fire(ctx, ref, EndGeneration)
}

func (m *Machine) BeginAction(ctx context.Context, ref messaging.EventRef) error {
	return m.Fire(ctx, ref, BeginAction)
}

func (m *Machine) EndAction(ctx context.Context, ref messaging.EventRef) error {
	return m.Fire(ctx, ref, EndAction)
}

func (m *Machine) CompleteNoAction(ctx context.Context, ref messaging.EventRef) error {
	return m.Fire(ctx, ref, NoAction)
}

func (m *Machine) BeginWriting(ctx context.Context, ref messaging.EventRef) error {
	return m.Fire(ctx, ref, BeginWriting)
}

func (m *Machine) Delivered(ctx context.Context, ref messaging.EventRef) error {
	return m.Fire(ctx, ref, Delivered)
}

func (m *Machine) Fail(ctx context.Context, ref messaging.EventRef) error {
	return m.Fire(ctx, ref, Failed)
}

// Interrupt puts a turn cut short by shutdown back to WAIT until it is admitted again.
func (m *Machine) Interrupt(ctx context.Context, ref messaging.EventRef) error {
	return m.Fire(ctx, ref, Interrupted)
}

// Status returns the status the turn last entered, or "" when unknown.
func (m *Machine) Status(ref messaging.EventRef) Status {
	st := m.lookup(ref)
	if st == nil {
		return ""
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status
}

// Current returns the statuses whose reactions are currently on the message, sorted.
func (m *Machine) Current(ref messaging.EventRef) []Status {
	st := m.lookup(ref)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Status, 0, len(st.set))
	for s := range st.set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Machine) lookup(ref messaging.EventRef) *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turns[turnKey(ref)]
}

func (m *Machine) stateFor(ref messaging.EventRef) *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := turnKey(ref)
	if st, ok := m.turns[key]; ok {
		return st
	}
	if len(m.turns) >= m.maxTracked {
		m.evictTerminalLocked()
	}
	st := &state{set: make(map[Status]bool)}
	m.turns[key] = st
	return st
}

// evictTerminalLocked forgets finished turns. A turn that is being updated holds its
// own lock and is skipped.
func (m *Machine) evictTerminalLocked() {
	for key, st := range m.turns {
		if !st.mu.TryLock() {
			continue
		}
		terminal := st.status.Terminal()
		st.mu.Unlock()
		if terminal {
			delete(m.turns, key)
		}
	}
}

func turnKey(ref messaging.EventRef) string {
	return ref.Platform + "|" + ref.ChannelID + "|" + ref.MessageID
}
