package dialogue

import (
	"log/slog"
	"sync"
	"time"
)

type StateMachineOptions struct {
	OpeningMessages   int
	ClosingTimeout    time.Duration
	SwitchingDwell    time.Duration
	SwitchingMessages int
}

func DefaultStateMachineOptions() StateMachineOptions {
	return StateMachineOptions{
		OpeningMessages:   2,
		ClosingTimeout:    5 * time.Minute,
		SwitchingDwell:    30 * time.Second,
		SwitchingMessages: 2,
	}
}

// withDefaults fills the fields that cannot be zero. A zero SwitchingDwell
// leaves the switching state as soon as its message count is reached.
func (o *StateMachineOptions) withDefaults() {
	if o.OpeningMessages <= 0 {
		o.OpeningMessages = 2
	}
	if o.ClosingTimeout <= 0 {
		o.ClosingTimeout = 5 * time.Minute
	}
	if o.SwitchingMessages <= 0 {
		o.SwitchingMessages = 2
	}
}

// Snapshot describes a state machine at one instant.
type Snapshot struct {
	State           State         `json:"state"`
	MessageCount    int           `json:"message_count"`
	MessagesInState int           `json:"messages_in_state"`
	TimeInState     time.Duration `json:"time_in_state"`
}

// StateMachine tracks the dialogue phase of one conversation. Not safe for
// concurrent use; Registry serializes access.
type StateMachine struct {
	opts            StateMachineOptions
	state           State
	enteredAt       time.Time
	lastMessage     time.Time
	messageCount    int
	messagesInState int
	logger          *slog.Logger
}

func NewStateMachine(opts StateMachineOptions, now time.Time, logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	opts.withDefaults()
	return &StateMachine{
		opts:        opts,
		state:       StateOpening,
		enteredAt:   now,
		lastMessage: now,
		logger:      logger,
	}
}

// Transition processes one message arriving at now and returns the new state.
func (m *StateMachine) Transition(now time.Time, topicSwitched bool) State {
	gap := now.Sub(m.lastMessage)
	m.lastMessage = now
	m.messageCount++
	m.messagesInState++

	switch m.state {
	case StateOpening:
		if m.messageCount >= m.opts.OpeningMessages {
			m.enter(StateMaintaining, now)
		}
	case StateMaintaining:
		if topicSwitched {
			m.enter(StateSwitching, now)
		} else if gap > m.opts.ClosingTimeout {
			m.enter(StateClosing, now)
		}
	case StateSwitching:
		if now.Sub(m.enteredAt) >= m.opts.SwitchingDwell || m.messagesInState >= m.opts.SwitchingMessages {
			m.enter(StateMaintaining, now)
		}
	case StateClosing:
		m.enter(StateOpening, now)
		m.messageCount = 1
	}
	return m.state
}

func (m *StateMachine) enter(s State, now time.Time) {
	m.logger.Debug("dialogue state transition", "from", m.state, "to", s)
	m.state = s
	m.enteredAt = now
	m.messagesInState = 0
}

func (m *StateMachine) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		State:           m.state,
		MessageCount:    m.messageCount,
		MessagesInState: m.messagesInState,
		TimeInState:     now.Sub(m.enteredAt),
	}
}

// Registry owns one StateMachine per conversation key, created lazily.
type Registry struct {
	opts     StateMachineOptions
	mu       sync.Mutex
	machines map[string]*StateMachine
	logger   *slog.Logger
}

func NewRegistry(opts StateMachineOptions, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		opts:     opts,
		machines: make(map[string]*StateMachine),
		logger:   logger,
	}
}

func (r *Registry) machine(key string, now time.Time) *StateMachine {
	m, ok := r.machines[key]
	if !ok {
		m = NewStateMachine(r.opts, now, r.logger.With("conversation", key))
		r.machines[key] = m
	}
	return m
}

// Transition runs the transition for key.
func (r *Registry) Transition(key string, now time.Time, topicSwitched bool) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machine(key, now).Transition(now, topicSwitched)
}

// Snapshot returns the state of key. Unknown keys report a fresh machine.
func (r *Registry) Snapshot(key string, now time.Time) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.machines[key]; ok {
		return m.Snapshot(now)
	}
	return Snapshot{State: StateOpening}
}
