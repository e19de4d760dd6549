package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tbduarte/chatsync/internal/bus"
)

// Phase represents a connection lifecycle phase.
type Phase string

const (
	Disconnected Phase = "DISCONNECTED"
	Connecting   Phase = "CONNECTING"
	Connected    Phase = "CONNECTED"
	Reconnecting Phase = "RECONNECTING"
)

// Status is the full connection state of one conversation's live channel.
// Attempt and NextDelay are meaningful only while reconnecting.
type Status struct {
	Phase     Phase
	Attempt   int
	NextDelay time.Duration
}

// validTransitions defines allowed phase transitions.
var validTransitions = map[Phase][]Phase{
	Disconnected: {Connecting},
	Connecting:   {Connected, Reconnecting, Disconnected},
	Connected:    {Disconnected, Reconnecting},
	Reconnecting: {Connecting, Disconnected},
}

// Machine tracks and enforces the connection state of one conversation.
// It is owned by the connection manager; everyone else observes it through
// Current() and "conn.state_changed" bus events.
type Machine struct {
	mu             sync.RWMutex
	current        Status
	conversationID int64
	bus            *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
func NewMachine(conversationID int64, b *bus.Bus) *Machine {
	return &Machine{
		current:        Status{Phase: Disconnected},
		conversationID: conversationID,
		bus:            b,
	}
}

// Current returns the current status.
func (m *Machine) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new status. Returns an error if the phase
// transition is invalid.
func (m *Machine) Transition(to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current.Phase]
	if !slices.Contains(allowed, to.Phase) {
		return fmt.Errorf("invalid transition from %s to %s", m.current.Phase, to.Phase)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "conn.state_changed",
			Timestamp: time.Now(),
			Payload: Change{
				ConversationID: m.conversationID,
				From:           from,
				To:             to,
			},
		})
	}
	return nil
}

// Change is the payload for connection state change events.
type Change struct {
	ConversationID int64
	From           Status
	To             Status
}
