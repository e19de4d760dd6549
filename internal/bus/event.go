package bus

import "time"

// Event represents a domain event published on the bus.
// Kind is a dotted name like "conn.state_changed" or "message.confirmed".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
