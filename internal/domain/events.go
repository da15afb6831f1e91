package domain

import "time"

// Event names published on the signal bus.
const (
	EventMarketCreated   = "market_created"
	EventMarketClosed    = "market_closed"
	EventDeposit         = "deposit"
	EventRedeem          = "redeem"
	EventNoteTransferred = "note_transferred"
	EventCircuitBreaker  = "circuit_breaker"
)

// Event is the JSON envelope published on the signal bus and mirrored to the
// durable event stream.
type Event struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}
