package calllog

import "time"

// Event is an immutable, append-only record of one thing that happened
// on one phone call.
//
// Invariants:
// - Events are never updated or deleted.
// - merchant_id is required for tenancy isolation.
// - Appends are best-effort; do not block the live call on log failures.
//
// Storage recommendation (Postgres):
// - Table call_events with an INSERT-only policy.
// - Optional: partition by time for retention.

type Event struct {
	ID         string `json:"id" db:"id"`
	MerchantID string `json:"merchant_id" db:"merchant_id"`

	// Type indicates the lifecycle category of the record.
	Type EventType `json:"type" db:"type"`

	// CallSid is Twilio's call identifier; StreamSid the media stream's.
	CallSid   string `json:"call_sid" db:"call_sid"`
	StreamSid string `json:"stream_sid,omitempty" db:"stream_sid"`

	// ToolName is set on tool_invoked events.
	ToolName string `json:"tool_name,omitempty" db:"tool_name"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallBridged EventType = "call_bridged"
	EventTypeToolInvoked EventType = "tool_invoked"
	EventTypeCallEnded   EventType = "call_ended"
	EventTypeCallFailed  EventType = "call_failed"
)
