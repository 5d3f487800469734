package database

import "time"

// Message content kinds. Inbound events of unrecognized kinds keep the
// provider's kind string as-is.
const (
	KindText     = "text"
	KindTemplate = "template"
	KindImage    = "image"
)

// Message represents one entry in a conversation's append-only history.
// Seq is 1-based and monotonically increasing within a conversation;
// insertion order is authoritative, not timestamps.
type Message struct {
	ID             uint      `db:"id"              json:"-"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	Seq            int64     `db:"seq"             json:"seq"`
	Body           string    `db:"body"            json:"body"`
	Kind           string    `db:"kind"            json:"kind"`
	Outbound       bool      `db:"outbound"        json:"outbound"`
	CreatedAt      time.Time `db:"created_at"      json:"timestamp"`
}

// ChatSummary describes the most recent message of one conversation.
type ChatSummary struct {
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	LastBody       string    `db:"body"            json:"last_message"`
	LastKind       string    `db:"kind"            json:"kind"`
	Outbound       bool      `db:"outbound"        json:"outbound"`
	LastActivity   time.Time `db:"created_at"      json:"timestamp"`
}

// FunnelStep is one delayed template send within a funnel. Delay is in
// whole seconds and must be non-negative.
type FunnelStep struct {
	DelaySeconds int64  `db:"delay_seconds" json:"delay"    validate:"min=0"`
	Template     string `db:"template"      json:"template" validate:"required"`
}

// Delay returns the step delay as a duration.
func (s FunnelStep) Delay() time.Duration {
	return time.Duration(s.DelaySeconds) * time.Second
}
