package models

import "time"

// LockoutBucket is the per-(kind, client) failure record backing the
// escalating lockout. It lives in Redis as a hash with a 24h absolute expiry
// refreshed on every attempt.
type LockoutBucket struct {
	// LastAttemptAt is the Unix second of the most recent unlock attempt.
	// Zero means no attempt has been recorded yet.
	LastAttemptAt int64
	// FailCount is monotonic within one lockout cycle; a successful unlock
	// deletes the whole bucket.
	FailCount int64
	// BlockedUntil is the Unix second the current block expires, 0 if none.
	BlockedUntil int64
}

// PrivateMessage is the envelope handed to the forum platform for delivery.
type PrivateMessage struct {
	MessageID   string `json:"message_id"`
	Sender      string `json:"sender"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	TargetGroup string `json:"target_group"`
	// MessageType is always "private" for gate submissions.
	MessageType string `json:"message_type"`
	CreatedAt   int64  `json:"created_at"`
}

// GateAuditEvent is one category-only decision record. It has no caller
// address, client id, session id, or content fields; adding one is a
// privacy regression.
type GateAuditEvent struct {
	EventTime time.Time `ch:"event_time"`
	Kind      string    `ch:"kind"`
	Action    string    `ch:"action"`
	Outcome   string    `ch:"outcome"`
}
