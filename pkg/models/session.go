package models

import "time"

// SessionStatus is the lifecycle state of an orchestration session.
type SessionStatus string

// Session statuses.
const (
	SessionRunning     SessionStatus = "running"
	SessionCompleted   SessionStatus = "completed"
	SessionFailed      SessionStatus = "failed"
	SessionInterrupted SessionStatus = "interrupted"
)

// IsTerminal reports whether the session has finished.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionInterrupted
}

// Session is one orchestration run over a target card.
type Session struct {
	ID           string        `json:"session_id"`
	TargetCardID string        `json:"target_card_id"`
	Status       SessionStatus `json:"status"`
	Outcome      string        `json:"outcome,omitempty"`
	TurnCount    int           `json:"turn_count"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	// HeartbeatAt is refreshed while the loop runs; used for orphan
	// recovery after an unclean shutdown.
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

// AuditEvent is one append-only ledger entry. Events for a single card are
// committed in order; global ordering across cards is not guaranteed.
type AuditEvent struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	CardID    string    `json:"card_id,omitempty"`
	Type      string    `json:"type"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Audit event types emitted by the engine.
const (
	EventTransition     = "transition"
	EventTurnStarted    = "turn_started"
	EventTurnFinished   = "turn_finished"
	EventProviderRetry  = "provider_retry"
	EventGateViolation  = "gate_violation"
	EventDiagnostic     = "diagnostic"
	EventCheckpoint     = "checkpoint"
	EventFailureLesson  = "failure_lesson"
	EventSessionStarted = "session_started"
	EventSessionEnded   = "session_ended"
)

// SessionSnapshot is a read-consistent view of one session plus its turns.
type SessionSnapshot struct {
	Session Session      `json:"session"`
	Turns   []Turn       `json:"turns"`
	Events  []AuditEvent `json:"events"`
}
