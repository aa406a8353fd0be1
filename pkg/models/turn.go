package models

import "time"

// OutcomeKind discriminates the typed result of one executed turn.
// The orchestrator matches exhaustively on this value; no other component
// branches on error kind.
type OutcomeKind string

// Turn outcome kinds.
const (
	OutcomeApplied           OutcomeKind = "APPLIED"
	OutcomeStaleState        OutcomeKind = "STALE_STATE"
	OutcomeToolGateViolation OutcomeKind = "TOOL_GATE_VIOLATION"
	OutcomeParseFailure      OutcomeKind = "PARSE_FAILURE"
	OutcomeProviderTimeout   OutcomeKind = "PROVIDER_TIMEOUT"
	OutcomeProviderRejected  OutcomeKind = "PROVIDER_REJECTED"
	OutcomeIllegalTransition OutcomeKind = "ILLEGAL_TRANSITION"
	OutcomeCancelled         OutcomeKind = "CANCELLED"
	OutcomeInternal          OutcomeKind = "INTERNAL"
)

// IsTransient reports whether the orchestrator may requeue the card
// with backoff. All other non-applied outcomes fail the card.
func (k OutcomeKind) IsTransient() bool {
	return k == OutcomeProviderTimeout || k == OutcomeProviderRejected
}

// TurnOutcome is the single return value of the turn executor. Exactly one
// turn is recorded per dispatched card activation, whatever the outcome.
type TurnOutcome struct {
	Kind OutcomeKind
	// ToStatus is set when Kind == OutcomeApplied.
	ToStatus   Status
	WaitReason WaitReason
	// Violation is set when Kind == OutcomeToolGateViolation.
	Violation *Violation
	// Err carries diagnostic detail for non-applied outcomes.
	Err error
}

// Turn is a single model invocation inside a session: one atomic unit in
// the audit ledger.
type Turn struct {
	ID                 string     `json:"turn_id"`
	SessionID          string     `json:"session_id"`
	CardID             string     `json:"card_id"`
	Role               string     `json:"role"`
	PromptDigest       string     `json:"prompt_digest"`
	ResponseDigest     string     `json:"response_digest"`
	ToolCalls          []ToolCall `json:"tool_calls,omitempty"`
	TransitionProposed string     `json:"transition_proposed,omitempty"`
	TransitionApplied  bool       `json:"transition_applied"`
	FailureCode        string     `json:"failure_code,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            time.Time  `json:"ended_at"`
}

// ToolCall is one structured tool invocation extracted from model output.
type ToolCall struct {
	ID   string            `json:"id"`
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// ParseIssueCode classifies tool parser failures.
type ParseIssueCode string

// Parse issue codes.
const (
	ParseEmptyOutput        ParseIssueCode = "EMPTY_OUTPUT"
	ParseMalformedCall      ParseIssueCode = "MALFORMED_CALL"
	ParseUnknownTool        ParseIssueCode = "UNKNOWN_TOOL"
	ParseDuplicateCallID    ParseIssueCode = "DUPLICATE_CALL_ID"
	ParseMissingRequiredArg ParseIssueCode = "MISSING_REQUIRED_ARG"
)

// ParseIssue is a typed parser diagnostic. The parser never returns an
// error; every failure condition surfaces as an issue.
type ParseIssue struct {
	Code    ParseIssueCode `json:"code"`
	Message string         `json:"message"`
}
