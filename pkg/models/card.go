// Package models holds the domain types shared across the engine: cards,
// sessions, turns, roles, dialects, and governance violations. Types here
// carry no behaviour beyond validation and migration helpers.
package models

import (
	"strconv"
	"time"
)

// Kind classifies a card in the work hierarchy.
type Kind string

// Card kinds.
const (
	KindInitiative Kind = "initiative"
	KindProject    Kind = "project"
	KindTask       Kind = "task"
)

// IsValid checks whether the kind is one of the known values.
func (k Kind) IsValid() bool {
	switch k {
	case KindInitiative, KindProject, KindTask:
		return true
	default:
		return false
	}
}

// MigrateKind maps legacy kind names onto the current vocabulary.
// Unknown names pass through unchanged so validation can reject them
// with the original value in the message.
func MigrateKind(raw string) Kind {
	switch raw {
	case "rock":
		return KindInitiative
	case "epic":
		return KindProject
	case "issue":
		return KindTask
	default:
		return Kind(raw)
	}
}

// Status is the card lifecycle state.
type Status string

// Card statuses.
const (
	StatusNew                 Status = "NEW"
	StatusReady               Status = "READY"
	StatusInProgress          Status = "IN_PROGRESS"
	StatusCodeReview          Status = "CODE_REVIEW"
	StatusBlocked             Status = "BLOCKED"
	StatusWaitingForDeveloper Status = "WAITING_FOR_DEVELOPER"
	StatusDone                Status = "DONE"
	StatusFailed              Status = "FAILED"
	StatusArchived            Status = "ARCHIVED"
)

// IsValid checks whether the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusReady, StatusInProgress, StatusCodeReview,
		StatusBlocked, StatusWaitingForDeveloper, StatusDone,
		StatusFailed, StatusArchived:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status ends the card's lifecycle.
// Terminal cards satisfy dependency edges.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusArchived || s == StatusFailed
}

// IsBlockedClass reports whether the status requires a wait reason.
func (s Status) IsBlockedClass() bool {
	return s == StatusBlocked || s == StatusWaitingForDeveloper
}

// WaitReason explains why a blocked-class card cannot proceed.
type WaitReason string

// Wait reasons.
const (
	WaitResource   WaitReason = "RESOURCE"
	WaitDependency WaitReason = "DEPENDENCY"
	WaitReview     WaitReason = "REVIEW"
	WaitInput      WaitReason = "INPUT"
)

// IsValid checks whether the reason is one of the known values.
func (w WaitReason) IsValid() bool {
	switch w {
	case WaitResource, WaitDependency, WaitReview, WaitInput:
		return true
	default:
		return false
	}
}

// Card is one work item in the workspace graph. The ID is immutable;
// status changes only through the transition API.
type Card struct {
	ID       string  `json:"id"`
	Kind     Kind    `json:"kind"`
	ParentID string  `json:"parent_id,omitempty"`
	Title    string  `json:"title"`
	Status   Status  `json:"status"`
	Role     string  `json:"role"`
	Priority float64 `json:"priority"`
	// WaitReason is set iff Status is a blocked-class status.
	WaitReason      WaitReason        `json:"wait_reason,omitempty"`
	DependsOn       []string          `json:"depends_on,omitempty"`
	RequirementsRef string            `json:"requirements_ref,omitempty"`
	VerificationRef string            `json:"verification_ref,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// MigratePriority converts legacy string priorities to the numeric scale.
// Numeric strings pass through; unknown labels default to the lowest
// priority rather than failing an import.
func MigratePriority(raw string) float64 {
	switch raw {
	case "High", "high":
		return 3.0
	case "Medium", "medium":
		return 2.0
	case "Low", "low":
		return 1.0
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	return 1.0
}
