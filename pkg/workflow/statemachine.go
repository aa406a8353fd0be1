// Package workflow defines the card state machine: the table of legal
// status transitions, role authorization, and wait-reason rules.
package workflow

import (
	"fmt"

	"github.com/orket/orket/pkg/models"
)

// TransitionError is the typed rejection of an illegal transition.
// It is never coerced into a legal one.
type TransitionError struct {
	From   models.Status
	To     models.Status
	Reason string
}

// Transition rejection reasons.
const (
	ReasonUnknownTransition  = "unknown_transition"
	ReasonWaitReasonRequired = "wait_reason_required"
	ReasonWaitReasonInvalid  = "wait_reason_invalid"
	ReasonRoleDenied         = "role_denied"
	ReasonTerminalStatus     = "terminal_status"
)

// Error returns the formatted rejection.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s: %s", e.From, e.To, e.Reason)
}

// Rule is one row of the transition table.
type Rule struct {
	From models.Status
	To   models.Status
	// RequiredRoles is the set of roles allowed to act. Empty means any
	// role. The acting agent's role set must intersect this set.
	RequiredRoles []string
}

// The operator seat. Only it may un-archive.
const RoleOperator = "operator"

// table holds every legal transition. Terminal statuses are sinks except
// the operator-initiated un-archive row.
var table = []Rule{
	{From: models.StatusNew, To: models.StatusReady},
	{From: models.StatusNew, To: models.StatusArchived, RequiredRoles: []string{RoleOperator}},
	{From: models.StatusReady, To: models.StatusInProgress},
	{From: models.StatusReady, To: models.StatusBlocked},
	{From: models.StatusInProgress, To: models.StatusCodeReview},
	{From: models.StatusInProgress, To: models.StatusDone},
	{From: models.StatusInProgress, To: models.StatusBlocked},
	{From: models.StatusInProgress, To: models.StatusWaitingForDeveloper},
	{From: models.StatusInProgress, To: models.StatusFailed},
	{From: models.StatusCodeReview, To: models.StatusDone},
	{From: models.StatusCodeReview, To: models.StatusInProgress},
	{From: models.StatusCodeReview, To: models.StatusFailed},
	{From: models.StatusBlocked, To: models.StatusReady},
	{From: models.StatusBlocked, To: models.StatusFailed},
	{From: models.StatusWaitingForDeveloper, To: models.StatusReady},
	{From: models.StatusDone, To: models.StatusArchived},
	{From: models.StatusArchived, To: models.StatusNew, RequiredRoles: []string{RoleOperator}},
}

// index is the table keyed by (from, to), built once at init.
var index = func() map[[2]models.Status]Rule {
	m := make(map[[2]models.Status]Rule, len(table))
	for _, r := range table {
		m[[2]models.Status{r.From, r.To}] = r
	}
	return m
}()

// Validate checks a proposed transition against the table. roles is the
// acting agent's role set; waitReason may be empty. A nil return means
// the transition is legal.
func Validate(from, to models.Status, roles []string, waitReason models.WaitReason) error {
	// Wait-reason rule comes before the table lookup so the caller gets
	// the specific reason rather than a generic rejection.
	if to.IsBlockedClass() {
		if waitReason == "" {
			return &TransitionError{From: from, To: to, Reason: ReasonWaitReasonRequired}
		}
		if !waitReason.IsValid() {
			return &TransitionError{From: from, To: to, Reason: ReasonWaitReasonInvalid}
		}
	}

	rule, ok := index[[2]models.Status{from, to}]
	if !ok {
		if from.IsTerminal() {
			return &TransitionError{From: from, To: to, Reason: ReasonTerminalStatus}
		}
		return &TransitionError{From: from, To: to, Reason: ReasonUnknownTransition}
	}

	if len(rule.RequiredRoles) > 0 && !intersects(rule.RequiredRoles, roles) {
		return &TransitionError{From: from, To: to, Reason: ReasonRoleDenied}
	}
	return nil
}

// Legal reports whether (from, to) exists in the table, ignoring roles
// and wait reasons. Used by audit verification.
func Legal(from, to models.Status) bool {
	_, ok := index[[2]models.Status{from, to}]
	return ok
}

func intersects(required, actual []string) bool {
	for _, r := range required {
		for _, a := range actual {
			if r == a {
				return true
			}
		}
	}
	return false
}
