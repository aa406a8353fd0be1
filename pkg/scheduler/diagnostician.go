package scheduler

import (
	"fmt"

	"github.com/orket/orket/pkg/config"
	"github.com/orket/orket/pkg/models"
)

// Severity classifies the workspace posture.
type Severity string

// Diagnostic severities, ordered OK < WARNING < CRITICAL.
const (
	SeverityOK       Severity = "OK"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// Diagnostic is the operator-facing posture snapshot. Advisory only: the
// selector never consults it.
type Diagnostic struct {
	Severity       Severity          `json:"severity"`
	DominantReason models.WaitReason `json:"dominant_reason,omitempty"`
	ActionHint     string            `json:"action_hint"`
	BlockedTotal   int               `json:"blocked_total"`
	ActiveTurns    int               `json:"active_turns"`
}

// Diagnostician classifies blocked-card counts against configured
// thresholds.
type Diagnostician struct {
	thresholds config.BottleneckThresholds
}

// NewDiagnostician creates a diagnostician.
func NewDiagnostician(thresholds config.BottleneckThresholds) *Diagnostician {
	return &Diagnostician{thresholds: thresholds}
}

// Diagnose applies the classification rules to the current wait-reason
// counts and active turn count. Rules escalate, never downgrade: each
// matching rule raises severity to at least its level.
func (d *Diagnostician) Diagnose(counts map[models.WaitReason]int, activeTurns int) Diagnostic {
	blockedTotal := 0
	for _, n := range counts {
		blockedTotal += n
	}

	diag := Diagnostic{
		Severity:     SeverityOK,
		BlockedTotal: blockedTotal,
		ActiveTurns:  activeTurns,
	}
	if blockedTotal == 0 {
		diag.ActionHint = "no blocked cards; no action needed"
		return diag
	}
	diag.DominantReason = dominantReason(counts)

	switch {
	case blockedTotal > d.thresholds.ResourceWarning:
		diag.Severity = SeverityCritical
		diag.ActionHint = "chronic bottleneck"
	case blockedTotal > d.thresholds.ResourceNormal:
		diag.Severity = SeverityWarning
		diag.ActionHint = "queue building"
	default:
		diag.ActionHint = "blocked count within normal bounds"
	}

	// Blocked work with nothing executing is critical no matter the counts.
	if activeTurns == 0 {
		diag.escalate(SeverityCritical, "blocked but idle")
	}

	if counts[models.WaitInput] > 0 && blockedTotal >= d.thresholds.HumanAttentionThreshold {
		diag.DominantReason = models.WaitInput
		diag.escalate(SeverityWarning, "cards are waiting on developer input")
	}

	if float64(counts[models.WaitDependency]) > d.thresholds.DependencyWarningPct*float64(blockedTotal) {
		diag.DominantReason = models.WaitDependency
		diag.escalate(SeverityWarning, "dependency chains dominate the blocked set; re-plan the graph")
	}

	diag.ActionHint = fmt.Sprintf("%s: %s", diag.ActionHint, remedyFor(diag.DominantReason))
	return diag
}

// escalate raises severity to at least the given level and prepends the
// rule's hint when it escalated.
func (d *Diagnostic) escalate(to Severity, hint string) {
	if to.rank() > d.Severity.rank() {
		d.Severity = to
		d.ActionHint = hint
	}
}

// dominantReason picks the wait reason with the highest count; ties break
// in the fixed order RESOURCE, DEPENDENCY, REVIEW, INPUT so the result is
// deterministic.
func dominantReason(counts map[models.WaitReason]int) models.WaitReason {
	order := []models.WaitReason{
		models.WaitResource,
		models.WaitDependency,
		models.WaitReview,
		models.WaitInput,
	}
	best := order[0]
	bestCount := -1
	for _, reason := range order {
		if counts[reason] > bestCount {
			best = reason
			bestCount = counts[reason]
		}
	}
	return best
}

// remedyFor maps the dominant reason to an operator action.
func remedyFor(reason models.WaitReason) string {
	switch reason {
	case models.WaitResource:
		return "add execution capacity"
	case models.WaitDependency:
		return "re-plan or split the dependency chain"
	case models.WaitReview:
		return "pending reviews need human attention"
	case models.WaitInput:
		return "a developer must supply the requested input"
	default:
		return "inspect blocked cards"
	}
}
