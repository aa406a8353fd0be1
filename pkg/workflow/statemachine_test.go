package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orket/orket/pkg/models"
)

func TestValidate_LegalTransitions(t *testing.T) {
	tests := []struct {
		name       string
		from       models.Status
		to         models.Status
		roles      []string
		waitReason models.WaitReason
	}{
		{name: "new to ready", from: models.StatusNew, to: models.StatusReady},
		{name: "ready to in progress", from: models.StatusReady, to: models.StatusInProgress},
		{name: "in progress to code review", from: models.StatusInProgress, to: models.StatusCodeReview},
		{name: "in progress to done", from: models.StatusInProgress, to: models.StatusDone},
		{name: "code review back to in progress", from: models.StatusCodeReview, to: models.StatusInProgress},
		{name: "blocked back to ready", from: models.StatusBlocked, to: models.StatusReady},
		{name: "done to archived", from: models.StatusDone, to: models.StatusArchived},
		{
			name:       "in progress to blocked with reason",
			from:       models.StatusInProgress,
			to:         models.StatusBlocked,
			waitReason: models.WaitDependency,
		},
		{
			name:       "waiting for developer with reason",
			from:       models.StatusInProgress,
			to:         models.StatusWaitingForDeveloper,
			waitReason: models.WaitInput,
		},
		{
			name:  "operator un-archive",
			from:  models.StatusArchived,
			to:    models.StatusNew,
			roles: []string{RoleOperator},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, Validate(tt.from, tt.to, tt.roles, tt.waitReason))
		})
	}
}

func TestValidate_IllegalTransitions(t *testing.T) {
	tests := []struct {
		name       string
		from       models.Status
		to         models.Status
		roles      []string
		waitReason models.WaitReason
		reason     string
	}{
		{
			name:   "new straight to done",
			from:   models.StatusNew,
			to:     models.StatusDone,
			reason: ReasonUnknownTransition,
		},
		{
			name:   "done is a sink",
			from:   models.StatusDone,
			to:     models.StatusInProgress,
			reason: ReasonTerminalStatus,
		},
		{
			name:   "failed is a sink",
			from:   models.StatusFailed,
			to:     models.StatusReady,
			reason: ReasonTerminalStatus,
		},
		{
			name:   "blocked requires wait reason",
			from:   models.StatusInProgress,
			to:     models.StatusBlocked,
			reason: ReasonWaitReasonRequired,
		},
		{
			name:       "wait reason must be known",
			from:       models.StatusInProgress,
			to:         models.StatusBlocked,
			waitReason: models.WaitReason("COFFEE"),
			reason:     ReasonWaitReasonInvalid,
		},
		{
			name:   "un-archive needs the operator seat",
			from:   models.StatusArchived,
			to:     models.StatusNew,
			roles:  []string{"developer"},
			reason: ReasonRoleDenied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.from, tt.to, tt.roles, tt.waitReason)
			require.Error(t, err)

			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.reason, te.Reason)
			assert.Equal(t, tt.from, te.From)
			assert.Equal(t, tt.to, te.To)
		})
	}
}

func TestValidate_WaitReasonCheckedBeforeTable(t *testing.T) {
	// Even a pair that is not in the table reports the missing wait
	// reason first, so callers see the actionable failure.
	err := Validate(models.StatusNew, models.StatusBlocked, nil, "")
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReasonWaitReasonRequired, te.Reason)
}

func TestLegal(t *testing.T) {
	assert.True(t, Legal(models.StatusReady, models.StatusInProgress))
	assert.False(t, Legal(models.StatusReady, models.StatusDone))
}
