package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orket/orket/pkg/clock"
	"github.com/orket/orket/pkg/models"
	"github.com/orket/orket/pkg/workflow"
)

func testCardStore(t *testing.T) *CardStore {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s, err := OpenCards(context.Background(), filepath.Join(t.TempDir(), "cards.db"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTask(id string, status models.Status, deps ...string) *models.Card {
	return &models.Card{
		ID:        id,
		Kind:      models.KindTask,
		Title:     "task " + id,
		Status:    status,
		Role:      "developer",
		Priority:  1,
		DependsOn: deps,
	}
}

func TestCreateAndGetCard(t *testing.T) {
	s := testCardStore(t)
	ctx := context.Background()

	card := newTask("card-1", models.StatusNew)
	card.Metadata = map[string]string{"origin": "import"}
	require.NoError(t, s.CreateCard(ctx, card))

	got, err := s.GetCard(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, models.KindTask, got.Kind)
	assert.Equal(t, models.StatusNew, got.Status)
	assert.Equal(t, "import", got.Metadata["origin"])
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.GetCard(ctx, "card-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateCard_Validation(t *testing.T) {
	s := testCardStore(t)
	ctx := context.Background()

	bad := newTask("card-1", models.StatusNew)
	bad.Kind = models.Kind("widget")
	assert.Error(t, s.CreateCard(ctx, bad))

	// Blocked-class status without a wait reason is rejected at creation.
	blocked := newTask("card-2", models.StatusBlocked)
	assert.Error(t, s.CreateCard(ctx, blocked))

	blocked.WaitReason = models.WaitDependency
	assert.NoError(t, s.CreateCard(ctx, blocked))
}

func TestCreateCard_DuplicateID(t *testing.T) {
	s := testCardStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCard(ctx, newTask("card-1", models.StatusNew)))
	err := s.CreateCard(ctx, newTask("card-1", models.StatusNew))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestDependencyCycleRejected(t *testing.T) {
	s := testCardStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCard(ctx, newTask("a", models.StatusNew)))
	require.NoError(t, s.CreateCard(ctx, newTask("b", models.StatusNew, "a")))
	require.NoError(t, s.CreateCard(ctx, newTask("c", models.StatusNew, "b")))

	// a -> c would close the loop a <- b <- c.
	err := s.AddDependency(ctx, "a", "c")
	assert.ErrorIs(t, err, ErrDependencyCycle)

	// Self-dependency is the degenerate cycle.
	err = s.AddDependency(ctx, "a", "a")
	assert.ErrorIs(t, err, ErrDependencyCycle)

	// Creating a card whose edges close a loop fails atomically: no row
	// is left behind.
	err = s.CreateCard(ctx, newTask("d", models.StatusNew, "d"))
	require.Error(t, err)
	_, err = s.GetCard(ctx, "d")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListReady_FiltersUnmetDependencies(t *testing.T) {
	s := testCardStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCard(ctx, newTask("done-dep", models.StatusDone)))
	require.NoError(t, s.CreateCard(ctx, newTask("open-dep", models.StatusInProgress)))
	require.NoError(t, s.CreateCard(ctx, newTask("ready-free", models.StatusReady)))
	require.NoError(t, s.CreateCard(ctx, newTask("ready-met", models.StatusReady, "done-dep")))
	require.NoError(t, s.CreateCard(ctx, newTask("ready-gated", models.StatusReady, "open-dep")))

	ready, err := s.ListReady(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(ready))
	for _, c := range ready {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"ready-free", "ready-met"}, ids)
}

func TestProposeTransition_AppliesAndAudits(t *testing.T) {
	s := testCardStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCard(ctx, newTask("card-1", models.StatusReady)))
	require.NoError(t, s.ProposeTransition(ctx, TransitionRequest{
		CardID:     "card-1",
		FromStatus: models.StatusReady,
		ToStatus:   models.StatusInProgress,
		SessionID:  "sess-1",
	}))

	got, err := s.GetCard(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)

	events, err := s.AuditByCard(ctx, "card-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTransition, events[0].Type)
	assert.Contains(t, events[0].Detail, "READY -> IN_PROGRESS")
}

func TestProposeTransition_IllegalRejected(t *testing.T) {
	s := testCardStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCard(ctx, newTask("card-1", models.StatusNew)))
	err := s.ProposeTransition(ctx, TransitionRequest{
		CardID:     "card-1",
		FromStatus: models.StatusNew,
		ToStatus:   models.StatusDone,
	})
	var te *workflow.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, workflow.ReasonUnknownTransition, te.Reason)

	// Nothing was written.
	got, _ := s.GetCard(ctx, "card-1")
	assert.Equal(t, models.StatusNew, got.Status)
	events, _ := s.AuditByCard(ctx, "card-1")
	assert.Empty(t, events)
}

func TestProposeTransition_WaitReasonRequired(t *testing.T) {
	s := testCardStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCard(ctx, newTask("card-1", models.StatusInProgress)))
	err := s.ProposeTransition(ctx, TransitionRequest{
		CardID:     "card-1",
		FromStatus: models.StatusInProgress,
		ToStatus:   models.StatusBlocked,
	})
	var te *workflow.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, workflow.ReasonWaitReasonRequired, te.Reason)
}

func TestProposeTransition_WaitReasonLifecycle(t *testing.T) {
	s := testCardStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCard(ctx, newTask("card-1", models.StatusInProgress)))
	require.NoError(t, s.ProposeTransition(ctx, TransitionRequest{
		CardID:     "card-1",
		FromStatus: models.StatusInProgress,
		ToStatus:   models.StatusBlocked,
		WaitReason: models.WaitReview,
	}))

	got, _ := s.GetCard(ctx, "card-1")
	assert.Equal(t, models.WaitReview, got.WaitReason)

	// Leaving the blocked class clears the reason.
	require.NoError(t, s.ProposeTransition(ctx, TransitionRequest{
		CardID:     "card-1",
		FromStatus: models.StatusBlocked,
		ToStatus:   models.StatusReady,
	}))
	got, _ = s.GetCard(ctx, "card-1")
	assert.Empty(t, got.WaitReason)
}

func TestProposeTransition_StaleState(t *testing.T) {
	s := testCardStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCard(ctx, newTask("card-1", models.StatusReady)))
	require.NoError(t, s.ProposeTransition(ctx, TransitionRequest{
		CardID:     "card-1",
		FromStatus: models.StatusReady,
		ToStatus:   models.StatusInProgress,
	}))

	err := s.ProposeTransition(ctx, TransitionRequest{
		CardID:     "card-1",
		FromStatus: models.StatusReady,
		ToStatus:   models.StatusInProgress,
	})
	assert.ErrorIs(t, err, ErrStaleState)
}

// Two racing proposals from the same snapshot: exactly one applies, the
// other observes StaleState.
func TestProposeTransition_ConcurrentRace(t *testing.T) {
	s := testCardStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCard(ctx, newTask("card-1", models.StatusReady)))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.ProposeTransition(ctx, TransitionRequest{
				CardID:     "card-1",
				FromStatus: models.StatusReady,
				ToStatus:   models.StatusInProgress,
			})
		}(i)
	}
	wg.Wait()

	applied, stale := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			applied++
		case assert.ErrorIs(t, err, ErrStaleState):
			stale++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, stale)

	got, err := s.GetCard(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
}

func TestCountByWaitReason(t *testing.T) {
	s := testCardStore(t)
	ctx := context.Background()

	for i, reason := range []models.WaitReason{models.WaitResource, models.WaitResource, models.WaitInput} {
		card := newTask(string(rune('a'+i)), models.StatusBlocked)
		card.WaitReason = reason
		require.NoError(t, s.CreateCard(ctx, card))
	}
	require.NoError(t, s.CreateCard(ctx, newTask("free", models.StatusReady)))

	counts, err := s.CountByWaitReason(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.WaitResource])
	assert.Equal(t, 1, counts[models.WaitInput])
	assert.Zero(t, counts[models.WaitDependency])
}
