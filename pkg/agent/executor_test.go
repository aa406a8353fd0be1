package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orket/orket/pkg/clock"
	"github.com/orket/orket/pkg/config"
	"github.com/orket/orket/pkg/gate"
	"github.com/orket/orket/pkg/models"
	"github.com/orket/orket/pkg/prompt"
	"github.com/orket/orket/pkg/provider"
	"github.com/orket/orket/pkg/store"
)

type executorFixture struct {
	executor *Executor
	cards    *store.CardStore
	ledger   *store.LedgerStore
	sandbox  string
}

func newFixture(t *testing.T, backend provider.Provider) *executorFixture {
	t.Helper()
	dir := t.TempDir()
	sandbox := filepath.Join(dir, "agent_out")
	require.NoError(t, os.MkdirAll(sandbox, 0o755))

	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	cards, err := store.OpenCards(ctx, filepath.Join(dir, "cards.db"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cards.Close() })

	ledger, err := store.OpenLedger(ctx, filepath.Join(dir, "ledger.db"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	cfg := config.Default()
	roles := config.NewRoleRegistry(map[string]*models.Role{
		"developer": {
			ID:           "developer",
			SystemPrompt: "You implement task cards.",
			ToolsAllowed: []string{"write_file", "read_card", "record_note"},
		},
	})
	dialects := config.NewDialectRegistry(map[string]*models.Dialect{
		"plain": {ID: "plain", SystemWrapper: "%s", ToolCallSyntax: "sections"},
	})

	executor := NewExecutor(ExecutorDeps{
		Cards:     cards,
		Ledger:    ledger,
		Gate:      gate.New(sandbox, cfg.Gate, cfg.ComplexityGateThreshold, cards),
		Builder:   prompt.NewBuilder("", 0),
		Provider:  backend,
		Roles:     roles,
		Dialects:  dialects,
		Clock:     clk,
		Logger:    slog.New(slog.DiscardHandler),
		DialectID: "plain",
	})
	return &executorFixture{executor: executor, cards: cards, ledger: ledger, sandbox: sandbox}
}

func (f *executorFixture) seed(t *testing.T, status models.Status) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.cards.CreateCard(ctx, &models.Card{
		ID:       "card-1",
		Kind:     models.KindTask,
		Title:    "implement the thing",
		Status:   status,
		Role:     "developer",
		Priority: 1,
	}))
	_, err := f.ledger.CreateSession(ctx, "sess-1", "card-1")
	require.NoError(t, err)
}

func TestExecute_AppliedWithFileWrite(t *testing.T) {
	f := newFixture(t, provider.NewStub(StubResponse(
		"Tool: write_file\nCall-ID: c1\nArgs:\n  content: package main\n  path: src/main.go\n\nTransition: DONE\n")))
	f.seed(t, models.StatusInProgress)

	outcome := f.executor.Execute(context.Background(), "sess-1", "card-1")
	require.Equal(t, models.OutcomeApplied, outcome.Kind)
	assert.Equal(t, models.StatusDone, outcome.ToStatus)

	// Transition is observable immediately after the call returns.
	card, err := f.cards.GetCard(context.Background(), "card-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, card.Status)

	// The file landed inside the sandbox.
	data, err := os.ReadFile(filepath.Join(f.sandbox, "src", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(data))

	// Exactly one turn in the ledger, with digests and the tool call.
	turns, err := f.ledger.TurnsBySession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.True(t, turns[0].TransitionApplied)
	assert.NotEmpty(t, turns[0].PromptDigest)
	assert.NotEmpty(t, turns[0].ResponseDigest)
	require.Len(t, turns[0].ToolCalls, 1)
	assert.Equal(t, "write_file", turns[0].ToolCalls[0].Name)
}

func TestExecute_PathTraversalBlocked(t *testing.T) {
	f := newFixture(t, provider.NewStub(StubResponse(
		"Tool: write_file\nCall-ID: c1\nArgs:\n  content: pwned\n  path: ../../etc/passwd\n\nTransition: DONE\n")))
	f.seed(t, models.StatusInProgress)

	outcome := f.executor.Execute(context.Background(), "sess-1", "card-1")
	require.Equal(t, models.OutcomeToolGateViolation, outcome.Kind)
	require.NotNil(t, outcome.Violation)
	assert.Equal(t, models.ViolationPathEscape, outcome.Violation.Code)

	// No transition and no filesystem side effect.
	card, _ := f.cards.GetCard(context.Background(), "card-1")
	assert.Equal(t, models.StatusInProgress, card.Status)
	entries, err := os.ReadDir(f.sandbox)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The violation is in the audit trail and the turn carries the
	// failure code.
	audit, err := f.cards.AuditByCard(context.Background(), "card-1")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, models.EventGateViolation, audit[0].Type)

	turns, _ := f.ledger.TurnsBySession(context.Background(), "sess-1")
	require.Len(t, turns, 1)
	assert.Equal(t, string(models.OutcomeToolGateViolation), turns[0].FailureCode)
}

func TestExecute_ParseFailure(t *testing.T) {
	f := newFixture(t, provider.NewStub(StubResponse("I am not sure what to do here.")))
	f.seed(t, models.StatusInProgress)

	outcome := f.executor.Execute(context.Background(), "sess-1", "card-1")
	assert.Equal(t, models.OutcomeParseFailure, outcome.Kind)

	turns, _ := f.ledger.TurnsBySession(context.Background(), "sess-1")
	require.Len(t, turns, 1)
	assert.Equal(t, string(models.OutcomeParseFailure), turns[0].FailureCode)
}

func TestExecute_PartiallyMalformedOutputFailsTurn(t *testing.T) {
	// One unknown-tool section next to a well-formed call: the turn must
	// fail whole rather than apply the valid half of the output.
	f := newFixture(t, provider.NewStub(StubResponse(
		"Tool: rm_rf\nCall-ID: c1\nArgs:\n  path: /\n\n"+
			"Tool: record_note\nCall-ID: c2\nArgs:\n  text: looks fine\n\nTransition: DONE\n")))
	f.seed(t, models.StatusInProgress)

	outcome := f.executor.Execute(context.Background(), "sess-1", "card-1")
	require.Equal(t, models.OutcomeParseFailure, outcome.Kind)

	// Neither the valid call nor the transition took effect.
	card, err := f.cards.GetCard(context.Background(), "card-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, card.Status)
	events, err := f.ledger.EventsBySession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, events)

	turns, err := f.ledger.TurnsBySession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, string(models.OutcomeParseFailure), turns[0].FailureCode)
}

func TestExecute_ProviderRejected(t *testing.T) {
	f := newFixture(t, provider.NewStub(provider.StubStep{
		Err: fmt.Errorf("%w: bad prompt", provider.ErrRejected),
	}))
	f.seed(t, models.StatusInProgress)

	outcome := f.executor.Execute(context.Background(), "sess-1", "card-1")
	assert.Equal(t, models.OutcomeProviderRejected, outcome.Kind)
}

func TestExecute_IllegalTransitionFromModel(t *testing.T) {
	// The model declares DONE from a NEW card; the state machine rejects.
	f := newFixture(t, provider.NewStub(StubResponse("Transition: DONE\n")))
	f.seed(t, models.StatusNew)

	outcome := f.executor.Execute(context.Background(), "sess-1", "card-1")
	assert.Equal(t, models.OutcomeIllegalTransition, outcome.Kind)

	card, _ := f.cards.GetCard(context.Background(), "card-1")
	assert.Equal(t, models.StatusNew, card.Status)
}

func TestExecute_ReadCardFeedsContext(t *testing.T) {
	f := newFixture(t, provider.NewStub(StubResponse(
		"Tool: read_card\nCall-ID: c1\nArgs:\n  card_id: card-1\n\nTransition: CODE_REVIEW\n")))
	f.seed(t, models.StatusInProgress)

	outcome := f.executor.Execute(context.Background(), "sess-1", "card-1")
	require.Equal(t, models.OutcomeApplied, outcome.Kind)

	events, err := f.ledger.EventsBySession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Detail, "read card card-1")
}

// StubResponse scripts one successful completion.
func StubResponse(text string) provider.StubStep {
	return provider.StubStep{Text: text}
}
