package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/orket/orket/pkg/clock"
	"github.com/orket/orket/pkg/config"
	"github.com/orket/orket/pkg/gate"
	"github.com/orket/orket/pkg/models"
	"github.com/orket/orket/pkg/prompt"
	"github.com/orket/orket/pkg/provider"
	"github.com/orket/orket/pkg/store"
	"github.com/orket/orket/pkg/workflow"
)

// Executor drives one card activation end to end: prompt compilation,
// provider call, parse, gate, tool effects, transition proposal, and the
// ledger record. Exactly one turn row is appended per Execute call, no
// matter how the turn ends.
type Executor struct {
	cards    *store.CardStore
	ledger   *store.LedgerStore
	gate     *gate.Gate
	builder  *prompt.Builder
	provider provider.Provider
	roles    *config.RoleRegistry
	dialects *config.DialectRegistry
	clock    clock.Clock
	logger   *slog.Logger
	tools    ToolSet

	dialectID string
	dryRun    bool
}

// ExecutorDeps wires the executor's collaborators.
type ExecutorDeps struct {
	Cards    *store.CardStore
	Ledger   *store.LedgerStore
	Gate     *gate.Gate
	Builder  *prompt.Builder
	Provider provider.Provider
	Roles    *config.RoleRegistry
	Dialects *config.DialectRegistry
	Clock    clock.Clock
	Logger   *slog.Logger

	DialectID string
	DryRun    bool
}

// NewExecutor creates a turn executor.
func NewExecutor(deps ExecutorDeps) *Executor {
	return &Executor{
		cards:     deps.Cards,
		ledger:    deps.Ledger,
		gate:      deps.Gate,
		builder:   deps.Builder,
		provider:  deps.Provider,
		roles:     deps.Roles,
		dialects:  deps.Dialects,
		clock:     deps.Clock,
		logger:    deps.Logger,
		tools:     BuiltinTools(),
		dialectID: deps.DialectID,
		dryRun:    deps.DryRun,
	}
}

// Execute runs one turn for the card. The returned outcome is the only
// channel for turn-level failure: Execute never returns an error, and
// the orchestrator matches exhaustively on the outcome kind.
func (e *Executor) Execute(ctx context.Context, sessionID, cardID string) *models.TurnOutcome {
	started := e.clock.Now()
	turn := &models.Turn{
		ID:        clock.NewTurnID(),
		SessionID: sessionID,
		CardID:    cardID,
		StartedAt: started,
	}

	// 1. Load the fresh card; its current status is the optimistic
	// concurrency token for the eventual transition.
	card, err := e.cards.GetCard(ctx, cardID)
	if err != nil {
		return e.finish(ctx, turn, &models.TurnOutcome{Kind: models.OutcomeInternal, Err: err})
	}
	fromStatus := card.Status
	turn.Role = card.Role

	// 2. Resolve role and dialect assets.
	role, err := e.roles.Get(card.Role)
	if err != nil {
		return e.finish(ctx, turn, &models.TurnOutcome{Kind: models.OutcomeInternal, Err: err})
	}
	dialect, err := e.dialects.Get(e.dialectID)
	if err != nil {
		return e.finish(ctx, turn, &models.TurnOutcome{Kind: models.OutcomeInternal, Err: err})
	}

	// 3. Compile the prompt from card state and recent session context.
	recent, err := e.recentContext(ctx, sessionID)
	if err != nil {
		return e.finish(ctx, turn, &models.TurnOutcome{Kind: models.OutcomeInternal, Err: err})
	}
	p := e.builder.Build(role, dialect, card, recent)
	turn.PromptDigest = p.Digest()

	// 4. Call the provider.
	resp, err := e.provider.Complete(ctx, provider.Request{System: p.System, Prompt: p.User})
	if err != nil {
		return e.finish(ctx, turn, e.providerOutcome(err))
	}
	turn.ResponseDigest = digest(resp.Text)

	// 5. Parse the output. Any parse issue fails the whole turn: applying
	// the well-formed sections while dropping the rest would silently
	// honor only part of the model's declared intent.
	parsed := Parse(resp.Text, e.tools)
	for _, issue := range parsed.Issues {
		e.logger.Warn("Tool parse issue",
			slog.String("card_id", cardID),
			slog.String("code", string(issue.Code)),
			slog.String("message", issue.Message))
	}
	if parsed.HasIssues() || (len(parsed.Calls) == 0 && parsed.Transition == "") {
		return e.finish(ctx, turn, &models.TurnOutcome{
			Kind: models.OutcomeParseFailure,
			Err:  parseError(parsed.Issues),
		})
	}
	turn.ToolCalls = parsed.Calls
	turn.TransitionProposed = string(parsed.Transition)

	// 6. Gate every call before applying any effect. An error-severity
	// violation aborts the turn with nothing written.
	for _, call := range parsed.Calls {
		v, err := e.gate.Check(ctx, role, card, call)
		if err != nil {
			return e.finish(ctx, turn, &models.TurnOutcome{Kind: models.OutcomeInternal, Err: err})
		}
		if v != nil {
			e.recordViolation(ctx, sessionID, cardID, v)
			if v.Severity == models.SeverityError {
				return e.finish(ctx, turn, &models.TurnOutcome{
					Kind:      models.OutcomeToolGateViolation,
					Violation: v,
					Err:       v,
				})
			}
		}
	}

	// 7. Apply tool effects.
	if !e.dryRun {
		for _, call := range parsed.Calls {
			if err := e.applyCall(ctx, sessionID, call); err != nil {
				return e.finish(ctx, turn, &models.TurnOutcome{Kind: models.OutcomeInternal, Err: err})
			}
		}
	}

	// 8. Apply the declared transition under optimistic concurrency.
	if parsed.Transition != "" && !e.dryRun {
		err := e.cards.ProposeTransition(ctx, store.TransitionRequest{
			CardID:     cardID,
			FromStatus: fromStatus,
			ToStatus:   parsed.Transition,
			Roles:      []string{role.ID},
			WaitReason: parsed.WaitReason,
			SessionID:  sessionID,
		})
		switch {
		case err == nil:
			turn.TransitionApplied = true
		case errors.Is(err, store.ErrStaleState):
			return e.finish(ctx, turn, &models.TurnOutcome{Kind: models.OutcomeStaleState, Err: err})
		case isTransitionError(err):
			return e.finish(ctx, turn, &models.TurnOutcome{Kind: models.OutcomeIllegalTransition, Err: err})
		default:
			return e.finish(ctx, turn, &models.TurnOutcome{Kind: models.OutcomeInternal, Err: err})
		}
	}

	return e.finish(ctx, turn, &models.TurnOutcome{
		Kind:       models.OutcomeApplied,
		ToStatus:   parsed.Transition,
		WaitReason: parsed.WaitReason,
	})
}

// finish stamps the turn, persists it, and returns the outcome. Ledger
// write failures degrade to an internal outcome so the caller still gets
// a typed result.
func (e *Executor) finish(ctx context.Context, turn *models.Turn, outcome *models.TurnOutcome) *models.TurnOutcome {
	turn.EndedAt = e.clock.Now()
	if outcome.Kind != models.OutcomeApplied {
		turn.FailureCode = string(outcome.Kind)
	}
	if err := e.ledger.AppendTurn(ctx, turn); err != nil {
		e.logger.Error("Failed to record turn",
			slog.String("turn_id", turn.ID),
			slog.String("error", err.Error()))
		if outcome.Kind == models.OutcomeApplied {
			return &models.TurnOutcome{Kind: models.OutcomeInternal, Err: err}
		}
	}
	return outcome
}

// providerOutcome maps provider errors onto turn outcome kinds.
func (e *Executor) providerOutcome(err error) *models.TurnOutcome {
	switch {
	case errors.Is(err, context.Canceled):
		return &models.TurnOutcome{Kind: models.OutcomeCancelled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &models.TurnOutcome{Kind: models.OutcomeProviderTimeout, Err: err}
	case errors.Is(err, provider.ErrRejected):
		return &models.TurnOutcome{Kind: models.OutcomeProviderRejected, Err: err}
	case errors.Is(err, provider.ErrUnreachable):
		// Retries are exhausted by the time this surfaces.
		return &models.TurnOutcome{Kind: models.OutcomeProviderTimeout, Err: err}
	default:
		return &models.TurnOutcome{Kind: models.OutcomeInternal, Err: err}
	}
}

// recentContext summarizes prior turns for the prompt context window.
func (e *Executor) recentContext(ctx context.Context, sessionID string) ([]prompt.ContextEntry, error) {
	turns, err := e.ledger.TurnsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	entries := make([]prompt.ContextEntry, 0, len(turns))
	for _, t := range turns {
		entries = append(entries, prompt.ContextEntry{TurnID: t.ID, Summary: summarizeTurn(t)})
	}
	return entries, nil
}

// summarizeTurn renders one prior turn as a single context line.
func summarizeTurn(t models.Turn) string {
	var parts []string
	for _, call := range t.ToolCalls {
		parts = append(parts, call.Name)
	}
	summary := "no tool calls"
	if len(parts) > 0 {
		summary = "called " + strings.Join(parts, ", ")
	}
	if t.TransitionProposed != "" {
		verb := "proposed"
		if t.TransitionApplied {
			verb = "applied"
		}
		summary += fmt.Sprintf("; %s transition to %s", verb, t.TransitionProposed)
	}
	if t.FailureCode != "" {
		summary += "; failed: " + t.FailureCode
	}
	return summary
}

func (e *Executor) recordViolation(ctx context.Context, sessionID, cardID string, v *models.Violation) {
	e.logger.Warn("Tool gate violation",
		slog.String("card_id", cardID),
		slog.String("code", string(v.Code)),
		slog.String("severity", string(v.Severity)),
		slog.String("message", v.Message))
	if err := e.cards.AppendAudit(ctx, models.AuditEvent{
		SessionID: sessionID,
		CardID:    cardID,
		Type:      models.EventGateViolation,
		Detail:    fmt.Sprintf("%s: %s", v.Code, v.Message),
	}); err != nil {
		e.logger.Error("Failed to record gate violation", slog.String("error", err.Error()))
	}
}

// parseError folds parse issues into one diagnostic error.
func parseError(issues []models.ParseIssue) error {
	if len(issues) == 0 {
		return errors.New("output contained no tool calls and no transition")
	}
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Code, issue.Message))
	}
	return errors.New(strings.Join(parts, "; "))
}

func isTransitionError(err error) bool {
	var te *workflow.TransitionError
	return errors.As(err, &te)
}

func digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
