// Package orchestrator drives the traction loop: scan the backlog, pick
// the critical-path card, execute one turn, interpret the typed outcome,
// and persist everything to the ledger. One logical thread makes all
// scheduling decisions; I/O underneath runs concurrently.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orket/orket/pkg/agent"
	"github.com/orket/orket/pkg/clock"
	"github.com/orket/orket/pkg/config"
	"github.com/orket/orket/pkg/models"
	"github.com/orket/orket/pkg/scheduler"
	"github.com/orket/orket/pkg/store"
	"github.com/orket/orket/pkg/verifier"
)

// State is the loop's observable phase, for logs and the status API.
type State string

// Loop states.
const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateDispatched State = "dispatched"
	StateWaiting    State = "waiting"
	StateQuiescent  State = "quiescent"
	StateStopping   State = "stopping"
)

// Orchestrator runs sessions over a workspace. One orchestrator serves
// one workspace; the ledger's uniqueness rule keeps concurrent processes
// from racing on the same target.
type Orchestrator struct {
	cards     *store.CardStore
	ledger    *store.LedgerStore
	selector  *scheduler.Selector
	diag      *scheduler.Diagnostician
	executor  *agent.Executor
	verifier  *verifier.Runner
	profiles  map[string]verifier.Profile
	clock     clock.Clock
	logger    *slog.Logger
	loopCfg   config.LoopConfig
	retryBase time.Duration

	mu    sync.Mutex
	state State

	// inFlight counts turns currently executing, so diagnostics can tell
	// a working session from an idle one.
	inFlight atomic.Int32
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Cards    *store.CardStore
	Ledger   *store.LedgerStore
	Selector *scheduler.Selector
	Diag     *scheduler.Diagnostician
	Executor *agent.Executor
	Verifier *verifier.Runner
	Profiles map[string]verifier.Profile
	Clock    clock.Clock
	Logger   *slog.Logger
	LoopCfg  config.LoopConfig
	// RetryBase is the backoff base for requeued transient failures.
	RetryBase time.Duration
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	retryBase := deps.RetryBase
	if retryBase <= 0 {
		retryBase = time.Second
	}
	return &Orchestrator{
		cards:     deps.Cards,
		ledger:    deps.Ledger,
		selector:  deps.Selector,
		diag:      deps.Diag,
		executor:  deps.Executor,
		verifier:  deps.Verifier,
		profiles:  deps.Profiles,
		clock:     deps.Clock,
		logger:    deps.Logger,
		loopCfg:   deps.LoopCfg,
		retryBase: retryBase,
		state:     StateIdle,
	}
}

// State returns the loop's current phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run drives one session over the target card until it is done, the
// workspace is quiescent, the turn budget is spent, or the context is
// cancelled. The returned session reflects the final ledger row.
func (o *Orchestrator) Run(ctx context.Context, sessionID, targetCardID string) (*models.Session, error) {
	if sessionID == "" {
		sessionID = clock.NewSessionID()
	}
	session, err := o.ledger.CreateSession(ctx, sessionID, targetCardID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		// Idempotent re-run of a finished session: return it unchanged.
		return session, nil
	}

	o.logger.Info("Session started",
		slog.String("session_id", session.ID),
		slog.String("target_card_id", targetCardID))
	o.event(ctx, session.ID, targetCardID, models.EventSessionStarted, "")

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.heartbeat(heartbeatCtx, session.ID)
	}()

	status, outcome := o.loop(ctx, session.ID, targetCardID)

	stopHeartbeat()
	wg.Wait()
	o.setState(StateIdle)

	// Finish with a background-derived context so teardown persists even
	// when the run context is already cancelled.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	o.event(finishCtx, session.ID, targetCardID, models.EventSessionEnded, outcome)
	if err := o.ledger.FinishSession(finishCtx, session.ID, status, outcome); err != nil {
		o.logger.Error("Failed to finish session",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()))
	}
	o.logger.Info("Session ended",
		slog.String("session_id", session.ID),
		slog.String("status", string(status)),
		slog.String("outcome", outcome))

	return o.ledger.GetSession(finishCtx, session.ID)
}

// loop is the Scan -> Prepare -> Execute -> Govern -> Persist cycle.
func (o *Orchestrator) loop(ctx context.Context, sessionID, targetCardID string) (models.SessionStatus, string) {
	transientStrikes := map[string]int{}

	for turnNo := 1; o.loopCfg.MaxTurns <= 0 || turnNo <= o.loopCfg.MaxTurns; turnNo++ {
		if ctx.Err() != nil {
			o.setState(StateStopping)
			return models.SessionInterrupted, "cancelled"
		}
		o.setState(StateScanning)

		// 1. Target reaching a terminal status ends the session.
		target, err := o.cards.GetCard(ctx, targetCardID)
		if err != nil {
			return models.SessionFailed, fmt.Sprintf("loading target: %v", err)
		}
		if target.Status.IsTerminal() {
			if target.Status == models.StatusDone {
				return models.SessionCompleted, "target done"
			}
			return models.SessionFailed, fmt.Sprintf("target %s", target.Status)
		}

		// 2. Critical path selection.
		card, err := o.selector.Next(ctx)
		if err != nil {
			return models.SessionFailed, fmt.Sprintf("selecting card: %v", err)
		}
		if card == nil {
			return o.quiesce(ctx, sessionID)
		}

		// 3. Consume the card for this session.
		err = o.cards.ProposeTransition(ctx, store.TransitionRequest{
			CardID:     card.ID,
			FromStatus: models.StatusReady,
			ToStatus:   models.StatusInProgress,
			SessionID:  sessionID,
		})
		if errors.Is(err, store.ErrStaleState) {
			continue // someone else took it; rescan
		}
		if err != nil {
			return models.SessionFailed, fmt.Sprintf("claiming card: %v", err)
		}

		// 4. Execute one turn under the per-turn timeout. The diagnostic
		// snapshot lands while the turn is in flight, so it reflects a
		// working session rather than the between-turns gap.
		o.setState(StateDispatched)
		o.inFlight.Add(1)
		if err := o.emitDiagnostic(ctx, sessionID); err != nil {
			o.logger.Error("Failed to emit diagnostic", slog.String("error", err.Error()))
		}
		turnCtx, cancel := context.WithTimeout(ctx, o.loopCfg.TurnTimeout)
		outcome := o.executor.Execute(turnCtx, sessionID, card.ID)
		cancel()
		o.inFlight.Add(-1)

		// 5. Interpret the outcome.
		done, status, summary := o.interpret(ctx, sessionID, card, outcome, transientStrikes)
		if done {
			return status, summary
		}

		// 6. Periodic checkpoint.
		if o.loopCfg.CheckpointTurns > 0 && turnNo%o.loopCfg.CheckpointTurns == 0 {
			o.event(ctx, sessionID, targetCardID, models.EventCheckpoint,
				fmt.Sprintf("turn %d", turnNo))
		}
	}
	return models.SessionFailed, fmt.Sprintf("turn budget of %d exhausted", o.loopCfg.MaxTurns)
}

// interpret matches exhaustively on the turn outcome kind. Returns
// done=true when the session must end.
func (o *Orchestrator) interpret(ctx context.Context, sessionID string, card *models.Card, outcome *models.TurnOutcome, strikes map[string]int) (bool, models.SessionStatus, string) {
	switch outcome.Kind {
	case models.OutcomeApplied:
		delete(strikes, card.ID)
		if outcome.ToStatus == "" {
			// Tool effects landed but the model declared no transition.
			// Requeue so the selector sees the card on the next scan
			// instead of stranding it IN_PROGRESS.
			o.release(ctx, sessionID, card.ID)
			return false, "", ""
		}
		if outcome.ToStatus == models.StatusCodeReview {
			o.verify(ctx, sessionID, card)
		}
		if outcome.ToStatus == models.StatusDone {
			o.propagateCompletion(ctx, sessionID, card)
		}
		return false, "", ""

	case models.OutcomeStaleState:
		// The optimistic check lost a race; state moved on. Rescan.
		return false, "", ""

	case models.OutcomeProviderTimeout, models.OutcomeProviderRejected:
		strikes[card.ID]++
		if strikes[card.ID] <= o.loopCfg.TransientRetry {
			wait := o.retryBase * time.Duration(1<<(strikes[card.ID]-1))
			o.logger.Warn("Transient turn failure, requeueing",
				slog.String("card_id", card.ID),
				slog.Int("attempt", strikes[card.ID]),
				slog.Duration("wait", wait))
			o.event(ctx, sessionID, card.ID, models.EventProviderRetry,
				fmt.Sprintf("attempt %d: %v", strikes[card.ID], outcome.Err))
			o.release(ctx, sessionID, card.ID)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return true, models.SessionInterrupted, "cancelled"
			}
			return false, "", ""
		}
		o.failCard(ctx, sessionID, card.ID, fmt.Sprintf("transient retries exhausted: %v", outcome.Err))
		return false, "", ""

	case models.OutcomeToolGateViolation, models.OutcomeParseFailure, models.OutcomeIllegalTransition:
		o.failCard(ctx, sessionID, card.ID, fmt.Sprintf("%s: %v", outcome.Kind, outcome.Err))
		return false, "", ""

	case models.OutcomeCancelled:
		o.release(ctx, sessionID, card.ID)
		return true, models.SessionInterrupted, "cancelled"

	default: // OutcomeInternal
		return true, models.SessionFailed, fmt.Sprintf("internal: %v", outcome.Err)
	}
}

// quiesce decides how a drained backlog ends the session: blocked cards
// mean quiescent-with-diagnostic, an empty workspace means done.
func (o *Orchestrator) quiesce(ctx context.Context, sessionID string) (models.SessionStatus, string) {
	o.setState(StateQuiescent)

	// Nothing dispatchable, yet cards sit IN_PROGRESS: stranded work,
	// never a drained backlog.
	stalled, err := o.cards.ListByStatus(ctx, models.StatusInProgress)
	if err != nil {
		return models.SessionFailed, fmt.Sprintf("listing in-progress cards: %v", err)
	}
	if len(stalled) > 0 {
		return models.SessionFailed, fmt.Sprintf("quiescent: %d cards stranded in progress", len(stalled))
	}

	counts, err := o.cards.CountByWaitReason(ctx)
	if err != nil {
		return models.SessionFailed, fmt.Sprintf("counting blocked cards: %v", err)
	}
	blocked := 0
	for _, n := range counts {
		blocked += n
	}
	if blocked > 0 {
		if err := o.emitDiagnostic(ctx, sessionID); err != nil {
			o.logger.Error("Failed to emit quiescence diagnostic", slog.String("error", err.Error()))
		}
		return models.SessionCompleted, fmt.Sprintf("quiescent: %d cards blocked", blocked)
	}
	return models.SessionCompleted, "quiescent: backlog drained"
}

// verify runs the card's verification profile and advises the follow-up
// transition: pass promotes to DONE, fail returns the card to work with a
// failure lesson in the ledger.
func (o *Orchestrator) verify(ctx context.Context, sessionID string, card *models.Card) {
	if o.verifier == nil || card.VerificationRef == "" {
		return
	}
	profile, ok := o.profiles[card.VerificationRef]
	if !ok {
		o.logger.Warn("Unknown verification profile",
			slog.String("card_id", card.ID),
			slog.String("profile", card.VerificationRef))
		return
	}

	result, err := o.verifier.Run(ctx, profile)
	if err != nil {
		o.logger.Error("Verification run failed", slog.String("error", err.Error()))
		return
	}

	to := models.StatusDone
	if !result.Passed {
		to = models.StatusInProgress
		o.event(ctx, sessionID, card.ID, models.EventFailureLesson, verifier.Lesson(result))
	}
	err = o.cards.ProposeTransition(ctx, store.TransitionRequest{
		CardID:     card.ID,
		FromStatus: models.StatusCodeReview,
		ToStatus:   to,
		SessionID:  sessionID,
		Detail:     fmt.Sprintf("verification %s", map[bool]string{true: "passed", false: "failed"}[result.Passed]),
	})
	if err != nil && !errors.Is(err, store.ErrStaleState) {
		o.logger.Error("Failed to apply verification transition",
			slog.String("card_id", card.ID),
			slog.String("error", err.Error()))
	}
}

// propagateCompletion promotes a parent whose children are all done.
func (o *Orchestrator) propagateCompletion(ctx context.Context, sessionID string, card *models.Card) {
	if card.ParentID == "" {
		return
	}
	parent, err := o.cards.GetCard(ctx, card.ParentID)
	if err != nil {
		o.logger.Error("Failed to load parent", slog.String("error", err.Error()))
		return
	}
	if parent.Status.IsTerminal() {
		return
	}

	children, err := o.cards.ListByParent(ctx, parent.ID)
	if err != nil {
		o.logger.Error("Failed to list children", slog.String("error", err.Error()))
		return
	}
	for _, child := range children {
		if child.Status != models.StatusDone && child.Status != models.StatusArchived {
			return
		}
	}

	if parent.Status != models.StatusInProgress {
		o.event(ctx, sessionID, parent.ID, models.EventDiagnostic,
			fmt.Sprintf("all children done but parent is %s", parent.Status))
		return
	}
	err = o.cards.ProposeTransition(ctx, store.TransitionRequest{
		CardID:     parent.ID,
		FromStatus: models.StatusInProgress,
		ToStatus:   models.StatusDone,
		SessionID:  sessionID,
		Detail:     "all children complete",
	})
	if err != nil && !errors.Is(err, store.ErrStaleState) {
		o.logger.Error("Failed to propagate completion",
			slog.String("card_id", parent.ID),
			slog.String("error", err.Error()))
		return
	}
	// Recurse upward: the parent may itself complete an initiative.
	o.propagateCompletion(ctx, sessionID, parent)
}

// failCard moves a card from IN_PROGRESS to FAILED.
func (o *Orchestrator) failCard(ctx context.Context, sessionID, cardID, detail string) {
	err := o.cards.ProposeTransition(ctx, store.TransitionRequest{
		CardID:     cardID,
		FromStatus: models.StatusInProgress,
		ToStatus:   models.StatusFailed,
		SessionID:  sessionID,
		Detail:     detail,
	})
	if err != nil && !errors.Is(err, store.ErrStaleState) {
		o.logger.Error("Failed to fail card",
			slog.String("card_id", cardID),
			slog.String("error", err.Error()))
	}
}

// release returns a claimed card to READY for a later attempt.
func (o *Orchestrator) release(ctx context.Context, sessionID, cardID string) {
	err := o.cards.ProposeTransition(ctx, store.TransitionRequest{
		CardID:     cardID,
		FromStatus: models.StatusInProgress,
		ToStatus:   models.StatusBlocked,
		WaitReason: models.WaitResource,
		SessionID:  sessionID,
		Detail:     "released for retry",
	})
	if err != nil && !errors.Is(err, store.ErrStaleState) {
		o.logger.Error("Failed to release card",
			slog.String("card_id", cardID),
			slog.String("error", err.Error()))
		return
	}
	err = o.cards.ProposeTransition(ctx, store.TransitionRequest{
		CardID:     cardID,
		FromStatus: models.StatusBlocked,
		ToStatus:   models.StatusReady,
		SessionID:  sessionID,
		Detail:     "requeued",
	})
	if err != nil && !errors.Is(err, store.ErrStaleState) {
		o.logger.Error("Failed to requeue card",
			slog.String("card_id", cardID),
			slog.String("error", err.Error()))
	}
}

// emitDiagnostic snapshots workspace posture into the session ledger.
func (o *Orchestrator) emitDiagnostic(ctx context.Context, sessionID string) error {
	counts, err := o.cards.CountByWaitReason(ctx)
	if err != nil {
		return err
	}
	diag := o.diag.Diagnose(counts, int(o.inFlight.Load()))
	o.event(ctx, sessionID, "", models.EventDiagnostic,
		fmt.Sprintf("%s (%s): %s", diag.Severity, diag.DominantReason, diag.ActionHint))
	return nil
}

// heartbeat refreshes the session row until the loop ends, so a crashed
// process leaves a stale heartbeat for orphan recovery to find.
func (o *Orchestrator) heartbeat(ctx context.Context, sessionID string) {
	interval := o.loopCfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.ledger.Heartbeat(ctx, sessionID); err != nil && ctx.Err() == nil {
				o.logger.Error("Heartbeat failed",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (o *Orchestrator) event(ctx context.Context, sessionID, cardID, eventType, detail string) {
	if err := o.ledger.AppendEvent(ctx, models.AuditEvent{
		SessionID: sessionID,
		CardID:    cardID,
		Type:      eventType,
		Detail:    detail,
	}); err != nil {
		o.logger.Error("Failed to append session event",
			slog.String("type", eventType),
			slog.String("error", err.Error()))
	}
}
