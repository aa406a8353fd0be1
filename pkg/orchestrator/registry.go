package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/orket/orket/pkg/models"
)

// Registry launches and tracks background sessions for the HTTP surface.
// The ledger's one-running-session-per-target rule is enforced by the
// store; the registry only manages goroutine lifecycle and cancellation.
type Registry struct {
	orch   *Orchestrator
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRegistry creates a session registry over the orchestrator.
func NewRegistry(orch *Orchestrator, logger *slog.Logger) *Registry {
	return &Registry{
		orch:    orch,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start creates the session and runs it in the background. Idempotent on
// session ID: starting an already-known session returns its current row
// without launching a second run.
func (r *Registry) Start(ctx context.Context, sessionID, targetCardID string) (*models.Session, error) {
	r.mu.Lock()
	if _, running := r.cancels[sessionID]; running {
		r.mu.Unlock()
		return r.orch.ledger.GetSession(ctx, sessionID)
	}
	r.mu.Unlock()

	session, err := r.orch.ledger.CreateSession(ctx, sessionID, targetCardID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return session, nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[session.ID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, session.ID)
			r.mu.Unlock()
			cancel()
		}()
		if _, err := r.orch.Run(runCtx, session.ID, targetCardID); err != nil {
			r.logger.Error("Background session failed",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()))
		}
	}()

	return session, nil
}

// Cancel stops a running session. Returns an error when the session is
// not currently running in this process.
func (r *Registry) Cancel(sessionID string) error {
	r.mu.Lock()
	cancel, ok := r.cancels[sessionID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s is not running", sessionID)
	}
	cancel()
	return nil
}

// Shutdown cancels every running session and waits for their teardown to
// finish persisting, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
