package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orket/orket/pkg/clock"
	"github.com/orket/orket/pkg/database"
	"github.com/orket/orket/pkg/models"
)

// OpenLedger opens the session ledger file and applies its migrations.
func OpenLedger(ctx context.Context, path string, clk clock.Clock) (*LedgerStore, error) {
	client, err := database.Open(ctx, path, migrationsFS, "migrations/ledger")
	if err != nil {
		return nil, err
	}
	return &LedgerStore{client: client, clock: clk}, nil
}

// LedgerStore exclusively owns session and turn rows plus session-scoped
// events. Append-only apart from session lifecycle columns.
type LedgerStore struct {
	client *database.Client
	clock  clock.Clock
}

// Close closes the underlying database.
func (s *LedgerStore) Close() error { return s.client.Close() }

// Health reports the ledger database's reachability.
func (s *LedgerStore) Health(ctx context.Context) database.HealthStatus {
	return database.Health(ctx, s.client.Read())
}

// CreateSession inserts a new running session. Idempotent on session ID:
// re-creating an existing session returns the stored row unchanged. A
// second running session for the same target is rejected by the partial
// unique index and surfaces as ErrActiveSessionExists.
func (s *LedgerStore) CreateSession(ctx context.Context, id, targetCardID string) (*models.Session, error) {
	if existing, err := s.GetSession(ctx, id); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	_, err := s.client.Write().ExecContext(ctx, `
		INSERT INTO sessions (id, target_card_id, status, started_at, heartbeat_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, targetCardID, string(models.SessionRunning), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			// Either the same id raced in (idempotent: return it) or
			// another running session holds the target.
			if existing, getErr := s.GetSession(ctx, id); getErr == nil {
				return existing, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrActiveSessionExists, targetCardID)
		}
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return s.GetSession(ctx, id)
}

// GetSession returns the session or ErrNotFound.
func (s *LedgerStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.client.Read().QueryRowContext(ctx, `
		SELECT id, target_card_id, status, outcome, turn_count, started_at, ended_at, heartbeat_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ActiveSessions returns all sessions currently running.
func (s *LedgerStore) ActiveSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.client.Read().QueryContext(ctx, `
		SELECT id, target_card_id, status, outcome, turn_count, started_at, ended_at, heartbeat_at
		FROM sessions WHERE status = ? ORDER BY started_at ASC`, string(models.SessionRunning))
	if err != nil {
		return nil, fmt.Errorf("querying active sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Heartbeat refreshes the session heartbeat for orphan recovery.
func (s *LedgerStore) Heartbeat(ctx context.Context, id string) error {
	_, err := s.client.Write().ExecContext(ctx,
		`UPDATE sessions SET heartbeat_at = ? WHERE id = ?`, s.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("updating heartbeat: %w", err)
	}
	return nil
}

// FinishSession records the terminal status and outcome summary.
func (s *LedgerStore) FinishSession(ctx context.Context, id string, status models.SessionStatus, outcome string) error {
	now := s.clock.Now()
	res, err := s.client.Write().ExecContext(ctx, `
		UPDATE sessions SET status = ?, outcome = ?, ended_at = ?
		WHERE id = ? AND status = ?`,
		string(status), outcome, now, id, string(models.SessionRunning))
	if err != nil {
		return fmt.Errorf("finishing session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: running session %s", ErrNotFound, id)
	}
	return nil
}

// RecoverOrphans marks running sessions with a heartbeat older than the
// threshold as interrupted. Called once on startup; returns the count.
func (s *LedgerStore) RecoverOrphans(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-threshold)
	res, err := s.client.Write().ExecContext(ctx, `
		UPDATE sessions SET status = ?, outcome = 'INTERRUPTED', ended_at = ?
		WHERE status = ? AND heartbeat_at < ?`,
		string(models.SessionInterrupted), s.clock.Now(), string(models.SessionRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("recovering orphans: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// InterruptAll marks every running session interrupted. Process teardown.
func (s *LedgerStore) InterruptAll(ctx context.Context) (int, error) {
	res, err := s.client.Write().ExecContext(ctx, `
		UPDATE sessions SET status = ?, outcome = 'INTERRUPTED', ended_at = ?
		WHERE status = ?`,
		string(models.SessionInterrupted), s.clock.Now(), string(models.SessionRunning))
	if err != nil {
		return 0, fmt.Errorf("interrupting sessions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// AppendTurn inserts one turn record and bumps the session turn count in
// the same transaction. One turn per dispatched card activation.
func (s *LedgerStore) AppendTurn(ctx context.Context, turn *models.Turn) error {
	calls, err := json.Marshal(turn.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshaling tool calls: %w", err)
	}
	return s.client.WithTx(ctx, func(tx *stdsql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO turns (id, session_id, card_id, role, prompt_digest, response_digest,
				tool_calls, transition_proposed, transition_applied, failure_code, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			turn.ID, turn.SessionID, turn.CardID, turn.Role, turn.PromptDigest,
			turn.ResponseDigest, string(calls), turn.TransitionProposed,
			boolToInt(turn.TransitionApplied), turn.FailureCode, turn.StartedAt, turn.EndedAt)
		if err != nil {
			return fmt.Errorf("inserting turn: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET turn_count = turn_count + 1 WHERE id = ?`, turn.SessionID)
		if err != nil {
			return fmt.Errorf("bumping turn count: %w", err)
		}
		return nil
	})
}

// TurnsBySession returns the session's turns in dispatch order.
func (s *LedgerStore) TurnsBySession(ctx context.Context, sessionID string) ([]models.Turn, error) {
	rows, err := s.client.Read().QueryContext(ctx, `
		SELECT id, session_id, card_id, role, prompt_digest, response_digest,
		       tool_calls, transition_proposed, transition_applied, failure_code, started_at, ended_at
		FROM turns WHERE session_id = ? ORDER BY started_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var out []models.Turn
	for rows.Next() {
		var (
			turn    models.Turn
			calls   string
			applied int
			started time.Time
			ended   time.Time
		)
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.CardID, &turn.Role,
			&turn.PromptDigest, &turn.ResponseDigest, &calls, &turn.TransitionProposed,
			&applied, &turn.FailureCode, &started, &ended); err != nil {
			return nil, err
		}
		turn.TransitionApplied = applied != 0
		turn.StartedAt = started.UTC()
		turn.EndedAt = ended.UTC()
		if calls != "" && calls != "[]" && calls != "null" {
			if err := json.Unmarshal([]byte(calls), &turn.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshaling tool calls for %s: %w", turn.ID, err)
			}
		}
		out = append(out, turn)
	}
	return out, rows.Err()
}

// AppendEvent records a session-scoped ledger event.
func (s *LedgerStore) AppendEvent(ctx context.Context, ev models.AuditEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clock.Now()
	}
	_, err := s.client.Write().ExecContext(ctx, `
		INSERT INTO session_events (session_id, card_id, event_type, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.SessionID, ev.CardID, ev.Type, ev.Detail, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting session event: %w", err)
	}
	return nil
}

// EventsBySession returns the session's events in commit order.
func (s *LedgerStore) EventsBySession(ctx context.Context, sessionID string) ([]models.AuditEvent, error) {
	rows, err := s.client.Read().QueryContext(ctx, `
		SELECT id, session_id, card_id, event_type, detail, created_at
		FROM session_events WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying session events: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.CardID, &ev.Type, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Snapshot returns a consistent view of the session, its turns, and its
// events.
func (s *LedgerStore) Snapshot(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := s.TurnsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := s.EventsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &models.SessionSnapshot{Session: *sess, Turns: turns, Events: events}, nil
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		sess      models.Session
		status    string
		started   time.Time
		ended     stdsql.NullTime
		heartbeat time.Time
	)
	err := row.Scan(&sess.ID, &sess.TargetCardID, &status, &sess.Outcome,
		&sess.TurnCount, &started, &ended, &heartbeat)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, fmt.Errorf("%w: session", ErrNotFound)
		}
		return nil, err
	}
	sess.Status = models.SessionStatus(status)
	sess.StartedAt = started.UTC()
	sess.HeartbeatAt = heartbeat.UTC()
	if ended.Valid {
		t := ended.Time.UTC()
		sess.EndedAt = &t
	}
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
