package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orket/orket/pkg/clock"
	"github.com/orket/orket/pkg/database"
	"github.com/orket/orket/pkg/models"
	"github.com/orket/orket/pkg/workflow"
)

//go:embed migrations/cards migrations/ledger
var migrationsFS embed.FS

// OpenCards opens the card store file and applies its migrations.
func OpenCards(ctx context.Context, path string, clk clock.Clock) (*CardStore, error) {
	client, err := database.Open(ctx, path, migrationsFS, "migrations/cards")
	if err != nil {
		return nil, err
	}
	return &CardStore{client: client, clock: clk}, nil
}

// CardStore is the durable card repository. It exclusively owns card rows,
// dependency edges, and audit rows. All writes are serialized through the
// client's single-connection write handle.
type CardStore struct {
	client *database.Client
	clock  clock.Clock
}

// Close closes the underlying database.
func (s *CardStore) Close() error { return s.client.Close() }

// Health reports the card database's reachability.
func (s *CardStore) Health(ctx context.Context) database.HealthStatus {
	return database.Health(ctx, s.client.Read())
}

// TransitionRequest is one proposed status transition. FromStatus is the
// optimistic concurrency token: if the current row status differs, the
// call returns ErrStaleState without mutation.
type TransitionRequest struct {
	CardID     string
	FromStatus models.Status
	ToStatus   models.Status
	Roles      []string
	WaitReason models.WaitReason
	SessionID  string
	Detail     string
}

// CreateCard inserts a new card with its dependency edges. The card's
// timestamps are set from the store clock.
func (s *CardStore) CreateCard(ctx context.Context, card *models.Card) error {
	if !card.Kind.IsValid() {
		return fmt.Errorf("invalid kind %q", card.Kind)
	}
	if !card.Status.IsValid() {
		return fmt.Errorf("invalid status %q", card.Status)
	}
	if card.Status.IsBlockedClass() && !card.WaitReason.IsValid() {
		return fmt.Errorf("wait_reason required for status %s", card.Status)
	}

	now := s.clock.Now()
	card.CreatedAt = now
	card.UpdatedAt = now

	meta, err := json.Marshal(card.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	return s.client.WithTx(ctx, func(tx *stdsql.Tx) error {
		for _, dep := range card.DependsOn {
			cyclic, err := wouldCycleTx(ctx, tx, card.ID, dep)
			if err != nil {
				return err
			}
			if cyclic {
				return fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, card.ID, dep)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO cards (id, kind, parent_id, title, status, role, priority,
				wait_reason, requirements_ref, verification_ref, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			card.ID, string(card.Kind), nullable(card.ParentID), card.Title,
			string(card.Status), card.Role, card.Priority, string(card.WaitReason),
			card.RequirementsRef, card.VerificationRef, string(meta), now, now)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: card %s", ErrAlreadyExists, card.ID)
			}
			return fmt.Errorf("inserting card: %w", err)
		}

		for _, dep := range card.DependsOn {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO card_dependencies (from_card_id, to_card_id) VALUES (?, ?)`,
				card.ID, dep); err != nil {
				return fmt.Errorf("inserting dependency: %w", err)
			}
		}
		return nil
	})
}

// GetCard returns the card or ErrNotFound. A single read observes a
// consistent row.
func (s *CardStore) GetCard(ctx context.Context, id string) (*models.Card, error) {
	row := s.client.Read().QueryRowContext(ctx, cardSelect+` WHERE c.id = ?`, id)
	card, err := scanCard(row)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, fmt.Errorf("%w: card %s", ErrNotFound, id)
		}
		return nil, err
	}
	return s.attachDependencies(ctx, card)
}

// ListAll returns every card ordered by created_at then id.
func (s *CardStore) ListAll(ctx context.Context) ([]*models.Card, error) {
	return s.list(ctx, cardSelect+` ORDER BY c.created_at ASC, c.id ASC`)
}

// ListByStatus returns cards with the given status, ordered by created_at.
func (s *CardStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.Card, error) {
	return s.list(ctx, cardSelect+` WHERE c.status = ? ORDER BY c.created_at ASC, c.id ASC`, string(status))
}

// ListReady returns cards in READY status whose dependencies are all
// terminal, ordered by created_at. The critical path selector applies
// priority weighting on top of this set.
func (s *CardStore) ListReady(ctx context.Context) ([]*models.Card, error) {
	return s.list(ctx, cardSelect+`
		WHERE c.status = 'READY'
		  AND NOT EXISTS (
			SELECT 1 FROM card_dependencies d
			JOIN cards dep ON dep.id = d.to_card_id
			WHERE d.from_card_id = c.id
			  AND dep.status NOT IN ('DONE', 'ARCHIVED', 'FAILED')
		  )
		ORDER BY c.created_at ASC, c.id ASC`)
}

// ListByParent returns the direct children of a card.
func (s *CardStore) ListByParent(ctx context.Context, parentID string) ([]*models.Card, error) {
	return s.list(ctx, cardSelect+` WHERE c.parent_id = ? ORDER BY c.created_at ASC, c.id ASC`, parentID)
}

// Dependents returns the IDs of cards that depend on the given card.
func (s *CardStore) Dependents(ctx context.Context, id string) ([]string, error) {
	rows, err := s.client.Read().QueryContext(ctx,
		`SELECT from_card_id FROM card_dependencies WHERE to_card_id = ? ORDER BY from_card_id`, id)
	if err != nil {
		return nil, fmt.Errorf("querying dependents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

// AddDependency inserts an edge after verifying it keeps the graph acyclic.
func (s *CardStore) AddDependency(ctx context.Context, fromID, toID string) error {
	return s.client.WithTx(ctx, func(tx *stdsql.Tx) error {
		cyclic, err := wouldCycleTx(ctx, tx, fromID, toID)
		if err != nil {
			return err
		}
		if cyclic {
			return fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, fromID, toID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO card_dependencies (from_card_id, to_card_id) VALUES (?, ?)`, fromID, toID)
		if err != nil {
			if isUniqueViolation(err) {
				return nil
			}
			return fmt.Errorf("inserting dependency: %w", err)
		}
		return nil
	})
}

// ProposeTransition validates and applies one status transition. Card
// status, updated_at, wait_reason, and the audit row commit in a single
// transaction. The optimistic from_status check makes at most one of two
// racing proposals succeed; the loser gets ErrStaleState.
func (s *CardStore) ProposeTransition(ctx context.Context, req TransitionRequest) error {
	if err := workflow.Validate(req.FromStatus, req.ToStatus, req.Roles, req.WaitReason); err != nil {
		return err
	}

	now := s.clock.Now()
	return s.client.WithTx(ctx, func(tx *stdsql.Tx) error {
		waitReason := ""
		if req.ToStatus.IsBlockedClass() {
			waitReason = string(req.WaitReason)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE cards SET status = ?, wait_reason = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(req.ToStatus), waitReason, now, req.CardID, string(req.FromStatus))
		if err != nil {
			return fmt.Errorf("updating card: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM cards WHERE id = ?`, req.CardID).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return fmt.Errorf("%w: card %s", ErrNotFound, req.CardID)
			}
			return fmt.Errorf("%w: card %s is no longer %s", ErrStaleState, req.CardID, req.FromStatus)
		}

		detail := fmt.Sprintf("%s -> %s", req.FromStatus, req.ToStatus)
		if waitReason != "" {
			detail += " (" + waitReason + ")"
		}
		if req.Detail != "" {
			detail += ": " + req.Detail
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_events (session_id, card_id, event_type, detail, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			req.SessionID, req.CardID, models.EventTransition, detail, now)
		if err != nil {
			return fmt.Errorf("inserting audit event: %w", err)
		}
		return nil
	})
}

// AppendAudit records an audit event outside a transition (retries,
// diagnostics, gate violations).
func (s *CardStore) AppendAudit(ctx context.Context, ev models.AuditEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clock.Now()
	}
	_, err := s.client.Write().ExecContext(ctx, `
		INSERT INTO audit_events (session_id, card_id, event_type, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.SessionID, ev.CardID, ev.Type, ev.Detail, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// AuditByCard returns the card's audit events in commit order.
func (s *CardStore) AuditByCard(ctx context.Context, cardID string) ([]models.AuditEvent, error) {
	rows, err := s.client.Read().QueryContext(ctx, `
		SELECT id, session_id, card_id, event_type, detail, created_at
		FROM audit_events WHERE card_id = ? ORDER BY id ASC`, cardID)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
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

// CountByWaitReason returns blocked-class card counts grouped by wait
// reason. Input for the bottleneck diagnostician.
func (s *CardStore) CountByWaitReason(ctx context.Context) (map[models.WaitReason]int, error) {
	rows, err := s.client.Read().QueryContext(ctx, `
		SELECT wait_reason, COUNT(*) FROM cards
		WHERE status IN ('BLOCKED', 'WAITING_FOR_DEVELOPER')
		GROUP BY wait_reason`)
	if err != nil {
		return nil, fmt.Errorf("querying wait reasons: %w", err)
	}
	defer rows.Close()

	counts := map[models.WaitReason]int{}
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		counts[models.WaitReason(reason)] = n
	}
	return counts, rows.Err()
}

const cardSelect = `
	SELECT c.id, c.kind, c.parent_id, c.title, c.status, c.role, c.priority,
	       c.wait_reason, c.requirements_ref, c.verification_ref, c.metadata,
	       c.created_at, c.updated_at
	FROM cards c`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*models.Card, error) {
	var (
		card       models.Card
		parentID   stdsql.NullString
		kind       string
		status     string
		waitReason string
		meta       string
		created    time.Time
		updated    time.Time
	)
	err := row.Scan(&card.ID, &kind, &parentID, &card.Title, &status, &card.Role,
		&card.Priority, &waitReason, &card.RequirementsRef, &card.VerificationRef,
		&meta, &created, &updated)
	if err != nil {
		return nil, err
	}
	card.Kind = models.Kind(kind)
	card.Status = models.Status(status)
	card.WaitReason = models.WaitReason(waitReason)
	card.ParentID = parentID.String
	card.CreatedAt = created.UTC()
	card.UpdatedAt = updated.UTC()
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &card.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata for %s: %w", card.ID, err)
		}
	}
	return &card, nil
}

func (s *CardStore) list(ctx context.Context, query string, args ...any) ([]*models.Card, error) {
	rows, err := s.client.Read().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cards: %w", err)
	}
	defer rows.Close()

	var cards []*models.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, card := range cards {
		if _, err := s.attachDependencies(ctx, card); err != nil {
			return nil, err
		}
	}
	return cards, nil
}

func (s *CardStore) attachDependencies(ctx context.Context, card *models.Card) (*models.Card, error) {
	rows, err := s.client.Read().QueryContext(ctx,
		`SELECT to_card_id FROM card_dependencies WHERE from_card_id = ? ORDER BY to_card_id`, card.ID)
	if err != nil {
		return nil, fmt.Errorf("querying dependencies: %w", err)
	}
	defer rows.Close()

	card.DependsOn = nil
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		card.DependsOn = append(card.DependsOn, dep)
	}
	return card, rows.Err()
}

// wouldCycleTx reports whether adding from -> to creates a cycle: true when
// `from` is reachable from `to` through existing edges.
func wouldCycleTx(ctx context.Context, tx *stdsql.Tx, fromID, toID string) (bool, error) {
	if fromID == toID {
		return true, nil
	}
	visited := map[string]struct{}{}
	frontier := []string{toID}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		if current == fromID {
			return true, nil
		}
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}

		rows, err := tx.QueryContext(ctx,
			`SELECT to_card_id FROM card_dependencies WHERE from_card_id = ?`, current)
		if err != nil {
			return false, fmt.Errorf("walking dependencies: %w", err)
		}
		for rows.Next() {
			var next string
			if err := rows.Scan(&next); err != nil {
				rows.Close()
				return false, err
			}
			frontier = append(frontier, next)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return false, err
		}
		rows.Close()
	}
	return false, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation detects sqlite UNIQUE constraint failures without
// depending on driver error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
