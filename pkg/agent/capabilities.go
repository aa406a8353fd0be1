package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/orket/orket/pkg/models"
)

// applyCall executes one gate-approved tool call. Effects are confined to
// the agent output sandbox and the stores; partial writes never become
// visible.
func (e *Executor) applyCall(ctx context.Context, sessionID string, call models.ToolCall) error {
	switch call.Name {
	case "write_file":
		return e.writeFile(call.Args["path"], call.Args["content"])

	case "read_card":
		return e.readCard(ctx, sessionID, call.Args["card_id"])

	case "record_note":
		return e.ledger.AppendEvent(ctx, models.AuditEvent{
			SessionID: sessionID,
			Type:      models.EventDiagnostic,
			Detail:    call.Args["text"],
		})

	default:
		// Parser and gate both vet names first; reaching here is a bug.
		return fmt.Errorf("no capability for tool %q", call.Name)
	}
}

// writeFile writes content into the sandbox atomically: temp file in the
// target directory, then rename. Readers never observe a partial file.
func (e *Executor) writeFile(path, content string) error {
	resolved, violation := e.gate.Resolve(path)
	if violation != nil {
		return violation
	}
	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".orket-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), resolved); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// readCard fetches another card and records its summary as a session
// event, which feeds the next turn's context window.
func (e *Executor) readCard(ctx context.Context, sessionID, cardID string) error {
	card, err := e.cards.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	return e.ledger.AppendEvent(ctx, models.AuditEvent{
		SessionID: sessionID,
		CardID:    card.ID,
		Type:      models.EventDiagnostic,
		Detail: fmt.Sprintf("read card %s: %q kind=%s status=%s",
			card.ID, card.Title, card.Kind, card.Status),
	})
}
