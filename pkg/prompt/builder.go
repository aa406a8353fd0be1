// Package prompt composes role persona, model dialect grammar, ethos
// assets, and card context into the provider wire format. Composition is
// deterministic: identical inputs yield identical bytes.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/orket/orket/pkg/models"
)

// Prompt is the compiled wire-format input for one provider call.
type Prompt struct {
	System string
	User   string
}

// Digest returns the stable content digest of the prompt.
func (p Prompt) Digest() string {
	sum := sha256.Sum256([]byte(p.System + "\x00" + p.User))
	return hex.EncodeToString(sum[:])
}

// ContextEntry is one prior-turn summary fed into the context window.
type ContextEntry struct {
	TurnID  string
	Summary string
}

// Builder builds all prompt text for the turn executor. Stateless — all
// state comes from parameters. Thread-safe.
type Builder struct {
	ethos string
	// contextBudget bounds the relevant-context window in characters.
	contextBudget int
}

// NewBuilder creates a Builder. ethos may be empty; contextBudget <= 0
// selects the default.
func NewBuilder(ethos string, contextBudget int) *Builder {
	if contextBudget <= 0 {
		contextBudget = 8000
	}
	return &Builder{ethos: ethos, contextBudget: contextBudget}
}

// Build compiles the prompt for one turn. Role intent is composed before
// dialect wrapping, so the same role yields equivalent semantics across
// models even when the wire form differs.
func (b *Builder) Build(role *models.Role, dialect *models.Dialect, card *models.Card, recent []ContextEntry) Prompt {
	system := b.composeSystem(role)
	if dialect.SystemWrapper != "" {
		system = fmt.Sprintf(dialect.SystemWrapper, system)
	}

	var sb strings.Builder
	sb.WriteString(FormatCardSection(card))
	sb.WriteString("\n")
	sb.WriteString(b.formatContextWindow(recent))
	sb.WriteString("\n")
	sb.WriteString(FormatActionInstructions())

	return Prompt{System: system, User: sb.String()}
}

// composeSystem merges persona and ethos. Idempotent: the ethos block is
// injected exactly once regardless of how often Build runs.
func (b *Builder) composeSystem(role *models.Role) string {
	var sb strings.Builder
	sb.WriteString(role.SystemPrompt)
	if b.ethos != "" {
		sb.WriteString("\n\n## Ethos\n")
		sb.WriteString(b.ethos)
	}
	if role.BoundaryPolicy != "" {
		sb.WriteString("\n\n## Architectural Boundary\n")
		sb.WriteString("Your outputs belong to the ")
		sb.WriteString(string(role.BoundaryPolicy))
		sb.WriteString(" component category.")
	}
	return sb.String()
}

// formatContextWindow renders the last-N turn summaries under the char
// budget. Oldest entries are elided first; the elision marker is kept so
// the model knows history was trimmed.
func (b *Builder) formatContextWindow(recent []ContextEntry) string {
	if len(recent) == 0 {
		return "## Recent Context\nNo prior turns in this session.\n"
	}

	var parts []string
	used := 0
	elided := false
	// Walk newest-first so the freshest turns survive the budget.
	for i := len(recent) - 1; i >= 0; i-- {
		entry := fmt.Sprintf("[%s] %s", recent[i].TurnID, recent[i].Summary)
		if used+len(entry) > b.contextBudget {
			elided = true
			break
		}
		used += len(entry)
		parts = append([]string{entry}, parts...)
	}

	var sb strings.Builder
	sb.WriteString("## Recent Context\n")
	if elided {
		sb.WriteString("<!-- CONTEXT ELIDED: older turns omitted -->\n")
	}
	for _, p := range parts {
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	return sb.String()
}
