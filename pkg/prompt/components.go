package prompt

import (
	"sort"
	"strings"

	"github.com/orket/orket/pkg/models"
)

// FormatCardSection builds the work-item section of the user message.
func FormatCardSection(card *models.Card) string {
	var sb strings.Builder
	sb.WriteString("## Work Item\n\n")
	sb.WriteString("**Card:** ")
	sb.WriteString(card.ID)
	sb.WriteString("\n**Kind:** ")
	sb.WriteString(string(card.Kind))
	sb.WriteString("\n**Title:** ")
	sb.WriteString(card.Title)
	sb.WriteString("\n**Status:** ")
	sb.WriteString(string(card.Status))
	sb.WriteString("\n")

	if card.RequirementsRef != "" {
		sb.WriteString("**Requirements:** ")
		sb.WriteString(card.RequirementsRef)
		sb.WriteString("\n")
	}
	if card.VerificationRef != "" {
		sb.WriteString("**Verification:** ")
		sb.WriteString(card.VerificationRef)
		sb.WriteString("\n")
	}
	if len(card.DependsOn) > 0 {
		deps := append([]string(nil), card.DependsOn...)
		sort.Strings(deps)
		sb.WriteString("**Depends on:** ")
		sb.WriteString(strings.Join(deps, ", "))
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatActionInstructions renders the closing instruction block telling
// the model how to emit tool calls and its final status declaration.
func FormatActionInstructions() string {
	return `## Instructions

Emit each tool call as a section:

Tool: <tool name>
Call-ID: <unique id>
Args:
  <key>: <value>

Finish with a status declaration:

Transition: <TO_STATUS>
Wait-Reason: <RESOURCE|DEPENDENCY|REVIEW|INPUT>   (only for blocked statuses)
`
}
