package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orket/orket/pkg/models"
)

// ParseResult is the complete typed result of one parse. The parser is a
// pure function: identical input yields an identical result, and failure
// conditions surface as issues, never as errors or panics.
type ParseResult struct {
	Calls []models.ToolCall
	// Transition is the declared target status, or "" when the model
	// made no declaration.
	Transition models.Status
	WaitReason models.WaitReason
	Issues     []models.ParseIssue
}

// HasIssues reports whether any diagnostic was recorded.
func (r ParseResult) HasIssues() bool { return len(r.Issues) > 0 }

// Parse extracts tool calls and the status declaration from raw model
// output using the sections grammar:
//
//	Tool: <name>
//	Call-ID: <id>
//	Args:
//	  <key>: <value>
//
//	Transition: <TO_STATUS>
//	Wait-Reason: <reason>
//
// Parsing is forgiving: a malformed call is dropped with an issue and
// the parser keeps going, so one bad section never discards the rest of
// the output.
func Parse(raw string, tools ToolSet) ParseResult {
	var result ParseResult

	if strings.TrimSpace(raw) == "" {
		result.Issues = append(result.Issues, models.ParseIssue{
			Code:    models.ParseEmptyOutput,
			Message: "model produced no output",
		})
		return result
	}

	seen := make(map[string]bool)
	var current *pendingCall
	inArgs := false

	flush := func() {
		if current == nil {
			return
		}
		call, issues := current.finish(tools, seen)
		result.Issues = append(result.Issues, issues...)
		if call != nil {
			seen[call.ID] = true
			result.Calls = append(result.Calls, *call)
		}
		current = nil
		inArgs = false
	}

	for _, line := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(line, "Tool:"):
			flush()
			name := strings.TrimSpace(strings.TrimPrefix(line, "Tool:"))
			current = &pendingCall{name: name}

		case strings.HasPrefix(line, "Call-ID:"):
			if current == nil {
				result.Issues = append(result.Issues, models.ParseIssue{
					Code:    models.ParseMalformedCall,
					Message: "Call-ID outside a tool section",
				})
				continue
			}
			current.id = strings.TrimSpace(strings.TrimPrefix(line, "Call-ID:"))
			inArgs = false

		case strings.HasPrefix(line, "Args:"):
			if current == nil {
				result.Issues = append(result.Issues, models.ParseIssue{
					Code:    models.ParseMalformedCall,
					Message: "Args outside a tool section",
				})
				continue
			}
			inArgs = true

		case strings.HasPrefix(line, "Transition:"):
			flush()
			token := strings.TrimSpace(strings.TrimPrefix(line, "Transition:"))
			status := models.Status(token)
			if !status.IsValid() {
				result.Issues = append(result.Issues, models.ParseIssue{
					Code:    models.ParseMalformedCall,
					Message: fmt.Sprintf("unknown transition status %q", token),
				})
				continue
			}
			result.Transition = status

		case strings.HasPrefix(line, "Wait-Reason:"):
			token := strings.TrimSpace(strings.TrimPrefix(line, "Wait-Reason:"))
			reason := models.WaitReason(token)
			if !reason.IsValid() {
				result.Issues = append(result.Issues, models.ParseIssue{
					Code:    models.ParseMalformedCall,
					Message: fmt.Sprintf("unknown wait reason %q", token),
				})
				continue
			}
			result.WaitReason = reason

		case inArgs && strings.HasPrefix(line, "  "):
			key, value, ok := strings.Cut(strings.TrimPrefix(line, "  "), ":")
			if !ok {
				result.Issues = append(result.Issues, models.ParseIssue{
					Code:    models.ParseMalformedCall,
					Message: fmt.Sprintf("argument line %q has no key separator", strings.TrimSpace(line)),
				})
				continue
			}
			current.setArg(strings.TrimSpace(key), strings.TrimPrefix(value, " "))

		default:
			// Prose between sections is legitimate model reasoning;
			// a blank line ends an Args block.
			if strings.TrimSpace(line) == "" {
				inArgs = false
			}
		}
	}
	flush()

	return result
}

// pendingCall accumulates one tool section until it is flushed.
type pendingCall struct {
	name string
	id   string
	args map[string]string
}

func (p *pendingCall) setArg(key, value string) {
	if p.args == nil {
		p.args = make(map[string]string)
	}
	p.args[key] = value
}

// finish validates the accumulated section. Returns the call when it is
// well formed, plus any issues either way.
func (p *pendingCall) finish(tools ToolSet, seen map[string]bool) (*models.ToolCall, []models.ParseIssue) {
	var issues []models.ParseIssue

	if p.name == "" {
		return nil, append(issues, models.ParseIssue{
			Code:    models.ParseMalformedCall,
			Message: "tool section with empty name",
		})
	}
	spec, known := tools[p.name]
	if !known {
		return nil, append(issues, models.ParseIssue{
			Code:    models.ParseUnknownTool,
			Message: fmt.Sprintf("tool %q is not registered", p.name),
		})
	}
	if p.id == "" {
		return nil, append(issues, models.ParseIssue{
			Code:    models.ParseMalformedCall,
			Message: fmt.Sprintf("tool %q section has no Call-ID", p.name),
		})
	}
	if seen[p.id] {
		return nil, append(issues, models.ParseIssue{
			Code:    models.ParseDuplicateCallID,
			Message: fmt.Sprintf("call id %q already used", p.id),
		})
	}
	for _, arg := range spec.Required {
		if _, ok := p.args[arg]; !ok {
			issues = append(issues, models.ParseIssue{
				Code:    models.ParseMissingRequiredArg,
				Message: fmt.Sprintf("tool %q call %q missing required arg %q", p.name, p.id, arg),
			})
		}
	}
	if len(issues) > 0 {
		return nil, issues
	}

	return &models.ToolCall{ID: p.id, Name: p.name, Args: p.args}, nil
}

// Serialize renders calls and the status declaration back into the
// sections grammar. Serialize and Parse are inverse for well-formed
// call lists with single-line argument values; args render in sorted
// key order so output is byte-stable.
func Serialize(calls []models.ToolCall, transition models.Status, waitReason models.WaitReason) string {
	var sb strings.Builder
	for _, call := range calls {
		sb.WriteString("Tool: ")
		sb.WriteString(call.Name)
		sb.WriteString("\nCall-ID: ")
		sb.WriteString(call.ID)
		sb.WriteString("\nArgs:\n")
		keys := make([]string, 0, len(call.Args))
		for k := range call.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString("  ")
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(call.Args[k])
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if transition != "" {
		sb.WriteString("Transition: ")
		sb.WriteString(string(transition))
		sb.WriteString("\n")
		if waitReason != "" {
			sb.WriteString("Wait-Reason: ")
			sb.WriteString(string(waitReason))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
