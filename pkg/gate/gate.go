// Package gate validates tool calls before any side effect occurs: role
// allow-list, path sandbox, iDesign boundaries, and the workspace deny
// list. Checks run in order; the first failure wins.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/orket/orket/pkg/config"
	"github.com/orket/orket/pkg/models"
)

// ChildCounter supplies the child-card count used by the complexity gate.
// Implemented by the card store; a small handle keeps the gate free of a
// repository back-reference.
type ChildCounter interface {
	ListByParent(ctx context.Context, parentID string) ([]*models.Card, error)
}

// Gate checks tool calls against workspace policy.
type Gate struct {
	sandboxRoot string
	cfg         config.GateConfig
	complexity  int
	children    ChildCounter
}

// New creates a gate for the given sandbox root. children may be nil when
// iDesign checks are disabled.
func New(sandboxRoot string, cfg config.GateConfig, complexityThreshold int, children ChildCounter) *Gate {
	return &Gate{
		sandboxRoot: sandboxRoot,
		cfg:         cfg,
		complexity:  complexityThreshold,
		children:    children,
	}
}

// Check validates one tool call for the acting role on the given card.
// Returns a nil violation when the call may proceed. Error-severity
// violations short-circuit the turn; warning-severity ones are recorded
// only. A non-nil error means policy could not be evaluated at all.
func (g *Gate) Check(ctx context.Context, role *models.Role, card *models.Card, call models.ToolCall) (*models.Violation, error) {
	// 1. Tool allow-list.
	if !role.AllowsTool(call.Name) {
		return &models.Violation{
			Code:     models.ViolationToolNotAllowed,
			Severity: models.SeverityError,
			Message:  fmt.Sprintf("role %s may not call tool %s", role.ID, call.Name),
		}, nil
	}

	path, hasPath := call.Args["path"]
	if !hasPath || path == "" {
		return nil, nil
	}

	// 2. Path sandbox.
	resolved, violation := g.resolveInsideSandbox(path)
	if violation != nil {
		return violation, nil
	}

	// 3. iDesign boundary and the complexity gate. The complexity check
	// runs for every path: writes outside the formal split are exactly
	// the ones an over-threshold initiative must not make.
	if g.cfg.IDesignEnabled {
		if v := g.checkIDesign(role, card, resolved); v != nil {
			return v, nil
		}
		v, err := g.checkComplexity(ctx, card, resolved)
		if err != nil {
			return nil, fmt.Errorf("evaluating complexity gate: %w", err)
		}
		if v != nil {
			return v, nil
		}
	}

	// 4. Forbidden file types.
	ext := strings.ToLower(filepath.Ext(resolved))
	for _, forbidden := range g.cfg.ForbiddenFileTypes {
		if ext == strings.ToLower(forbidden) {
			return &models.Violation{
				Code:     models.ViolationForbiddenFileType,
				Severity: models.SeverityError,
				Message:  fmt.Sprintf("file type %s is on the workspace deny list", ext),
				Path:     path,
			}, nil
		}
	}
	return nil, nil
}

// Resolve maps a tool-call path argument to its absolute location inside
// the sandbox, or returns a PATH_ESCAPE violation. Exported for the
// executor's file-writing capability.
func (g *Gate) Resolve(path string) (string, *models.Violation) {
	return g.resolveInsideSandbox(path)
}

// resolveInsideSandbox canonicalizes the path (following symlinks on the
// deepest existing ancestor) and verifies it is a descendant of the
// sandbox root. Descendant-of semantics, not string prefix: correct on
// case-insensitive and Unicode-normalizing filesystems.
func (g *Gate) resolveInsideSandbox(path string) (string, *models.Violation) {
	escape := func(msg string) *models.Violation {
		return &models.Violation{
			Code:     models.ViolationPathEscape,
			Severity: models.SeverityError,
			Message:  msg,
			Path:     path,
		}
	}

	root, err := filepath.EvalSymlinks(g.sandboxRoot)
	if err != nil {
		return "", escape(fmt.Sprintf("sandbox root unavailable: %v", err))
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	resolved, err := resolveExistingAncestor(candidate)
	if err != nil {
		return "", escape(fmt.Sprintf("cannot resolve path: %v", err))
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", escape("path resolves outside the agent output sandbox")
	}
	return resolved, nil
}

// resolveExistingAncestor canonicalizes the deepest existing ancestor of
// path and rejoins the non-existing suffix, so symlinked parents cannot
// smuggle a write outside the root.
func resolveExistingAncestor(path string) (string, error) {
	var suffix []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(suffix) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, suffix[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		suffix = append(suffix, filepath.Base(current))
		current = parent
	}
}

// Probe reports whether a path exists inside the sandbox. Test helper for
// the filesystem property checks.
func (g *Gate) Probe(path string) bool {
	resolved, violation := g.resolveInsideSandbox(path)
	if violation != nil {
		return false
	}
	_, err := os.Stat(resolved)
	return err == nil
}
