// Package workspace defines the on-disk layout of an Orket workspace and
// creates it on first use.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrWorkspaceMissing indicates the workspace root does not exist.
// Fatal: the process aborts rather than creating a root implicitly.
var ErrWorkspaceMissing = errors.New("workspace missing")

// Workspace is the resolved layout of one workspace directory.
//
//	<root>/
//	  cards.db     relational store, core rows
//	  ledger.db    session/turn ledger
//	  agent_out/   tool-call outputs (sandbox root)
//	  verifier/    verification sandbox (write-forbidden to agents)
//	  logs/        per-session log files
//	  assets/      role and dialect assets
type Workspace struct {
	Root string
}

// Open resolves an existing workspace root and ensures the subdirectories
// exist. The root itself must already exist.
func Open(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceMissing, abs)
	}
	ws := &Workspace{Root: abs}
	for _, dir := range []string{ws.AgentOut(), ws.Verifier(), ws.Logs()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return ws, nil
}

// Init creates a new workspace root with the standard layout.
func Init(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return Open(abs)
}

// CardsDB returns the path of the card store file.
func (w *Workspace) CardsDB() string { return filepath.Join(w.Root, "cards.db") }

// LedgerDB returns the path of the session ledger file.
func (w *Workspace) LedgerDB() string { return filepath.Join(w.Root, "ledger.db") }

// AgentOut returns the sandbox root for tool-call outputs. The tool gate
// rejects any write resolving outside this directory.
func (w *Workspace) AgentOut() string { return filepath.Join(w.Root, "agent_out") }

// Verifier returns the verification sandbox. Fully disjoint from AgentOut;
// agents must never be able to write here.
func (w *Workspace) Verifier() string { return filepath.Join(w.Root, "verifier") }

// Logs returns the per-session log directory.
func (w *Workspace) Logs() string { return filepath.Join(w.Root, "logs") }

// Assets returns the role/dialect asset directory.
func (w *Workspace) Assets() string { return filepath.Join(w.Root, "assets") }
