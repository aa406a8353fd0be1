// Package verifier runs verification profiles (typecheck, lint, tests) in
// a sandbox directory disjoint from the agent's write root. Verification
// results advise transitions; they never mutate cards directly.
package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// tailLimit bounds how much command output a failure record keeps.
const tailLimit = 2048

// Profile is one named sequence of verification commands. Commands run in
// order; the first failure stops the profile.
type Profile struct {
	Name     string   `yaml:"name" json:"name"`
	Commands []string `yaml:"commands" json:"commands"`
}

// Failure records one failed command.
type Failure struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	// Tail is the last bytes of combined output, enough to diagnose
	// without storing full logs in the ledger.
	Tail string `json:"tail"`
}

// Result is the outcome of one profile run.
type Result struct {
	Profile  string        `json:"profile"`
	Passed   bool          `json:"passed"`
	Failures []Failure     `json:"failures,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Runner executes profiles inside the verifier sandbox.
type Runner struct {
	dir     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a runner rooted at the verifier sandbox directory.
func NewRunner(dir string, timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Runner{dir: dir, timeout: timeout, logger: logger}
}

// Run executes the profile's commands in order. A non-zero exit records a
// failure and stops; command spawn errors are failures too, with exit
// code -1.
func (r *Runner) Run(ctx context.Context, profile Profile) (*Result, error) {
	started := time.Now()
	result := &Result{Profile: profile.Name, Passed: true}

	for _, command := range profile.Commands {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			continue
		}

		cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
		cmd := exec.CommandContext(cmdCtx, fields[0], fields[1:]...)
		cmd.Dir = r.dir
		var output bytes.Buffer
		cmd.Stdout = &output
		cmd.Stderr = &output

		err := cmd.Run()
		cancel()

		if err == nil {
			r.logger.Debug("Verification command passed",
				slog.String("profile", profile.Name),
				slog.String("command", command))
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		result.Passed = false
		result.Failures = append(result.Failures, Failure{
			Command:  command,
			ExitCode: exitCode,
			Tail:     tail(output.Bytes()),
		})
		r.logger.Warn("Verification command failed",
			slog.String("profile", profile.Name),
			slog.String("command", command),
			slog.Int("exit_code", exitCode))
		break
	}

	result.Duration = time.Since(started)
	return result, nil
}

// Lesson renders a failed result as a failure-lesson detail line for the
// ledger, so later sessions can see what went wrong before.
func Lesson(result *Result) string {
	if result.Passed || len(result.Failures) == 0 {
		return ""
	}
	f := result.Failures[0]
	return fmt.Sprintf("profile %s: %q exited %d: %s",
		result.Profile, f.Command, f.ExitCode, strings.TrimSpace(f.Tail))
}

func tail(b []byte) string {
	if len(b) > tailLimit {
		b = b[len(b)-tailLimit:]
	}
	return string(b)
}
