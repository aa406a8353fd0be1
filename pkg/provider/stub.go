package provider

import (
	"context"
	"sync"
)

// StubStep scripts one Complete call: either Err or Text is returned.
type StubStep struct {
	Text string
	Err  error
}

// Stub is a deterministic in-process provider for tests and dry runs.
// Calls consume the script in order; when the script is exhausted the
// last step repeats.
type Stub struct {
	mu     sync.Mutex
	script []StubStep
	calls  int
}

// NewStub creates a stub provider. An empty script yields empty
// responses.
func NewStub(script ...StubStep) *Stub {
	return &Stub{script: script}
}

// Complete returns the next scripted step.
func (s *Stub) Complete(ctx context.Context, _ Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	step := StubStep{}
	if len(s.script) > 0 {
		idx := s.calls
		if idx >= len(s.script) {
			idx = len(s.script) - 1
		}
		step = s.script[idx]
	}
	s.calls++

	if step.Err != nil {
		return nil, step.Err
	}
	return &Response{Text: step.Text}, nil
}

// Health always reports healthy.
func (s *Stub) Health(context.Context) error { return nil }

// Calls reports how many Complete calls the stub has served.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
