package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orket/orket/pkg/config"
	"github.com/orket/orket/pkg/workspace"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "config load error is invalid input",
			err:  config.NewLoadError("orket.json", errors.New("bad json")),
			want: exitUsage,
		},
		{
			name: "config validation failure is invalid input",
			err:  fmt.Errorf("initializing: %w", config.ErrValidationFailed),
			want: exitUsage,
		},
		{
			name: "missing workspace is invalid input",
			err:  fmt.Errorf("%w: /no/such/dir", workspace.ErrWorkspaceMissing),
			want: exitUsage,
		},
		{
			name: "session failure is generic failure",
			err:  fmt.Errorf("%w: target FAILED", errSessionFailed),
			want: exitFailure,
		},
		{
			name: "runtime fault is generic failure",
			err:  errors.New("database file is corrupt"),
			want: exitFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
