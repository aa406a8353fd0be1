package verifier

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunner(t *testing.T) *Runner {
	t.Helper()
	return NewRunner(t.TempDir(), 5*time.Second, slog.New(slog.DiscardHandler))
}

func TestRun_AllCommandsPass(t *testing.T) {
	r := newRunner(t)
	result, err := r.Run(context.Background(), Profile{
		Name:     "quick",
		Commands: []string{"true", "true"},
	})
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Failures)
	assert.Equal(t, "quick", result.Profile)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestRun_FirstFailureStopsProfile(t *testing.T) {
	r := newRunner(t)
	result, err := r.Run(context.Background(), Profile{
		Name:     "gated",
		Commands: []string{"true", "cat definitely-missing.txt", "true"},
	})
	require.NoError(t, err)

	assert.False(t, result.Passed)
	require.Len(t, result.Failures, 1)
	f := result.Failures[0]
	assert.Equal(t, "cat definitely-missing.txt", f.Command)
	assert.Equal(t, 1, f.ExitCode)
	assert.Contains(t, f.Tail, "definitely-missing.txt")
}

func TestRun_SpawnErrorRecordedAsFailure(t *testing.T) {
	r := newRunner(t)
	result, err := r.Run(context.Background(), Profile{
		Name:     "broken",
		Commands: []string{"no-such-binary-orket-test"},
	})
	require.NoError(t, err)

	assert.False(t, result.Passed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, -1, result.Failures[0].ExitCode)
}

func TestRun_BlankCommandsSkipped(t *testing.T) {
	r := newRunner(t)
	result, err := r.Run(context.Background(), Profile{
		Name:     "sparse",
		Commands: []string{"", "  ", "true"},
	})
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestRun_CancelledContext(t *testing.T) {
	r := newRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, Profile{Name: "late", Commands: []string{"sleep 10"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLesson(t *testing.T) {
	result := &Result{
		Profile: "tests",
		Passed:  false,
		Failures: []Failure{{
			Command:  "go test ./...",
			ExitCode: 2,
			Tail:     "FAIL: TestParser\n",
		}},
	}
	lesson := Lesson(result)
	assert.Contains(t, lesson, "tests")
	assert.Contains(t, lesson, `"go test ./..."`)
	assert.Contains(t, lesson, "exited 2")
	assert.Contains(t, lesson, "FAIL: TestParser")

	assert.Empty(t, Lesson(&Result{Profile: "tests", Passed: true}))
}

func TestTail_BoundsLongOutput(t *testing.T) {
	long := strings.Repeat("x", tailLimit+100) + "END"
	got := tail([]byte(long))
	assert.Len(t, got, tailLimit)
	assert.True(t, strings.HasSuffix(got, "END"))
}
