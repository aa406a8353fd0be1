package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orket/orket/pkg/config"
	"github.com/orket/orket/pkg/models"
)

func testGate(t *testing.T) (*Gate, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default().Gate
	return New(root, cfg, 7, nil), root
}

func developerRole() *models.Role {
	return &models.Role{
		ID:           "developer",
		ToolsAllowed: []string{"write_file", "read_card", "record_note"},
	}
}

func writeCall(path string) models.ToolCall {
	return models.ToolCall{
		ID:   "c1",
		Name: "write_file",
		Args: map[string]string{"path": path, "content": "x"},
	}
}

// fakeChildren serves a fixed child-card count, or a fixed error.
type fakeChildren struct {
	count int
	err   error
}

func (f fakeChildren) ListByParent(_ context.Context, parentID string) ([]*models.Card, error) {
	if f.err != nil {
		return nil, f.err
	}
	cards := make([]*models.Card, f.count)
	for i := range cards {
		cards[i] = &models.Card{ID: fmt.Sprintf("%s-child-%d", parentID, i), Kind: models.KindTask}
	}
	return cards, nil
}

func TestCheck_ToolNotAllowed(t *testing.T) {
	g, _ := testGate(t)
	role := &models.Role{ID: "planner", ToolsAllowed: []string{"read_card"}}

	v, err := g.Check(context.Background(), role, nil, writeCall("a.go"))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.ViolationToolNotAllowed, v.Code)
	assert.Equal(t, models.SeverityError, v.Severity)
}

func TestCheck_RelativeWriteInsideSandbox(t *testing.T) {
	g, _ := testGate(t)
	v, err := g.Check(context.Background(), developerRole(), nil, writeCall("src/main.go"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCheck_PathTraversalEscape(t *testing.T) {
	g, _ := testGate(t)
	v, err := g.Check(context.Background(), developerRole(), nil, writeCall("../../etc/passwd"))
	require.NoError(t, err)

	require.NotNil(t, v)
	assert.Equal(t, models.ViolationPathEscape, v.Code)
	assert.Equal(t, models.SeverityError, v.Severity)
	// No filesystem side effect: nothing may exist inside the sandbox
	// for an escaping path.
	assert.False(t, g.Probe("../../etc/passwd"))
}

func TestCheck_AbsolutePathOutsideSandbox(t *testing.T) {
	g, _ := testGate(t)
	v, err := g.Check(context.Background(), developerRole(), nil, writeCall("/etc/passwd"))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.ViolationPathEscape, v.Code)
}

func TestCheck_SymlinkedParentEscapes(t *testing.T) {
	g, root := testGate(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "sneaky")))

	v, err := g.Check(context.Background(), developerRole(), nil, writeCall("sneaky/payload.go"))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.ViolationPathEscape, v.Code)
}

func TestCheck_ForbiddenFileType(t *testing.T) {
	g, _ := testGate(t)
	v, err := g.Check(context.Background(), developerRole(), nil, writeCall("build/tool.exe"))
	require.NoError(t, err)

	require.NotNil(t, v)
	assert.Equal(t, models.ViolationForbiddenFileType, v.Code)
}

func TestCheck_PathlessCallPasses(t *testing.T) {
	g, _ := testGate(t)
	call := models.ToolCall{ID: "c1", Name: "record_note", Args: map[string]string{"text": "hi"}}
	v, err := g.Check(context.Background(), developerRole(), nil, call)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCheck_IDesignNaming(t *testing.T) {
	g, _ := testGate(t)

	v, err := g.Check(context.Background(), developerRole(), nil, writeCall("Managers/helpers.go"))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.ViolationIDesignNaming, v.Code)

	v, err = g.Check(context.Background(), developerRole(), nil, writeCall("Managers/OrderManager.go"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCheck_RoleBoundToOtherCategory(t *testing.T) {
	g, _ := testGate(t)
	role := developerRole()
	role.BoundaryPolicy = models.BoundaryAccessor

	v, err := g.Check(context.Background(), role, nil, writeCall("Engines/ParseEngine.go"))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.ViolationIDesignNaming, v.Code)
}

func TestCheck_ComplexityGateFlagsUnstructuredOutput(t *testing.T) {
	// An initiative over the child threshold writing outside the formal
	// Managers/Engines/Accessors split gets a warning-severity violation.
	root := t.TempDir()
	g := New(root, config.Default().Gate, 7, fakeChildren{count: 8})
	initiative := &models.Card{ID: "init-1", Kind: models.KindInitiative}

	v, err := g.Check(context.Background(), developerRole(), initiative, writeCall("src/blob.go"))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.ViolationIDesignComplexity, v.Code)
	assert.Equal(t, models.SeverityWarning, v.Severity)
	assert.Contains(t, v.Message, "threshold 7")
}

func TestCheck_ComplexityGateAcceptsFormalSplit(t *testing.T) {
	root := t.TempDir()
	g := New(root, config.Default().Gate, 7, fakeChildren{count: 8})
	initiative := &models.Card{ID: "init-1", Kind: models.KindInitiative}

	v, err := g.Check(context.Background(), developerRole(), initiative,
		writeCall("Managers/OrderManager.go"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCheck_ComplexityGateUnderThreshold(t *testing.T) {
	root := t.TempDir()
	g := New(root, config.Default().Gate, 7, fakeChildren{count: 7})
	initiative := &models.Card{ID: "init-1", Kind: models.KindInitiative}

	v, err := g.Check(context.Background(), developerRole(), initiative, writeCall("src/blob.go"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCheck_ComplexityGateStoreErrorSurfaces(t *testing.T) {
	root := t.TempDir()
	listErr := errors.New("store unavailable")
	g := New(root, config.Default().Gate, 7, fakeChildren{err: listErr})
	initiative := &models.Card{ID: "init-1", Kind: models.KindInitiative}

	_, err := g.Check(context.Background(), developerRole(), initiative, writeCall("src/blob.go"))
	assert.ErrorIs(t, err, listErr)
}

func TestCheck_FirstFailureWins(t *testing.T) {
	g, _ := testGate(t)
	// Both an escape and a forbidden extension: the sandbox check comes
	// first in the fixed order.
	v, err := g.Check(context.Background(), developerRole(), nil, writeCall("../evil.exe"))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, models.ViolationPathEscape, v.Code)
}

func TestResolve_MapsIntoSandbox(t *testing.T) {
	g, root := testGate(t)
	resolved, v := g.Resolve("nested/dir/file.go")
	require.Nil(t, v)

	canonical, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(canonical, "nested", "dir", "file.go"), resolved)
}
