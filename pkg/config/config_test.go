package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestInitialize_DefaultsOnly(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Bottleneck.ResourceNormal)
	assert.Equal(t, 10, cfg.Bottleneck.ResourceWarning)
	assert.Equal(t, 0.5, cfg.Bottleneck.DependencyWarningPct)
	assert.Equal(t, 1000, cfg.Retry.BaseMs)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 7, cfg.ComplexityGateThreshold)
	assert.Equal(t, 1, cfg.Provider.Concurrency)
	assert.Equal(t, time.Second, cfg.Retry.Base())
	assert.Equal(t, 30*time.Second, cfg.Retry.Cap())

	// The passthrough dialect is always present.
	d, err := cfg.Dialects.Get("plain")
	require.NoError(t, err)
	assert.Equal(t, "%s", d.SystemWrapper)
}

func TestInitialize_OverlayOverridesFieldByField(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "orket.json"), `{
		"retry": {"base_ms": 50, "factor": 3, "cap_ms": 500, "max_attempts": 2},
		"complexity_gate_threshold": 4
	}`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Retry.BaseMs)
	assert.Equal(t, 3.0, cfg.Retry.Factor)
	assert.Equal(t, 4, cfg.ComplexityGateThreshold)
	// Untouched sections keep their defaults.
	assert.Equal(t, 10, cfg.Bottleneck.ResourceWarning)
}

func TestInitialize_UnknownFieldRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "orket.json"), `{"retry_policy": {}}`)

	_, err := Initialize(dir)
	require.Error(t, err)
	var le *LoadError
	assert.ErrorAs(t, err, &le)
}

func TestInitialize_LoadsRoleAndDialectAssets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "assets", "roles", "developer.yaml"), `
role_id: developer
system_prompt: You implement task cards.
tools_allowed:
  - write_file
  - read_card
boundary_policy: Engines
`)
	writeFile(t, filepath.Join(dir, "assets", "dialects", "terse.yaml"), `
dialect_id: terse
system_wrapper: "[INST] %s [/INST]"
tool_call_syntax: sections
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	role, err := cfg.Roles.Get("developer")
	require.NoError(t, err)
	assert.True(t, role.AllowsTool("write_file"))
	assert.False(t, role.AllowsTool("rm_rf"))

	assert.Equal(t, []string{"plain", "terse"}, cfg.Dialects.IDs())
}

func TestInitialize_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{name: "bad provider kind", json: `{"provider": {"kind": "cloud"}}`},
		{name: "zero retry base", json: `{"retry": {"base_ms": 0}}`},
		{name: "cap below base", json: `{"retry": {"base_ms": 100, "cap_ms": 50}}`},
		{name: "unknown dialect selected", json: `{"provider": {"dialect": "missing"}}`},
		{name: "complexity threshold zero", json: `{"complexity_gate_threshold": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "orket.json"), tt.json)
			_, err := Initialize(dir)
			assert.ErrorIs(t, err, ErrValidationFailed)
		})
	}
}

func TestInitialize_RoleWithBadBoundaryPolicy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "assets", "roles", "bad.yaml"), `
role_id: bad
system_prompt: x
boundary_policy: Widgets
`)
	_, err := Initialize(dir)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestRegistry_MissingEntries(t *testing.T) {
	roles := NewRoleRegistry(nil)
	_, err := roles.Get("nobody")
	assert.ErrorIs(t, err, ErrRoleNotFound)

	dialects := NewDialectRegistry(nil)
	_, err = dialects.Get("nothing")
	assert.ErrorIs(t, err, ErrDialectNotFound)
}
