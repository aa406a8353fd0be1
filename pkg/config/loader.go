package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/orket/orket/pkg/models"
)

// Initialize loads, merges, validates, and returns ready-to-use
// configuration for a workspace. Steps performed:
//
//  1. Load .env from the workspace (secrets only)
//  2. Start from built-in defaults
//  3. Overlay orket.json if present
//  4. Load role and dialect assets from assetsDir
//  5. Validate everything
func Initialize(workspaceDir string) (*Config, error) {
	log := slog.With("workspace", workspaceDir)
	log.Info("Initializing configuration")

	envPath := filepath.Join(workspaceDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("Could not load .env file, continuing with existing environment",
				"path", envPath, "error", err)
		}
	}

	cfg := Default()

	cfgPath := filepath.Join(workspaceDir, "orket.json")
	if err := overlayJSON(cfg, cfgPath); err != nil {
		return nil, NewLoadError("orket.json", err)
	}
	cfg.Loop.TurnTimeout = time.Duration(cfg.Loop.TurnTimeoutMs) * time.Millisecond
	cfg.Loop.HeartbeatInterval = time.Duration(cfg.Loop.HeartbeatIntervalMs) * time.Millisecond

	assetsDir := filepath.Join(workspaceDir, "assets")
	roles, err := loadRoles(filepath.Join(assetsDir, "roles"))
	if err != nil {
		return nil, NewLoadError("roles", err)
	}
	dialects, err := loadDialects(filepath.Join(assetsDir, "dialects"))
	if err != nil {
		return nil, NewLoadError("dialects", err)
	}
	// The built-in passthrough dialect is always available; workspace
	// assets may shadow it.
	if _, ok := dialects["plain"]; !ok {
		dialects["plain"] = &models.Dialect{ID: "plain", SystemWrapper: "%s", ToolCallSyntax: "sections"}
	}
	cfg.Roles = NewRoleRegistry(roles)
	cfg.Dialects = NewDialectRegistry(dialects)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"roles", len(cfg.Roles.IDs()),
		"dialects", len(cfg.Dialects.IDs()),
		"provider", cfg.Provider.Kind)
	return cfg, nil
}

// overlayJSON decodes the workspace config file over cfg. A missing file
// leaves the defaults untouched.
func overlayJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// loadRoles parses every *.yaml role asset in dir.
func loadRoles(dir string) (map[string]*models.Role, error) {
	roles := map[string]*models.Role{}
	err := eachYAML(dir, func(path string, data []byte) error {
		var role models.Role
		if err := yaml.Unmarshal(data, &role); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if role.ID == "" {
			return fmt.Errorf("%s: missing role_id", path)
		}
		roles[role.ID] = &role
		return nil
	})
	return roles, err
}

// loadDialects parses every *.yaml dialect asset in dir.
func loadDialects(dir string) (map[string]*models.Dialect, error) {
	dialects := map[string]*models.Dialect{}
	err := eachYAML(dir, func(path string, data []byte) error {
		var d models.Dialect
		if err := yaml.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if d.ID == "" {
			return fmt.Errorf("%s: missing dialect_id", path)
		}
		dialects[d.ID] = &d
		return nil
	})
	return dialects, err
}

// eachYAML calls fn for every .yaml/.yml file in dir. A missing directory
// is not an error — the workspace simply has no assets of that type.
func eachYAML(dir string, fn func(path string, data []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := fn(path, data); err != nil {
			return err
		}
	}
	return nil
}
