package config

import (
	"fmt"
	"sort"

	"github.com/orket/orket/pkg/models"
)

// RoleRegistry is an immutable lookup of role assets by ID.
type RoleRegistry struct {
	roles map[string]*models.Role
}

// NewRoleRegistry builds a registry from parsed role assets.
func NewRoleRegistry(roles map[string]*models.Role) *RoleRegistry {
	if roles == nil {
		roles = map[string]*models.Role{}
	}
	return &RoleRegistry{roles: roles}
}

// Get returns the role or ErrRoleNotFound.
func (r *RoleRegistry) Get(id string) (*models.Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	return role, nil
}

// IDs returns all role IDs in sorted order.
func (r *RoleRegistry) IDs() []string {
	ids := make([]string, 0, len(r.roles))
	for id := range r.roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DialectRegistry is an immutable lookup of dialect assets by ID.
type DialectRegistry struct {
	dialects map[string]*models.Dialect
}

// NewDialectRegistry builds a registry from parsed dialect assets.
func NewDialectRegistry(dialects map[string]*models.Dialect) *DialectRegistry {
	if dialects == nil {
		dialects = map[string]*models.Dialect{}
	}
	return &DialectRegistry{dialects: dialects}
}

// Get returns the dialect or ErrDialectNotFound.
func (r *DialectRegistry) Get(id string) (*models.Dialect, error) {
	d, ok := r.dialects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDialectNotFound, id)
	}
	return d, nil
}

// IDs returns all dialect IDs in sorted order.
func (r *DialectRegistry) IDs() []string {
	ids := make([]string, 0, len(r.dialects))
	for id := range r.dialects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
