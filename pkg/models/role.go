package models

// BoundaryPolicy is the iDesign component category a role may produce
// artifacts for. Empty means unconstrained.
type BoundaryPolicy string

// iDesign component categories.
const (
	BoundaryManager  BoundaryPolicy = "Managers"
	BoundaryEngine   BoundaryPolicy = "Engines"
	BoundaryAccessor BoundaryPolicy = "Accessors"
	BoundaryUtility  BoundaryPolicy = "Utilities"
)

// IsValid checks whether the policy names a known category.
func (p BoundaryPolicy) IsValid() bool {
	switch p {
	case BoundaryManager, BoundaryEngine, BoundaryAccessor, BoundaryUtility, "":
		return true
	default:
		return false
	}
}

// Role is a declarative persona asset: who acts, what it may call, and
// which architectural boundary its outputs belong to.
type Role struct {
	ID             string         `yaml:"role_id" json:"role_id"`
	SystemPrompt   string         `yaml:"system_prompt" json:"system_prompt"`
	ToolsAllowed   []string       `yaml:"tools_allowed" json:"tools_allowed"`
	BoundaryPolicy BoundaryPolicy `yaml:"boundary_policy" json:"boundary_policy,omitempty"`
}

// AllowsTool reports whether the role may call the named tool.
func (r *Role) AllowsTool(name string) bool {
	for _, t := range r.ToolsAllowed {
		if t == name {
			return true
		}
	}
	return false
}

// Dialect is a model-specific grammar template. The same role intent is
// composed first and then wrapped in the dialect, so semantics stay equal
// across models while wire form differs.
type Dialect struct {
	ID string `yaml:"dialect_id" json:"dialect_id"`
	// SystemWrapper wraps the composed system text. Must contain a single
	// %s placeholder.
	SystemWrapper string `yaml:"system_wrapper" json:"system_wrapper"`
	// ToolCallSyntax names the grammar the tool parser applies. Currently
	// "sections" is the only grammar shipped.
	ToolCallSyntax string `yaml:"tool_call_syntax" json:"tool_call_syntax"`
}
