// Package config loads and validates the organization-level configuration
// and the role/dialect asset files.
package config

import "time"

// Config is the fully resolved configuration the composition root injects
// into the engine. Behaviour lives here; environment variables carry only
// secrets and the workspace path.
type Config struct {
	Bottleneck BottleneckThresholds `json:"bottleneck_thresholds"`
	Provider   ProviderConfig       `json:"provider"`
	Retry      RetryConfig          `json:"retry"`
	Gate       GateConfig           `json:"gate"`
	Loop       LoopConfig           `json:"loop"`

	// ComplexityGateThreshold is the child-task count above which an
	// initiative must use the formal Manager/Engine/Accessor split.
	ComplexityGateThreshold int `json:"complexity_gate_threshold"`

	// Roles and Dialects are built from the asset files under the
	// workspace assets directory.
	Roles    *RoleRegistry    `json:"-"`
	Dialects *DialectRegistry `json:"-"`
}

// BottleneckThresholds tune the diagnostician's severity rules.
type BottleneckThresholds struct {
	ResourceNormal          int     `json:"resource_normal"`
	ResourceWarning         int     `json:"resource_warning"`
	ResourceCritical        int     `json:"resource_critical"`
	DependencyWarningPct    float64 `json:"dependency_warning_pct"`
	HumanAttentionThreshold int     `json:"human_attention_threshold"`
}

// ProviderConfig selects and tunes the model provider.
type ProviderConfig struct {
	// Kind is "local" or "stub".
	Kind     string `json:"kind"`
	Endpoint string `json:"endpoint"`
	// Concurrency caps in-flight provider calls. Default 1 for local
	// single-GPU runners.
	Concurrency int    `json:"concurrency"`
	Model       string `json:"model,omitempty"`
	// Dialect selects the grammar template used for every turn.
	Dialect string `json:"dialect,omitempty"`
}

// RetryConfig is the exponential backoff schedule for transient provider
// failures.
type RetryConfig struct {
	BaseMs      int     `json:"base_ms"`
	Factor      float64 `json:"factor"`
	CapMs       int     `json:"cap_ms"`
	MaxAttempts int     `json:"max_attempts"`
}

// Base returns the initial backoff interval.
func (r RetryConfig) Base() time.Duration { return time.Duration(r.BaseMs) * time.Millisecond }

// Cap returns the maximum backoff interval.
func (r RetryConfig) Cap() time.Duration { return time.Duration(r.CapMs) * time.Millisecond }

// GateConfig tunes the tool gate.
type GateConfig struct {
	// ForbiddenFileTypes is the workspace deny list of file extensions
	// (with leading dot).
	ForbiddenFileTypes []string `json:"forbidden_file_types"`
	// IDesignEnabled turns on component-boundary checks.
	IDesignEnabled bool `json:"idesign_enabled"`
	// FanoutFactor weighs downstream-unblock counts in the critical
	// path selector.
	FanoutFactor float64 `json:"fanout_factor"`
}

// LoopConfig tunes the traction loop.
type LoopConfig struct {
	TurnTimeout     time.Duration `json:"-"`
	TurnTimeoutMs   int           `json:"turn_timeout_ms"`
	MaxTurns        int           `json:"max_turns"`
	TransientRetry  int           `json:"transient_retry_attempts"`
	CheckpointTurns int           `json:"checkpoint_every_turns"`
	// HeartbeatInterval refreshes the session heartbeat for orphan
	// recovery.
	HeartbeatInterval   time.Duration `json:"-"`
	HeartbeatIntervalMs int           `json:"heartbeat_interval_ms"`
}
