package config

import (
	"errors"
	"fmt"
)

// validate checks the resolved configuration for internal consistency.
// Returns the first failure; a failed validation aborts the process.
func validate(cfg *Config) error {
	if cfg.Provider.Kind != "local" && cfg.Provider.Kind != "stub" {
		return NewValidationError("provider", "", "kind",
			fmt.Errorf("must be \"local\" or \"stub\", got %q", cfg.Provider.Kind))
	}
	if cfg.Provider.Kind == "local" && cfg.Provider.Endpoint == "" {
		return NewValidationError("provider", "", "endpoint", errors.New("required for local provider"))
	}
	if cfg.Provider.Concurrency < 1 {
		return NewValidationError("provider", "", "concurrency", errors.New("must be >= 1"))
	}

	if cfg.Retry.BaseMs <= 0 {
		return NewValidationError("retry", "", "base_ms", errors.New("must be > 0"))
	}
	if cfg.Retry.Factor < 1 {
		return NewValidationError("retry", "", "factor", errors.New("must be >= 1"))
	}
	if cfg.Retry.CapMs < cfg.Retry.BaseMs {
		return NewValidationError("retry", "", "cap_ms", errors.New("must be >= base_ms"))
	}
	if cfg.Retry.MaxAttempts < 1 {
		return NewValidationError("retry", "", "max_attempts", errors.New("must be >= 1"))
	}

	bt := cfg.Bottleneck
	if bt.ResourceNormal < 0 || bt.ResourceWarning <= bt.ResourceNormal {
		return NewValidationError("bottleneck_thresholds", "", "resource_warning",
			errors.New("must be > resource_normal"))
	}
	if bt.DependencyWarningPct < 0 || bt.DependencyWarningPct > 1 {
		return NewValidationError("bottleneck_thresholds", "", "dependency_warning_pct",
			errors.New("must be within [0, 1]"))
	}

	if cfg.ComplexityGateThreshold < 1 {
		return NewValidationError("complexity_gate_threshold", "", "",
			errors.New("must be >= 1"))
	}
	if cfg.Loop.MaxTurns < 1 {
		return NewValidationError("loop", "", "max_turns", errors.New("must be >= 1"))
	}
	if cfg.Loop.TurnTimeout <= 0 {
		return NewValidationError("loop", "", "turn_timeout_ms", errors.New("must be > 0"))
	}

	for _, id := range cfg.Roles.IDs() {
		role, _ := cfg.Roles.Get(id)
		if !role.BoundaryPolicy.IsValid() {
			return NewValidationError("role", id, "boundary_policy",
				fmt.Errorf("unknown category %q", role.BoundaryPolicy))
		}
	}
	for _, id := range cfg.Dialects.IDs() {
		d, _ := cfg.Dialects.Get(id)
		if d.SystemWrapper == "" {
			return NewValidationError("dialect", id, "system_wrapper", errors.New("required"))
		}
	}
	if _, err := cfg.Dialects.Get(cfg.Provider.Dialect); err != nil {
		return NewValidationError("provider", "", "dialect",
			fmt.Errorf("unknown dialect %q", cfg.Provider.Dialect))
	}
	return nil
}
