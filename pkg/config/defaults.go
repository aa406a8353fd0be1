package config

import "time"

// Default returns the built-in configuration. Values mirror the documented
// recognized options; a workspace orket.json overrides field by field.
func Default() *Config {
	return &Config{
		Bottleneck: BottleneckThresholds{
			ResourceNormal:          3,
			ResourceWarning:         10,
			ResourceCritical:        11,
			DependencyWarningPct:    0.5,
			HumanAttentionThreshold: 1,
		},
		Provider: ProviderConfig{
			Kind:        "local",
			Endpoint:    "http://localhost:8080/v1/completions",
			Concurrency: 1,
			Dialect:     "plain",
		},
		Retry: RetryConfig{
			BaseMs:      1000,
			Factor:      2,
			CapMs:       30000,
			MaxAttempts: 5,
		},
		Gate: GateConfig{
			ForbiddenFileTypes: []string{".exe", ".dll", ".so"},
			IDesignEnabled:     true,
			FanoutFactor:       0.5,
		},
		Loop: LoopConfig{
			TurnTimeout:         5 * time.Minute,
			TurnTimeoutMs:       int(5 * time.Minute / time.Millisecond),
			MaxTurns:            100,
			TransientRetry:      3,
			CheckpointTurns:     10,
			HeartbeatInterval:   30 * time.Second,
			HeartbeatIntervalMs: int(30 * time.Second / time.Millisecond),
		},
		ComplexityGateThreshold: 7,
	}
}
