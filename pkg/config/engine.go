package config

import "time"

// EngineConfig contains scheduler and runner tuning.
// These values control how turns are dispatched and supervised.
type EngineConfig struct {
	// TickInterval is the scheduler's cooperative tick period.
	TickInterval time.Duration `yaml:"tick_interval"`

	// StallThreshold is the repeat count at which loop-safety pauses a run.
	// With the default of 2, the third identical sample in a row stalls.
	StallThreshold int `yaml:"stall_threshold"`

	// CatchupLimit is the maximum events replayed to a WebSocket client per
	// catchup request; overflow is signalled so the client can re-request.
	CatchupLimit int `yaml:"catchup_limit"`

	// SignalQueueSize is the per-session adapter signal queue capacity.
	// A full queue logs a warning and applies backpressure to the adapter.
	SignalQueueSize int `yaml:"signal_queue_size"`

	// ApprovalTimeout is the advisory timeout attached to approval
	// requests. Zero leaves approvals pending until resolved.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
}

// DefaultEngineConfig returns the built-in engine defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		TickInterval:    250 * time.Millisecond,
		StallThreshold:  2,
		CatchupLimit:    200,
		SignalQueueSize: 1024,
	}
}
