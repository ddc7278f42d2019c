package arm

import (
	"fmt"
	"time"
)

// SafetyPolicy is the global safety envelope. Per-subsystem flags exist
// for bench diagnostics; production configs keep them all enabled.
type SafetyPolicy struct {
	GlobalMaxSpeed        float64
	GlobalMaxAcceleration float64
	CommandTimeout        time.Duration
	MovementTimeout       time.Duration
	BoundsChecking        bool
	SpeedLimiting         bool
	TimeoutProtection     bool
	EmergencyStop         bool
	FaultEscalation       bool
}

func DefaultSafetyPolicy() SafetyPolicy {
	return SafetyPolicy{
		GlobalMaxSpeed:        80,
		GlobalMaxAcceleration: 50,
		CommandTimeout:        5 * time.Second,
		MovementTimeout:       30 * time.Second,
		BoundsChecking:        true,
		SpeedLimiting:         true,
		TimeoutProtection:     true,
		EmergencyStop:         true,
		FaultEscalation:       false,
	}
}

func (p SafetyPolicy) Validate() error {
	if p.GlobalMaxSpeed <= 0 || p.GlobalMaxSpeed > 100 {
		return fmt.Errorf("%w: global max speed %v outside (0,100]", ErrConfiguration, p.GlobalMaxSpeed)
	}
	if p.GlobalMaxAcceleration <= 0 || p.GlobalMaxAcceleration > 100 {
		return fmt.Errorf("%w: global max acceleration %v outside (0,100]", ErrConfiguration, p.GlobalMaxAcceleration)
	}
	if p.CommandTimeout < 100*time.Millisecond || p.CommandTimeout > 30*time.Second {
		return fmt.Errorf("%w: command timeout %v outside [100ms,30s]", ErrConfiguration, p.CommandTimeout)
	}
	if p.MovementTimeout < time.Second || p.MovementTimeout > time.Minute {
		return fmt.Errorf("%w: movement timeout %v outside [1s,60s]", ErrConfiguration, p.MovementTimeout)
	}
	return nil
}
