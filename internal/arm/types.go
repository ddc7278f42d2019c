package arm

import (
	"fmt"
	"strings"
	"time"
)

// Direction of continuous rotation for a channel.
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
	DirectionNone     Direction = "none"
)

// ParseDirection accepts the movement directions a caller may command.
// "none" is a reported state, not a commandable one.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(raw))) {
	case DirectionForward:
		return DirectionForward, nil
	case DirectionBackward:
		return DirectionBackward, nil
	default:
		return DirectionNone, fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// RunState of a channel. Faulted is terminal until an operator reset.
type RunState string

const (
	StateIdle     RunState = "idle"
	StateRunning  RunState = "running"
	StateStopping RunState = "stopping"
	StateFaulted  RunState = "faulted"
)

// StopCause records why a channel last left the running state.
type StopCause string

const (
	StopCauseCommand   StopCause = "command"
	StopCauseTimeout   StopCause = "timeout"
	StopCauseEmergency StopCause = "emergency"
	StopCauseFault     StopCause = "fault"
)

// ChannelStatus is a point-in-time copy of one channel's state.
// Position is nil when no estimate exists, which is distinct from zero
// degrees.
type ChannelStatus struct {
	ID             string     `json:"id"`
	RunState       RunState   `json:"run_state"`
	Direction      Direction  `json:"direction"`
	Position       *float64   `json:"position,omitempty"`
	Speed          float64    `json:"speed"`
	MinAngle       float64    `json:"min_angle"`
	MaxAngle       float64    `json:"max_angle"`
	LastCommandAt  *time.Time `json:"last_command_at,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	LastStopCause  StopCause  `json:"last_stop_cause,omitempty"`
	RuntimeSeconds float64    `json:"runtime_seconds,omitempty"`
}

// EStopStatus reports the emergency stop latch.
type EStopStatus struct {
	Active      bool       `json:"active"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
	TriggeredBy string     `json:"triggered_by,omitempty"`
}

// Snapshot is a consistent-enough view of the whole arm: each channel
// is copied under its own lock, the latch under its own.
type Snapshot struct {
	Timestamp     time.Time                `json:"timestamp"`
	EmergencyStop EStopStatus              `json:"emergency_stop"`
	Servos        map[string]ChannelStatus `json:"servos"`
}
