package arm

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/armctl/internal/actuation"
)

// ChannelSpec is the static configuration of one servo channel.
type ChannelSpec struct {
	ID       string
	Output   int
	MinAngle float64
	MaxAngle float64
	MaxSpeed float64
	Pulses   actuation.PulseProfile
}

func (s ChannelSpec) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: channel id required", ErrConfiguration)
	}
	if s.Output < 0 {
		return fmt.Errorf("%w: channel %q output must be non-negative", ErrConfiguration, s.ID)
	}
	if s.MinAngle >= s.MaxAngle {
		return fmt.Errorf("%w: channel %q min angle %v must be below max %v",
			ErrConfiguration, s.ID, s.MinAngle, s.MaxAngle)
	}
	if s.MaxSpeed < 0 || s.MaxSpeed > 100 {
		return fmt.Errorf("%w: channel %q max speed %v outside [0,100]", ErrConfiguration, s.ID, s.MaxSpeed)
	}
	return nil
}

// channel is the mutable runtime state of one servo. Every field below
// mu is guarded by it; the output is driven while holding mu so an
// emergency stop serializes against in-flight commands.
type channel struct {
	spec ChannelSpec
	out  actuation.Output

	mu         sync.Mutex
	state      RunState
	direction  Direction
	position   float64
	hasPos     bool
	speed      float64
	positional bool
	lastCmd    time.Time
	deadline   time.Time
	lastStop   StopCause
	wdGen      uint64
	wdTimer    *time.Timer
}

func (c *channel) snapshotLocked(now time.Time) ChannelStatus {
	st := ChannelStatus{
		ID:            c.spec.ID,
		RunState:      c.state,
		Direction:     c.direction,
		Speed:         c.speed,
		MinAngle:      c.spec.MinAngle,
		MaxAngle:      c.spec.MaxAngle,
		LastStopCause: c.lastStop,
	}
	if c.hasPos {
		p := c.position
		st.Position = &p
	}
	if !c.lastCmd.IsZero() {
		t := c.lastCmd
		st.LastCommandAt = &t
	}
	if !c.deadline.IsZero() {
		d := c.deadline
		st.Deadline = &d
	}
	if c.state == StateRunning && !c.lastCmd.IsZero() {
		st.RuntimeSeconds = now.Sub(c.lastCmd).Seconds()
	}
	return st
}
