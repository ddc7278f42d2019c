package arm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/armctl/internal/actuation"
	"github.com/danmuck/armctl/internal/observability"
)

// Speed used when the initialize sweep centers channels, before any
// per-channel or global clamp.
const initializeSpeed = 50

// Controller executes validated commands against channels. All
// hardware writes for commanded motion happen here, under the target
// channel's lock, after the safety checks.
type Controller struct {
	store  *Store
	sup    *Supervisor
	logger zerolog.Logger
}

func NewController(store *Store, sup *Supervisor, logger zerolog.Logger) *Controller {
	return &Controller{store: store, sup: sup, logger: logger}
}

// Apply validates and dispatches one command request.
func (c *Controller) Apply(req CommandRequest) (CommandResult, error) {
	if err := req.Validate(); err != nil {
		observability.RecordCommand(req.ChannelID, string(req.Action), "rejected")
		return CommandResult{}, err
	}
	ch, err := c.store.get(req.ChannelID)
	if err != nil {
		observability.RecordCommand(req.ChannelID, string(req.Action), "rejected")
		return CommandResult{}, err
	}

	var result CommandResult
	switch req.Action {
	case ActionStart:
		result, err = c.start(ch, req)
	case ActionStop:
		result, err = c.stop(ch)
	case ActionSetPosition:
		result, err = c.setPosition(ch, req)
	case ActionSetSpeed:
		result, err = c.setSpeed(ch, req)
	case ActionReset:
		result, err = c.reset(ch, req)
	}

	outcome := "ok"
	if err != nil {
		outcome = "rejected"
		if errors.Is(err, ErrHardwareFault) {
			outcome = "fault"
		}
	}
	observability.RecordCommand(req.ChannelID, string(req.Action), outcome)
	if err != nil {
		return CommandResult{}, err
	}
	result.CommandID = req.CommandID
	return result, nil
}

// Status reports one channel.
func (c *Controller) Status(id string) (ChannelStatus, error) {
	ch, err := c.store.get(id)
	if err != nil {
		return ChannelStatus{}, err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.snapshotLocked(time.Now()), nil
}

// ChannelIDs lists configured channels in stable order.
func (c *Controller) ChannelIDs() []string {
	return c.store.IDs()
}

// start begins continuous rotation. The latch check sits last, inside
// the channel critical section: once it passes, a concurrent emergency
// stop serializes behind this lock and halts whatever we start.
func (c *Controller) start(ch *channel, req CommandRequest) (CommandResult, error) {
	ch.mu.Lock()
	if ch.state == StateFaulted {
		ch.mu.Unlock()
		return CommandResult{}, fmt.Errorf("%w: %q requires reset", ErrChannelFaulted, ch.spec.ID)
	}
	speed, err := c.sup.clampSpeed(ch, req.Speed)
	if err != nil {
		ch.mu.Unlock()
		return CommandResult{}, err
	}
	if err := c.sup.ensureMovementAllowed(); err != nil {
		ch.mu.Unlock()
		return CommandResult{}, err
	}

	cmd := actuation.Command{Forward: req.Direction == DirectionForward, Speed: speed}
	if err := ch.out.Drive(context.Background(), cmd); err != nil {
		c.sup.faultLocked(ch, err)
		ch.mu.Unlock()
		c.sup.maybeEscalate(ch.spec.ID)
		return CommandResult{}, fmt.Errorf("%w: drive %q: %v", ErrHardwareFault, ch.spec.ID, err)
	}

	now := time.Now()
	ch.state = StateRunning
	ch.direction = req.Direction
	ch.speed = speed
	ch.positional = false
	ch.hasPos = false
	ch.lastCmd = now
	c.sup.armWatchdogLocked(ch, c.sup.policy.CommandTimeout)
	status := ch.snapshotLocked(now)
	ch.mu.Unlock()

	return CommandResult{AppliedSpeed: speed, Channel: status}, nil
}

// stop is idempotent: stopping an idle channel succeeds, stopping a
// faulted channel reports the fault without clearing it.
func (c *Controller) stop(ch *channel) (CommandResult, error) {
	if err := c.sup.forceStop(ch, StopCauseCommand); err != nil {
		return CommandResult{}, err
	}

	// Refresh the estimate from hardware feedback where available.
	if pos, known, err := ch.out.Feedback(context.Background()); err == nil && known {
		ch.mu.Lock()
		if ch.state == StateIdle {
			ch.position = pos
			ch.hasPos = true
		}
		ch.mu.Unlock()
	}

	ch.mu.Lock()
	status := ch.snapshotLocked(time.Now())
	ch.mu.Unlock()
	return CommandResult{Channel: status}, nil
}

func (c *Controller) setPosition(ch *channel, req CommandRequest) (CommandResult, error) {
	ch.mu.Lock()
	if ch.state == StateFaulted {
		ch.mu.Unlock()
		return CommandResult{}, fmt.Errorf("%w: %q requires reset", ErrChannelFaulted, ch.spec.ID)
	}
	if err := c.sup.checkBounds(ch, req.Angle); err != nil {
		ch.mu.Unlock()
		return CommandResult{}, err
	}
	speed, err := c.sup.clampSpeed(ch, req.Speed)
	if err != nil {
		ch.mu.Unlock()
		return CommandResult{}, err
	}
	if err := c.sup.ensureMovementAllowed(); err != nil {
		ch.mu.Unlock()
		return CommandResult{}, err
	}

	cmd := actuation.Command{Positional: true, Angle: req.Angle, Speed: speed}
	if err := ch.out.Drive(context.Background(), cmd); err != nil {
		c.sup.faultLocked(ch, err)
		ch.mu.Unlock()
		c.sup.maybeEscalate(ch.spec.ID)
		return CommandResult{}, fmt.Errorf("%w: drive %q: %v", ErrHardwareFault, ch.spec.ID, err)
	}

	now := time.Now()
	ch.state = StateRunning
	ch.direction = directionToward(ch, req.Angle)
	ch.speed = speed
	ch.positional = true
	ch.position = req.Angle
	ch.hasPos = true
	ch.lastCmd = now
	c.sup.armWatchdogLocked(ch, c.sup.policy.MovementTimeout)
	status := ch.snapshotLocked(now)
	ch.mu.Unlock()

	return CommandResult{AppliedSpeed: speed, Channel: status}, nil
}

// setSpeed adjusts a running channel and refreshes its watchdog.
func (c *Controller) setSpeed(ch *channel, req CommandRequest) (CommandResult, error) {
	ch.mu.Lock()
	if ch.state == StateFaulted {
		ch.mu.Unlock()
		return CommandResult{}, fmt.Errorf("%w: %q requires reset", ErrChannelFaulted, ch.spec.ID)
	}
	if ch.state != StateRunning {
		ch.mu.Unlock()
		return CommandResult{}, fmt.Errorf("%w: set_speed requires a running channel", ErrNotRunning)
	}
	speed, err := c.sup.clampSpeed(ch, req.Speed)
	if err != nil {
		ch.mu.Unlock()
		return CommandResult{}, err
	}
	if err := c.sup.ensureMovementAllowed(); err != nil {
		ch.mu.Unlock()
		return CommandResult{}, err
	}

	cmd := actuation.Command{
		Positional: ch.positional,
		Forward:    ch.direction == DirectionForward,
		Angle:      ch.position,
		Speed:      speed,
	}
	if err := ch.out.Drive(context.Background(), cmd); err != nil {
		c.sup.faultLocked(ch, err)
		ch.mu.Unlock()
		c.sup.maybeEscalate(ch.spec.ID)
		return CommandResult{}, fmt.Errorf("%w: drive %q: %v", ErrHardwareFault, ch.spec.ID, err)
	}

	now := time.Now()
	ch.speed = speed
	ch.lastCmd = now
	timeout := c.sup.policy.CommandTimeout
	if ch.positional {
		timeout = c.sup.policy.MovementTimeout
	}
	c.sup.armWatchdogLocked(ch, timeout)
	status := ch.snapshotLocked(now)
	ch.mu.Unlock()

	return CommandResult{AppliedSpeed: speed, Channel: status}, nil
}

// reset releases a fault after proving the output responds again. The
// estop latch does not block it: resets are how an operator gets back
// to a clearable state.
func (c *Controller) reset(ch *channel, req CommandRequest) (CommandResult, error) {
	ch.mu.Lock()
	if ch.state != StateFaulted {
		ch.mu.Unlock()
		return CommandResult{}, fmt.Errorf("%w: %q", ErrNotFaulted, ch.spec.ID)
	}
	if err := ch.out.Halt(context.Background()); err != nil {
		ch.mu.Unlock()
		return CommandResult{}, fmt.Errorf("%w: %q still failing: %v", ErrHardwareFault, ch.spec.ID, err)
	}
	ch.state = StateIdle
	ch.direction = DirectionNone
	ch.speed = 0
	ch.hasPos = false
	status := ch.snapshotLocked(time.Now())
	ch.mu.Unlock()

	c.logger.Info().Str("channel", ch.spec.ID).Str("issuer", req.Issuer).Msg("channel fault reset")
	return CommandResult{Channel: status}, nil
}

// Initialize centers every channel at a conservative speed. Faulted
// channels are reported and skipped; an active latch refuses the whole
// sweep.
func (c *Controller) Initialize(issuer string) ([]InitResult, error) {
	if err := c.sup.ensureMovementAllowed(); err != nil {
		return nil, err
	}

	results := make([]InitResult, 0, len(c.store.order))
	for _, ch := range c.store.all() {
		center := (ch.spec.MinAngle + ch.spec.MaxAngle) / 2
		req := NewCommandRequest(ch.spec.ID, ActionSetPosition)
		req.Angle = center
		req.Speed = initializeSpeed
		req.Issuer = issuer

		r := InitResult{ChannelID: ch.spec.ID, Angle: center}
		if _, err := c.Apply(req); err != nil {
			r.Error = err.Error()
		} else {
			r.Centered = true
		}
		results = append(results, r)
	}
	return results, nil
}

// directionToward infers reported direction for a positional move from
// the previous estimate. Callers hold ch.mu and have not yet replaced
// the estimate.
func directionToward(ch *channel, target float64) Direction {
	if !ch.hasPos || ch.position == target {
		return DirectionNone
	}
	if target > ch.position {
		return DirectionForward
	}
	return DirectionBackward
}
