package arm

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action identifies a channel operation.
type Action string

const (
	ActionStart       Action = "start"
	ActionStop        Action = "stop"
	ActionSetPosition Action = "set_position"
	ActionSetSpeed    Action = "set_speed"
	ActionReset       Action = "reset"
)

// CommandRequest is the input boundary envelope for channel operations.
// Speed zero means "as fast as policy allows" for start and
// set_position; set_speed requires an explicit value.
type CommandRequest struct {
	CommandID   string
	ChannelID   string
	Action      Action
	Direction   Direction
	Angle       float64
	Speed       float64
	Issuer      string
	SubmittedAt time.Time
}

// NewCommandRequest builds an envelope with a fresh command id.
func NewCommandRequest(channelID string, action Action) CommandRequest {
	return CommandRequest{
		CommandID:   uuid.NewString(),
		ChannelID:   channelID,
		Action:      action,
		SubmittedAt: time.Now(),
	}
}

// Validate enforces required envelope fields per action.
func (r CommandRequest) Validate() error {
	if strings.TrimSpace(r.CommandID) == "" {
		return wrapInvalidCommand("missing command_id")
	}
	if strings.TrimSpace(r.ChannelID) == "" {
		return wrapInvalidCommand("missing channel_id")
	}
	if r.Speed < 0 || r.Speed > 100 {
		return fmt.Errorf("%w: requested %v outside (0,100]", ErrSpeedExceeded, r.Speed)
	}
	switch r.Action {
	case ActionStart:
		if r.Direction != DirectionForward && r.Direction != DirectionBackward {
			return fmt.Errorf("%w: start requires forward or backward, got %q", ErrInvalidDirection, r.Direction)
		}
	case ActionSetPosition:
		if math.IsNaN(r.Angle) || math.IsInf(r.Angle, 0) {
			return wrapInvalidCommand("angle must be finite")
		}
	case ActionSetSpeed:
		if r.Speed <= 0 {
			return fmt.Errorf("%w: requested %v outside (0,100]", ErrSpeedExceeded, r.Speed)
		}
	case ActionStop, ActionReset:
	default:
		return wrapInvalidCommand(fmt.Sprintf("unknown action %q", r.Action))
	}
	return nil
}

func wrapInvalidCommand(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidCommand, reason)
}

// CommandResult reports an accepted command. AppliedSpeed may be lower
// than requested when a speed limit clamped it.
type CommandResult struct {
	CommandID    string        `json:"command_id"`
	AppliedSpeed float64       `json:"applied_speed,omitempty"`
	Channel      ChannelStatus `json:"channel"`
}

// InitResult reports one channel's outcome from an initialize sweep.
type InitResult struct {
	ChannelID string  `json:"channel_id"`
	Centered  bool    `json:"centered"`
	Angle     float64 `json:"angle"`
	Error     string  `json:"error,omitempty"`
}
