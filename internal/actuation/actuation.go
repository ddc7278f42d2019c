// Package actuation owns the hardware boundary for servo outputs.
//
// Ownership boundary:
// - output command shape
// - driver and output interfaces
// - per-output calibration shape
package actuation

import (
	"context"
	"errors"
	"time"
)

var ErrHardwareFault = errors.New("actuation: hardware fault")

// Driver kinds selectable from configuration.
const (
	KindMock    = "mock"
	KindPCA9685 = "pca9685"
	KindFeetech = "feetech"
)

// Command describes one actuation request for a single output.
//
// Positional commands move toward Angle and hold. Directional commands
// run continuously toward Forward or backward at Speed percent until
// halted.
type Command struct {
	Positional bool
	Forward    bool
	Angle      float64
	Speed      float64
}

// PulseProfile is the calibrated pulse width range for one output.
type PulseProfile struct {
	Min    time.Duration
	Center time.Duration
	Max    time.Duration
}

// DefaultPulses returns the stock servo calibration: 1.0ms reverse,
// 1.392ms neutral, 2.0ms forward at a 50Hz frame.
func DefaultPulses() PulseProfile {
	return PulseProfile{
		Min:    1000 * time.Microsecond,
		Center: 1392 * time.Microsecond,
		Max:    2000 * time.Microsecond,
	}
}

// OutputSpec identifies one physical output and its calibration.
type OutputSpec struct {
	Index    int
	MinAngle float64
	MaxAngle float64
	Pulses   PulseProfile
}

// Output drives a single servo output.
//
// Implementations must tolerate Halt on an already idle output.
// Feedback reports the measured position in degrees when the hardware
// supports position readback; known=false means no estimate is
// available and the caller keeps its own.
type Output interface {
	Drive(ctx context.Context, cmd Command) error
	Halt(ctx context.Context) error
	Feedback(ctx context.Context) (pos float64, known bool, err error)
}

// Driver opens outputs against one hardware backend instance.
type Driver interface {
	Output(spec OutputSpec) (Output, error)
	Close() error
}

// Config selects and parameterizes a hardware backend.
type Config struct {
	Kind         string
	I2CBus       string
	I2CAddr      uint16
	SerialPort   string
	BaudRate     int
	PWMFrequency int
}
