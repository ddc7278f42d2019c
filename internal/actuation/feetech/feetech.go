// Package feetech drives Feetech STS-series bus servos over a serial
// half-duplex link. Unlike PWM servos these report measured positions,
// so feedback is real rather than estimated.
package feetech

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	sdk "github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/danmuck/armctl/internal/actuation"
)

const (
	defaultBaudRate = 1_000_000
	defaultModel    = "sts3215"
	busTimeout      = 100 * time.Millisecond
	scanTimeout     = 2 * time.Second
	maxScanID       = 16

	countsPerRev = 4096

	// Rated no-load speed of an STS3215 at 12V, used to pace timed moves.
	fullSpeedDegPerSec = 90.0

	// Move durations ride in a 16-bit millisecond field on the wire.
	maxMoveTimeMs = 65_000
)

type Driver struct {
	bus    *sdk.Bus
	models map[int]string
}

// New opens the serial bus and scans for attached servos to learn
// their models. IDs that do not answer the scan fall back to the
// default model when opened.
func New(cfg actuation.Config) (*Driver, error) {
	if cfg.SerialPort == "" {
		return nil, fmt.Errorf("feetech: serial port required")
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = defaultBaudRate
	}

	bus, err := sdk.NewBus(sdk.BusConfig{
		Port:     cfg.SerialPort,
		BaudRate: baud,
		Protocol: sdk.ProtocolSTS,
		Timeout:  busTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open serial bus %q: %v", actuation.ErrHardwareFault, cfg.SerialPort, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()
	found, err := bus.Scan(ctx, 1, maxScanID)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("%w: scan bus %q: %v", actuation.ErrHardwareFault, cfg.SerialPort, err)
	}

	models := make(map[int]string, len(found))
	for _, s := range found {
		models[s.ID] = s.Model
	}
	return &Driver{bus: bus, models: models}, nil
}

func (d *Driver) Output(spec actuation.OutputSpec) (actuation.Output, error) {
	if spec.Index < 1 {
		return nil, fmt.Errorf("feetech: servo id %d out of range", spec.Index)
	}
	model := d.models[spec.Index]
	if model == "" {
		model = defaultModel
	}
	return &output{
		servo: sdk.NewServo(d.bus, spec.Index, model),
		spec:  spec,
	}, nil
}

func (d *Driver) Close() error {
	return d.bus.Close()
}

// AvailablePorts lists serial ports a servo bus could live on.
func AvailablePorts() ([]string, error) {
	return serial.GetPortsList()
}

type output struct {
	servo *sdk.Servo
	spec  actuation.OutputSpec

	mu      sync.Mutex
	enabled bool
}

func (o *output) Drive(ctx context.Context, cmd actuation.Command) error {
	if err := o.ensureEnabled(ctx); err != nil {
		return err
	}
	if cmd.Positional {
		if err := o.servo.SetPosition(ctx, countsFromDegrees(cmd.Angle)); err != nil {
			return fmt.Errorf("%w: set position: %v", actuation.ErrHardwareFault, err)
		}
		return nil
	}

	// Directional moves aim at the bound in the commanded direction and
	// pace the timed move so speed percent scales travel rate.
	target := o.spec.MaxAngle
	if !cmd.Forward {
		target = o.spec.MinAngle
	}
	cur, err := o.servo.Position(ctx)
	if err != nil {
		return fmt.Errorf("%w: read position: %v", actuation.ErrHardwareFault, err)
	}
	dist := math.Abs(target - degreesFromCounts(cur))
	if err := o.servo.SetPositionWithTime(ctx, countsFromDegrees(target), travelTimeMs(dist, cmd.Speed)); err != nil {
		return fmt.Errorf("%w: timed move: %v", actuation.ErrHardwareFault, err)
	}
	return nil
}

// Halt brakes in place. Torque stays enabled so the joint holds
// against gravity instead of going limp.
func (o *output) Halt(ctx context.Context) error {
	pos, err := o.servo.Position(ctx)
	if err != nil {
		return fmt.Errorf("%w: read position: %v", actuation.ErrHardwareFault, err)
	}
	if err := o.servo.SetPosition(ctx, pos); err != nil {
		return fmt.Errorf("%w: brake: %v", actuation.ErrHardwareFault, err)
	}
	return nil
}

func (o *output) Feedback(ctx context.Context) (float64, bool, error) {
	pos, err := o.servo.Position(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("%w: read position: %v", actuation.ErrHardwareFault, err)
	}
	return degreesFromCounts(pos), true, nil
}

func (o *output) ensureEnabled(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.enabled {
		return nil
	}
	if err := o.servo.Enable(ctx); err != nil {
		return fmt.Errorf("%w: enable torque: %v", actuation.ErrHardwareFault, err)
	}
	o.enabled = true
	return nil
}

func countsFromDegrees(deg float64) int {
	c := int(math.Round(deg * countsPerRev / 360))
	if c < 0 {
		c = 0
	}
	if c > countsPerRev-1 {
		c = countsPerRev - 1
	}
	return c
}

func degreesFromCounts(c int) float64 {
	return float64(c) * 360 / countsPerRev
}

func travelTimeMs(dist, speed float64) int {
	if dist <= 0 {
		return 0
	}
	if speed <= 0 {
		speed = 1
	}
	if speed > 100 {
		speed = 100
	}
	rate := fullSpeedDegPerSec * speed / 100
	ms := int(math.Round(dist / rate * 1000))
	if ms > maxMoveTimeMs {
		ms = maxMoveTimeMs
	}
	return ms
}
