// Package mock provides an in-memory actuation backend for bench use
// and tests. Outputs record the commands they receive and can be primed
// to fail.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/armctl/internal/actuation"
)

type Driver struct {
	mu      sync.Mutex
	outputs map[int]*Output
}

func New() *Driver {
	return &Driver{outputs: make(map[int]*Output)}
}

func (d *Driver) Output(spec actuation.OutputSpec) (actuation.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if out, ok := d.outputs[spec.Index]; ok {
		return out, nil
	}
	out := &Output{spec: spec}
	d.outputs[spec.Index] = out
	return out, nil
}

func (d *Driver) Close() error {
	return nil
}

// Lookup returns the recorded output for an index, for test assertions.
func (d *Driver) Lookup(index int) (*Output, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, ok := d.outputs[index]
	return out, ok
}

// Output is a recording servo output.
type Output struct {
	mu       sync.Mutex
	spec     actuation.OutputSpec
	driving  bool
	last     actuation.Command
	drives   int
	halts    int
	angle    float64
	hasAngle bool
	driveErr error
	haltErr  error
}

func (o *Output) Drive(ctx context.Context, cmd actuation.Command) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.driveErr != nil {
		return fmt.Errorf("%w: %v", actuation.ErrHardwareFault, o.driveErr)
	}
	o.driving = true
	o.last = cmd
	o.drives++
	if cmd.Positional {
		o.angle = cmd.Angle
		o.hasAngle = true
	} else {
		o.hasAngle = false
	}
	return nil
}

func (o *Output) Halt(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.haltErr != nil {
		return fmt.Errorf("%w: %v", actuation.ErrHardwareFault, o.haltErr)
	}
	o.driving = false
	o.halts++
	return nil
}

func (o *Output) Feedback(ctx context.Context) (float64, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.angle, o.hasAngle, nil
}

// SetDriveErr primes the next Drive calls to fail.
func (o *Output) SetDriveErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.driveErr = err
}

// SetHaltErr primes the next Halt calls to fail.
func (o *Output) SetHaltErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.haltErr = err
}

// SetFeedback primes the measured position.
func (o *Output) SetFeedback(pos float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.angle = pos
	o.hasAngle = true
}

func (o *Output) Driving() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.driving
}

func (o *Output) LastCommand() actuation.Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func (o *Output) Drives() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.drives
}

func (o *Output) Halts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.halts
}
