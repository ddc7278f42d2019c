// Package pca9685 drives hobby servos through the PCA9685 16-channel
// PWM controller on an I2C bus. Positional servos are commanded by
// pulse width interpolated across their calibrated range; continuous
// rotation servos by offset from the calibrated center pulse.
package pca9685

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"

	"github.com/danmuck/armctl/internal/actuation"
)

const (
	regMode1    = 0x00
	regLEDBase  = 0x06
	regAllLED   = 0xfa
	regPreScale = 0xfe

	oscClockHz = 25_000_000
	pwmSteps   = 4096
	pwmMax     = 4095

	defaultAddr = 0x40
	defaultFreq = 50
)

type Driver struct {
	mu     sync.Mutex
	dev    *i2c.Dev
	closer i2c.BusCloser
	period time.Duration
}

// New opens the configured I2C bus and configures the controller for
// servo PWM. An empty bus name selects the first available bus.
func New(cfg actuation.Config) (*Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: host init: %v", actuation.ErrHardwareFault, err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("%w: open i2c bus %q: %v", actuation.ErrHardwareFault, cfg.I2CBus, err)
	}
	d, err := NewWithBus(bus, cfg)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	d.closer = bus
	return d, nil
}

// NewWithBus configures the controller on an already open bus. The bus
// is not closed by the driver.
func NewWithBus(bus i2c.Bus, cfg actuation.Config) (*Driver, error) {
	addr := cfg.I2CAddr
	if addr == 0 {
		addr = defaultAddr
	}
	freq := cfg.PWMFrequency
	if freq <= 0 {
		freq = defaultFreq
	}
	d := &Driver{
		dev:    &i2c.Dev{Addr: addr, Bus: bus},
		period: time.Second / time.Duration(freq),
	}
	if err := d.configure(freq); err != nil {
		return nil, err
	}
	return d, nil
}

// configure puts the controller to sleep, sets the frame prescaler,
// wakes it, and restarts with register auto-increment enabled.
func (d *Driver) configure(freq int) error {
	if err := d.writeReg(regMode1, 0x11); err != nil {
		return err
	}
	if err := d.writeReg(regPreScale, prescaleFor(freq)); err != nil {
		return err
	}
	if err := d.writeReg(regMode1, 0x01); err != nil {
		return err
	}
	time.Sleep(time.Millisecond)
	return d.writeReg(regMode1, 0xa1)
}

// prescaleFor maps a frame frequency to the PRE_SCALE register value.
// 50Hz yields 0x79.
func prescaleFor(freq int) byte {
	v := math.Round(float64(oscClockHz)/(pwmSteps*float64(freq))) - 1
	if v < 3 {
		v = 3
	}
	if v > 255 {
		v = 255
	}
	return byte(v)
}

func (d *Driver) Output(spec actuation.OutputSpec) (actuation.Output, error) {
	if spec.Index < 0 || spec.Index > 15 {
		return nil, fmt.Errorf("pca9685: output index %d out of range [0,15]", spec.Index)
	}
	return &output{d: d, spec: spec}, nil
}

func (d *Driver) Close() error {
	err := d.writeReg(regAllLED, 0x00, 0x00, 0x00, 0x10)
	if d.closer != nil {
		if cerr := d.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (d *Driver) setPWM(index int, ticks uint16) error {
	reg := byte(regLEDBase + 4*index)
	return d.writeReg(reg, 0x00, 0x00, byte(ticks&0xff), byte(ticks>>8))
}

func (d *Driver) haltOutput(index int) error {
	reg := byte(regLEDBase + 4*index)
	return d.writeReg(reg, 0x00, 0x00, 0x00, 0x10)
}

func (d *Driver) ticksFor(pulse time.Duration) uint16 {
	ticks := int64(pulse) * pwmMax / int64(d.period)
	if ticks < 0 {
		ticks = 0
	}
	if ticks > pwmMax {
		ticks = pwmMax
	}
	return uint16(ticks)
}

func (d *Driver) writeReg(reg byte, vals ...byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dev.Tx(append([]byte{reg}, vals...), nil); err != nil {
		return fmt.Errorf("%w: i2c write reg 0x%02x: %v", actuation.ErrHardwareFault, reg, err)
	}
	return nil
}

type output struct {
	d    *Driver
	spec actuation.OutputSpec
}

func (o *output) Drive(ctx context.Context, cmd actuation.Command) error {
	return o.d.setPWM(o.spec.Index, o.d.ticksFor(o.pulseFor(cmd)))
}

func (o *output) Halt(ctx context.Context) error {
	return o.d.haltOutput(o.spec.Index)
}

// Feedback always reports unknown: the PCA9685 is write-only.
func (o *output) Feedback(ctx context.Context) (float64, bool, error) {
	return 0, false, nil
}

func (o *output) pulseFor(cmd actuation.Command) time.Duration {
	p := o.spec.Pulses
	if cmd.Positional {
		span := o.spec.MaxAngle - o.spec.MinAngle
		frac := 0.0
		if span > 0 {
			frac = (cmd.Angle - o.spec.MinAngle) / span
		}
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		return p.Min + time.Duration(frac*float64(p.Max-p.Min))
	}
	edge := p.Max
	if !cmd.Forward {
		edge = p.Min
	}
	return p.Center + time.Duration(float64(edge-p.Center)*cmd.Speed/100)
}
