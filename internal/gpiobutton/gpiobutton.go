// Package gpiobutton watches a physical emergency stop button on a
// GPIO pin and fires a callback when it is pressed.
//
// Ownership boundary: pin acquisition, edge detection, and debounce.
// What happens on a press belongs to the caller.
package gpiobutton

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

var ErrUnknownPin = errors.New("gpiobutton: unknown pin")

const (
	defaultDebounce    = 50 * time.Millisecond
	maxAcquireAttempts = 10
	edgeWait           = time.Second

	acquireInitialDelay = 200 * time.Millisecond
	acquireMultiplier   = 2.0
	acquireMaxDelay     = 5 * time.Second
)

// Config names the button pin. The button wires the pin to ground, so
// the watcher pulls it up and waits for falling edges.
type Config struct {
	Pin      string
	Debounce time.Duration
}

// Watcher polls a single button pin until its context ends.
type Watcher struct {
	cfg     Config
	trigger func(source string)
	logger  zerolog.Logger
}

func New(cfg Config, trigger func(source string), logger zerolog.Logger) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	return &Watcher{cfg: cfg, trigger: trigger, logger: logger}
}

// Run blocks watching the pin. It returns when the context ends or the
// pin cannot be acquired.
func (w *Watcher) Run(ctx context.Context) error {
	pin, err := w.acquirePin(ctx)
	if err != nil {
		return err
	}
	w.logger.Info().
		Str("pin", w.cfg.Pin).
		Dur("debounce", w.cfg.Debounce).
		Msg("emergency stop button armed")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !pin.WaitForEdge(edgeWait) {
			continue
		}
		time.Sleep(w.cfg.Debounce)
		if pin.Read() != gpio.Low {
			continue
		}
		w.logger.Warn().Str("pin", w.cfg.Pin).Msg("emergency stop button pressed")
		w.trigger("hardware-button")
	}
}

// acquirePin retries pin setup with backoff. Host init can race
// hardware discovery right after boot.
func (w *Watcher) acquirePin(ctx context.Context) (gpio.PinIO, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAcquireAttempts; attempt++ {
		pin, err := w.openPin()
		if err == nil {
			return pin, nil
		}
		lastErr = err
		w.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("pin", w.cfg.Pin).
			Msg("estop button pin acquire failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(nextAcquireDelay(attempt)):
		}
	}
	return nil, lastErr
}

func (w *Watcher) openPin() (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	pin := gpioreg.ByName(w.cfg.Pin)
	if pin == nil {
		return nil, ErrUnknownPin
	}
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, err
	}
	return pin, nil
}

// nextAcquireDelay returns the retry delay for attempt N (1-based).
func nextAcquireDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return acquireInitialDelay
	}
	delay := float64(acquireInitialDelay) * math.Pow(acquireMultiplier, float64(attempt-1))
	if delay > float64(acquireMaxDelay) {
		delay = float64(acquireMaxDelay)
	}
	return time.Duration(delay)
}
