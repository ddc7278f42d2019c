package arm

import "errors"

var (
	ErrUnknownChannel      = errors.New("arm: unknown channel")
	ErrInvalidDirection    = errors.New("arm: invalid direction")
	ErrOutOfBounds         = errors.New("arm: target out of bounds")
	ErrSpeedExceeded       = errors.New("arm: speed exceeds limit")
	ErrEmergencyStopActive = errors.New("arm: emergency stop active")
	ErrUnsafeToClear       = errors.New("arm: unsafe to clear emergency stop")
	ErrHardwareFault       = errors.New("arm: hardware fault")
	ErrConfiguration       = errors.New("arm: invalid configuration")
	ErrChannelFaulted      = errors.New("arm: channel faulted")
	ErrNotFaulted          = errors.New("arm: channel not faulted")
	ErrNotRunning          = errors.New("arm: channel not running")
	ErrInvalidCommand      = errors.New("arm: invalid command request")
)
