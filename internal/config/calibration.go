package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Calibration holds measured pulse ranges per channel. It lives in a
// separate YAML file so a bench calibration run can rewrite it without
// touching the service config.
type Calibration struct {
	PWMFrequency int                           `yaml:"pwm_frequency"`
	Channels     map[string]ChannelCalibration `yaml:"channels"`
}

type ChannelCalibration struct {
	MinPulseUS    int `yaml:"min_pulse_us"`
	CenterPulseUS int `yaml:"center_pulse_us"`
	MaxPulseUS    int `yaml:"max_pulse_us"`
}

func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, fmt.Errorf("calibration load failed (%s): %w", path, err)
	}
	var cal Calibration
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return Calibration{}, fmt.Errorf("calibration parse failed (%s): %w", path, err)
	}
	if cal.PWMFrequency == 0 {
		cal.PWMFrequency = 50
	}
	if err := ValidateCalibration(cal); err != nil {
		return Calibration{}, err
	}
	return cal, nil
}

func ValidateCalibration(cal Calibration) error {
	if cal.PWMFrequency < 24 || cal.PWMFrequency > 1526 {
		return fmt.Errorf("calibration pwm_frequency must be in [24,1526], got %d", cal.PWMFrequency)
	}
	for id, ch := range cal.Channels {
		if ch.MinPulseUS <= 0 {
			return fmt.Errorf("calibration channel %q min_pulse_us must be positive", id)
		}
		if !(ch.MinPulseUS < ch.CenterPulseUS && ch.CenterPulseUS < ch.MaxPulseUS) {
			return fmt.Errorf("calibration channel %q pulses must satisfy min < center < max", id)
		}
	}
	return nil
}
