package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/armctl/internal/actuation"
)

type Config struct {
	Name        string            `toml:"name"`
	Addr        string            `toml:"addr"`
	CorsOrigins []string          `toml:"cors_origins"`
	APIKey      string            `toml:"api_key"`
	Safety      SafetyConfig      `toml:"safety"`
	Actuation   ActuationConfig   `toml:"actuation"`
	EStopButton EStopButtonConfig `toml:"estop_button"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
	Channels    []ChannelConfig   `toml:"channels"`
}

type SafetyConfig struct {
	GlobalMaxSpeed        float64 `toml:"global_max_speed"`
	GlobalMaxAcceleration float64 `toml:"global_max_acceleration"`
	CommandTimeoutMS      int     `toml:"command_timeout_ms"`
	MovementTimeoutMS     int     `toml:"movement_timeout_ms"`
	BoundsChecking        bool    `toml:"bounds_checking"`
	SpeedLimiting         bool    `toml:"speed_limiting"`
	TimeoutProtection     bool    `toml:"timeout_protection"`
	EmergencyStop         bool    `toml:"emergency_stop"`
	FaultEscalation       bool    `toml:"fault_escalation"`
}

type ActuationConfig struct {
	Driver      string `toml:"driver"`
	I2CBus      string `toml:"i2c_bus"`
	I2CAddr     int    `toml:"i2c_addr"`
	SerialPort  string `toml:"serial_port"`
	BaudRate    int    `toml:"baud_rate"`
	Calibration string `toml:"calibration"`
}

type EStopButtonConfig struct {
	Enabled    bool   `toml:"enabled"`
	Pin        string `toml:"pin"`
	DebounceMS int    `toml:"debounce_ms"`
}

type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	TopicPrefix string `toml:"topic_prefix"`
	ClientID    string `toml:"client_id"`
}

type ChannelConfig struct {
	ID       string  `toml:"id"`
	Output   int     `toml:"output"`
	MinAngle float64 `toml:"min_angle"`
	MaxAngle float64 `toml:"max_angle"`
	MaxSpeed float64 `toml:"max_speed"`
}

// Timeout bounds accepted from configuration, in milliseconds.
const (
	MinCommandTimeoutMS  = 100
	MaxCommandTimeoutMS  = 30_000
	MinMovementTimeoutMS = 1_000
	MaxMovementTimeoutMS = 60_000
)

func Default() Config {
	return Config{
		Name:        "arm-ctl",
		Addr:        ":8080",
		CorsOrigins: []string{"http://localhost:3000"},
		Safety: SafetyConfig{
			GlobalMaxSpeed:        80,
			GlobalMaxAcceleration: 50,
			CommandTimeoutMS:      5_000,
			MovementTimeoutMS:     30_000,
			BoundsChecking:        true,
			SpeedLimiting:         true,
			TimeoutProtection:     true,
			EmergencyStop:         true,
			FaultEscalation:       false,
		},
		Actuation: ActuationConfig{
			Driver:   actuation.KindMock,
			BaudRate: 1_000_000,
		},
		EStopButton: EStopButtonConfig{
			Pin:        "GPIO17",
			DebounceMS: 50,
		},
		Telemetry: TelemetryConfig{
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "armctl",
		},
		Channels: DefaultChannels(),
	}
}

func DefaultChannels() []ChannelConfig {
	names := []string{"base", "shoulder", "elbow", "wrist_rotate", "gripper"}
	channels := make([]ChannelConfig, 0, len(names))
	for i, name := range names {
		channels = append(channels, ChannelConfig{
			ID:       name,
			Output:   i,
			MinAngle: 0,
			MaxAngle: 180,
			MaxSpeed: 100,
		})
	}
	return channels
}

// Load reads a TOML config, layering the file over defaults. Keys
// absent from the file keep their default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg := Default()
	cfg.Channels = nil
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = DefaultChannels()
	}
	for i := range cfg.Channels {
		if cfg.Channels[i].MaxSpeed == 0 {
			cfg.Channels[i].MaxSpeed = 100
		}
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("arm config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("arm config missing addr")
	}
	if err := validateSafety(cfg.Safety); err != nil {
		return err
	}
	if err := validateActuation(cfg.Actuation); err != nil {
		return err
	}
	if len(cfg.Channels) == 0 {
		return fmt.Errorf("arm config requires at least one channel")
	}
	ids := make(map[string]struct{}, len(cfg.Channels))
	outputs := make(map[int]struct{}, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		if err := ValidateChannel(ch); err != nil {
			return fmt.Errorf("channel[%d] invalid: %w", i, err)
		}
		if _, ok := ids[ch.ID]; ok {
			return fmt.Errorf("channel[%d] invalid: duplicate id %q", i, ch.ID)
		}
		ids[ch.ID] = struct{}{}
		if _, ok := outputs[ch.Output]; ok {
			return fmt.Errorf("channel[%d] invalid: duplicate output %d", i, ch.Output)
		}
		outputs[ch.Output] = struct{}{}
	}
	return nil
}

func validateSafety(cfg SafetyConfig) error {
	if cfg.GlobalMaxSpeed <= 0 || cfg.GlobalMaxSpeed > 100 {
		return fmt.Errorf("safety global_max_speed must be in (0,100], got %v", cfg.GlobalMaxSpeed)
	}
	if cfg.GlobalMaxAcceleration <= 0 || cfg.GlobalMaxAcceleration > 100 {
		return fmt.Errorf("safety global_max_acceleration must be in (0,100], got %v", cfg.GlobalMaxAcceleration)
	}
	if cfg.CommandTimeoutMS < MinCommandTimeoutMS || cfg.CommandTimeoutMS > MaxCommandTimeoutMS {
		return fmt.Errorf("safety command_timeout_ms must be in [%d,%d], got %d",
			MinCommandTimeoutMS, MaxCommandTimeoutMS, cfg.CommandTimeoutMS)
	}
	if cfg.MovementTimeoutMS < MinMovementTimeoutMS || cfg.MovementTimeoutMS > MaxMovementTimeoutMS {
		return fmt.Errorf("safety movement_timeout_ms must be in [%d,%d], got %d",
			MinMovementTimeoutMS, MaxMovementTimeoutMS, cfg.MovementTimeoutMS)
	}
	return nil
}

func validateActuation(cfg ActuationConfig) error {
	switch cfg.Driver {
	case actuation.KindMock, actuation.KindPCA9685:
	case actuation.KindFeetech:
		if strings.TrimSpace(cfg.SerialPort) == "" {
			return fmt.Errorf("actuation serial_port required for feetech driver")
		}
	default:
		return fmt.Errorf("actuation driver must be one of mock|pca9685|feetech, got %q", cfg.Driver)
	}
	if cfg.I2CAddr < 0 || cfg.I2CAddr > 0x7f {
		return fmt.Errorf("actuation i2c_addr must be a 7-bit address, got %d", cfg.I2CAddr)
	}
	if cfg.BaudRate < 0 {
		return fmt.Errorf("actuation baud_rate must be positive, got %d", cfg.BaudRate)
	}
	return nil
}

func ValidateChannel(ch ChannelConfig) error {
	if strings.TrimSpace(ch.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if ch.Output < 0 {
		return fmt.Errorf("output must be non-negative")
	}
	if ch.MinAngle >= ch.MaxAngle {
		return fmt.Errorf("min_angle %v must be below max_angle %v", ch.MinAngle, ch.MaxAngle)
	}
	if ch.MaxSpeed < 0 || ch.MaxSpeed > 100 {
		return fmt.Errorf("max_speed must be in [0,100], got %v", ch.MaxSpeed)
	}
	return nil
}
