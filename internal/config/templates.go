package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "config":
		return configTemplate, nil
	case "calibration":
		return calibrationTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const configTemplate = `name = "arm-ctl"
addr = ":8080"
cors_origins = ["http://localhost:3000"]
api_key = ""

[safety]
global_max_speed = 80.0
global_max_acceleration = 50.0
command_timeout_ms = 5000
movement_timeout_ms = 30000
bounds_checking = true
speed_limiting = true
timeout_protection = true
emergency_stop = true
fault_escalation = false

[actuation]
driver = "mock"
i2c_bus = ""
i2c_addr = 64
serial_port = ""
baud_rate = 1000000
calibration = ""

[estop_button]
enabled = false
pin = "GPIO17"
debounce_ms = 50

[telemetry]
enabled = false
broker = "tcp://localhost:1883"
topic_prefix = "armctl"

[[channels]]
id = "base"
output = 0
min_angle = 0.0
max_angle = 180.0
max_speed = 100.0

[[channels]]
id = "shoulder"
output = 1
min_angle = 0.0
max_angle = 180.0
max_speed = 100.0

[[channels]]
id = "elbow"
output = 2
min_angle = 0.0
max_angle = 180.0
max_speed = 100.0

[[channels]]
id = "wrist_rotate"
output = 3
min_angle = 0.0
max_angle = 180.0
max_speed = 100.0

[[channels]]
id = "gripper"
output = 4
min_angle = 0.0
max_angle = 180.0
max_speed = 100.0
`

const calibrationTemplate = `pwm_frequency: 50
channels:
  base:
    min_pulse_us: 1000
    center_pulse_us: 1392
    max_pulse_us: 2000
  shoulder:
    min_pulse_us: 1000
    center_pulse_us: 1392
    max_pulse_us: 2000
  elbow:
    min_pulse_us: 1000
    center_pulse_us: 1392
    max_pulse_us: 2000
  wrist_rotate:
    min_pulse_us: 1000
    center_pulse_us: 1392
    max_pulse_us: 2000
  gripper:
    min_pulse_us: 1000
    center_pulse_us: 1392
    max_pulse_us: 2000
`
