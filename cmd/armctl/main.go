package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/armctl/internal/actuation/feetech"
	"github.com/danmuck/armctl/internal/arm"
	"github.com/danmuck/armctl/internal/config"
	"github.com/danmuck/armctl/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (defaults apply when empty)")
	listPorts := flag.Bool("ports", false, "list candidate servo bus serial ports and exit")
	flag.Parse()

	_ = godotenv.Load()
	observability.InitLogger("armctl")

	if *listPorts {
		ports, err := feetech.AvailablePorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "armctl: %v\n", err)
			os.Exit(1)
		}
		for _, port := range ports {
			fmt.Println(port)
		}
		return
	}

	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "armctl: %v\n", err)
		os.Exit(1)
	}

	svc := arm.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "armctl: %v\n", err)
		os.Exit(1)
	}
}

func loadServiceConfig(path string) (arm.ServiceConfig, error) {
	if path == "" {
		log.Info().Msg("no config file given, using defaults")
		cfg := arm.DefaultServiceConfig()
		applyEnvOverrides(&cfg)
		return cfg, nil
	}

	fileCfg, err := config.Load(path)
	if err != nil {
		return arm.ServiceConfig{}, err
	}
	cfg, err := arm.ServiceConfigFromFile(fileCfg)
	if err != nil {
		return arm.ServiceConfig{}, err
	}
	applyEnvOverrides(&cfg)
	log.Info().Str("path", path).Str("driver", cfg.Actuation.Kind).Msg("loaded arm config")
	return cfg, nil
}

// applyEnvOverrides lets deployment secrets stay out of the config file.
func applyEnvOverrides(cfg *arm.ServiceConfig) {
	if key := os.Getenv("ARMCTL_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if addr := os.Getenv("ARMCTL_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if broker := os.Getenv("ARMCTL_MQTT_BROKER"); broker != "" {
		cfg.Telemetry.Broker = broker
	}
}
