package main

import (
	"flag"
	"log"

	"github.com/danmuck/armctl/internal/config"
)

func main() {
	kind := flag.String("kind", "config", "template kind: config|calibration")
	output := flag.String("output", "", "output path for the template")
	validate := flag.Bool("validate", false, "validate an existing file instead of writing")
	input := flag.String("input", "", "path for validation (defaults to per-kind path)")
	force := flag.Bool("force", false, "overwrite an existing file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}

		switch *kind {
		case "config":
			if _, err := config.Load(path); err != nil {
				log.Fatal(err)
			}
		case "calibration":
			if _, err := config.LoadCalibration(path); err != nil {
				log.Fatal(err)
			}
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
		log.Printf("Validated %s at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s template to %s", *kind, target)
}

func defaultPath(kind string) string {
	switch kind {
	case "config":
		return "cmd/armctl/config.toml"
	case "calibration":
		return "cmd/armctl/calibration.yaml"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}
