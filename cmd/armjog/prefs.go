package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const defaultPrefsFile = "armjog.toml"

// prefs persist the operator's last session settings between runs.
type prefs struct {
	Addr  string  `toml:"addr"`
	Key   string  `toml:"api_key"`
	Step  float64 `toml:"step_degrees"`
	Speed float64 `toml:"speed_percent"`
}

func defaultPrefs() prefs {
	return prefs{
		Addr:  "http://localhost:8080",
		Step:  5,
		Speed: 30,
	}
}

// loadPrefs layers the prefs file over defaults. A missing file is fine;
// fields absent from the file keep their defaults.
func loadPrefs(path string) (prefs, error) {
	p := defaultPrefs()
	if _, err := os.Stat(path); err != nil {
		return p, nil
	}
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", path, err)
	}
	return p, nil
}

func savePrefs(path string, p prefs) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(p); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}
