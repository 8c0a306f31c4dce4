package config

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/99souls/carbonscheduler/internal/flavour"
	"github.com/99souls/carbonscheduler/internal/schedule"
)

// Seed is a static YAML file seeding a session's flavour list and component
// replica bounds, the way the teacher's PEAK_SCHEDULES_PATH file seeds peak
// windows at startup and on change.
type Seed struct {
	Flavours   []SeedFlavour                      `yaml:"flavours"`
	Components map[string]schedule.ComponentBounds `yaml:"components"`
}

// SeedFlavour is one YAML flavour entry; Precision above 1 is interpreted as
// a percentage, matching the wire-form rule in spec.md §6.
type SeedFlavour struct {
	Name            string  `yaml:"name"`
	Precision       float64 `yaml:"precision"`
	CarbonIntensity float64 `yaml:"carbonIntensity"`
	Enabled         *bool   `yaml:"enabled"`
}

// LoadSeed reads and parses a seed file from disk.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("config: read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("config: parse seed file: %w", err)
	}
	return seed, nil
}

// Flavours converts the seed's flavour entries into flavour.Profile values.
func (s Seed) Flavours() []flavour.Profile {
	out := make([]flavour.Profile, 0, len(s.Flavours))
	for _, f := range s.Flavours {
		precision := f.Precision
		if precision > 1 {
			precision = precision / 100
		}
		enabled := true
		if f.Enabled != nil {
			enabled = *f.Enabled
		}
		out = append(out, flavour.Profile{
			Name:            f.Name,
			Precision:       precision,
			CarbonIntensity: f.CarbonIntensity,
			Enabled:         enabled,
		})
	}
	return out
}

// WatchSeed watches path for changes and invokes onChange with the newly
// parsed Seed on every write event. Returns a stop function. Parse errors on
// reload are dropped with the file left at its last-known-good seed, the
// way the teacher's fsnotify watcher in the ratelimit/resources layer
// ignores a transient partial write and waits for the next event.
func WatchSeed(path string, onChange func(Seed)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config: watch seed file: %w", err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				seed, err := LoadSeed(path)
				if err != nil {
					continue
				}
				onChange(seed)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Close, nil
}
