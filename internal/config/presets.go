package config

import (
	"math"
	"sort"
)

// Presets are ready-made scenarios keyed by name. Each call builds a fresh
// Config so callers may modify the result.
var Presets = map[string]func() *Config{
	"biped": func() *Config {
		cfg := DefaultConfig()
		cfg.Base.Pos = [3]float64{0, 0, 0.1}
		cfg.Duration = 10
		return cfg
	},
	"box-drop": func() *Config {
		cfg := DefaultConfig()
		cfg.Base.Pos = [3]float64{0, 0, 1}
		cfg.Duration = 2
		cfg.Sim.NIntegration = 4
		cfg.Sim.Objects = []ObjectConfig{{
			Name:          "floor",
			Type:          "cube",
			Contact:       "rebound",
			RGB:           [3]float64{0.4, 0.4, 0.4},
			Pos:           [3]float64{0, 0, -0.5},
			Scale:         [3]float64{20, 20, 1},
			ContactParams: []float64{10000, 100, 10000, 100, 1, 0.8, 1, 1},
		}}
		return cfg
	},
	"slide": func() *Config {
		cfg := DefaultConfig()
		cfg.Base.Pos = [3]float64{0, 0, 0.12}
		cfg.Duration = 3
		cfg.Sim.Objects = []ObjectConfig{{
			Name:          "ramp",
			Type:          "cube",
			Contact:       "viscous",
			RGB:           [3]float64{0.6, 0.5, 0.3},
			Pos:           [3]float64{0, 0, -0.5},
			Rot:           [3]float64{0, 10 * math.Pi / 180, 0},
			Scale:         [3]float64{20, 20, 1},
			ContactParams: []float64{10000, 100, 20},
		}}
		return cfg
	},
}

// GetPreset returns a fresh copy of the named preset, or nil.
func GetPreset(name string) *Config {
	build, ok := Presets[name]
	if !ok {
		return nil
	}
	return build()
}

// ListPresets returns the preset names in sorted order.
func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
