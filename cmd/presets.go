package cmd

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/popsim/popsim/sim"
)

//go:embed presets/*.yaml
var presetFS embed.FS

// PresetNames lists the built-in scenarios in name order.
func PresetNames() []string {
	entries, err := presetFS.ReadDir("presets")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// PresetYAML returns the raw document of a built-in scenario.
func PresetYAML(name string) ([]byte, error) {
	data, err := presetFS.ReadFile(path.Join("presets", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("unknown preset %q (have %s)", name, strings.Join(PresetNames(), ", "))
	}
	return data, nil
}

// LoadPreset parses a built-in scenario with the same strict checks as a
// scenario file.
func LoadPreset(name string) (*sim.ScenarioConfig, error) {
	data, err := PresetYAML(name)
	if err != nil {
		return nil, err
	}
	cfg, err := sim.ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("preset %s: %w", name, err)
	}
	return cfg, nil
}
