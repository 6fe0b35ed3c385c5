// Package testutil provides shared test infrastructure for the popsim engine.
// It consolidates scenario fixtures and assertion helpers used across sim/,
// its sub-packages and cmd/ test packages.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

// SmallScenario is a compact scenario document tests patch into shape. It
// keeps runs fast while exercising every phase.
func SmallScenario() map[string]any {
	return map[string]any{
		"name":         "test",
		"seed":         42,
		"tick_count":   20,
		"initial_size": 300,
		"age_distribution": map[string]any{
			"kind": "uniform", "min": 0, "max": 70,
		},
		"base_rates": map[string]any{
			"mortality":  0.002,
			"fertility":  0.3,
			"partnering": 0.4,
			"migration":  0.05,
			"emigration": 0.01,
		},
	}
}

// ScenarioYAML deep-merges patch into SmallScenario and renders YAML. A nil
// value in patch deletes the key.
func ScenarioYAML(t *testing.T, patch map[string]any) []byte {
	t.Helper()
	doc := SmallScenario()
	merge(doc, patch)
	data, err := yaml.Marshal(doc)
	if err != nil {
		t.Fatalf("Failed to marshal scenario: %v", err)
	}
	return data
}

// WriteScenario writes ScenarioYAML into a temp dir and returns its path.
func WriteScenario(t *testing.T, patch map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, ScenarioYAML(t, patch), 0o644); err != nil {
		t.Fatalf("Failed to write scenario: %v", err)
	}
	return path
}

func merge(dst, patch map[string]any) {
	for k, v := range patch {
		if v == nil {
			delete(dst, k)
			continue
		}
		sub, ok := v.(map[string]any)
		cur, curOK := dst[k].(map[string]any)
		if ok && curOK {
			merge(cur, sub)
			continue
		}
		dst[k] = v
	}
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
