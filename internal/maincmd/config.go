package maincmd

import (
	"os"

	"gopkg.in/yaml.v3"
)

// config holds the VM tuning knobs an embedder or REPL session may want to
// override, loaded from an optional .ember.yaml. Grounded on
// funvibe-funxy's internal/ext.Config: a plain yaml.v3-decoded struct,
// absence of the file is not an error. StressGC wires directly to
// heap.Heap.StressGC; MaxSteps wires to vm.Thread.MaxSteps. The operand
// stack (16384 slots) and call-frame depth (64 frames) are spec.md's fixed
// sizes, not configurable here, matching the reference VM's hardcoded
// STACK_MAX/FRAMES_MAX.
type config struct {
	StressGC bool `yaml:"stress_gc"`
	MaxSteps int  `yaml:"max_steps"`
}

func defaultConfig() config {
	return config{}
}

// loadConfig reads path (or ./.ember.yaml if path is empty) and decodes it
// over the defaults. A missing file is not an error; a malformed one is.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		path = ".ember.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
