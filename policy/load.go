package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk policy file layout.
type File struct {
	Policies []Config `yaml:"policies"`
}

// LoadFile reads policy configs from a YAML file:
//
//	policies:
//	  - name: login
//	    window: 15m
//	    max_requests: 5
//	  - name: search
//	    algorithm: sliding_window
//	    window: 1m
//	    max_requests: 60
//
// Each entry is validated; defaults are applied when the policy is built.
func LoadFile(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes policy configs from YAML bytes in the LoadFile layout.
func Parse(data []byte) ([]Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse policies: %w", ErrInvalidConfig, err)
	}
	for _, cfg := range f.Policies {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Policies, nil
}

// Merge returns base with overrides applied by name: an override replaces
// the base entry with the same name in place, and new names are appended.
func Merge(base, overrides []Config) []Config {
	out := make([]Config, len(base), len(base)+len(overrides))
	copy(out, base)

	index := make(map[string]int, len(out))
	for i, cfg := range out {
		index[cfg.Name] = i
	}
	for _, cfg := range overrides {
		if i, ok := index[cfg.Name]; ok {
			out[i] = cfg
			continue
		}
		index[cfg.Name] = len(out)
		out = append(out, cfg)
	}
	return out
}
