package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProfileFile is the top-level YAML structure of a tier overrides file.
type ProfileFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads per-symbol overrides from a YAML file.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ProfileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}

	out := make(map[string]Profile, len(file.Profiles))
	for sym, p := range file.Profiles {
		if p.RiskFactor < 0 || p.MinRelVol < 0 {
			return nil, fmt.Errorf("profile %s: negative threshold", sym)
		}
		out[NormalizeSymbol(sym)] = p
	}
	return out, nil
}

// MergeProfiles layers overrides on top of base, keyed by normalized symbol.
func MergeProfiles(base, overrides map[string]Profile) map[string]Profile {
	out := make(map[string]Profile, len(base)+len(overrides))
	for sym, p := range base {
		out[NormalizeSymbol(sym)] = p
	}
	for sym, p := range overrides {
		out[NormalizeSymbol(sym)] = p
	}
	return out
}
