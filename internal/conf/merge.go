package conf

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/ondepi-go/internal/errors"
)

// MergePatch returns a copy of base with patch deep-merged into it. Nested
// maps merge key by key; any other value replaces the existing one.
func MergePatch(base *Settings, patch map[string]any) (*Settings, error) {
	current, err := toMap(base)
	if err != nil {
		return nil, err
	}

	merged := deepMerge(current, patch)

	out, err := fromMap(merged)
	if err != nil {
		return nil, err
	}
	out.ConfigPath = base.ConfigPath
	return out, nil
}

// ToMap renders settings as a generic map keyed like config.yaml.
func ToMap(settings *Settings) (map[string]any, error) {
	return toMap(settings)
}

func toMap(settings *Settings) (map[string]any, error) {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings: %w", err)
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("error decoding settings map: %w", err)
	}
	return out, nil
}

func fromMap(m map[string]any) (*Settings, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error marshaling merged settings: %w", err)
	}
	settings := &Settings{}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, errors.New(fmt.Errorf("invalid config value: %w", err)).
			Category(errors.CategoryValidation).
			Context("operation", "merge-config").
			Build()
	}
	return settings, nil
}

func deepMerge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		patchMap, patchIsMap := v.(map[string]any)
		baseMap, baseIsMap := out[k].(map[string]any)
		if patchIsMap && baseIsMap {
			out[k] = deepMerge(baseMap, patchMap)
			continue
		}
		out[k] = v
	}
	return out
}
