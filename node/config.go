package node

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// ConfigOverrides are merged into the generated config.json. Each key
// replaces the top-level key of the same name; nested objects are not
// merged recursively.
type ConfigOverrides map[string]any

// Validate checks that every key is non-empty and every value can be
// encoded as JSON.
func (c ConfigOverrides) Validate() error {
	for _, k := range c.keys() {
		if k == "" {
			return fmt.Errorf("%w: empty key", ErrConfig)
		}
		if _, err := json.Marshal(c[k]); err != nil {
			return fmt.Errorf("%w: key %q: %v", ErrConfig, k, err)
		}
	}
	return nil
}

func (c ConfigOverrides) Has(key string) bool {
	_, ok := c[key]
	return ok
}

func (c ConfigOverrides) keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge applies the overrides to doc in place.
func (c ConfigOverrides) Merge(doc map[string]any) {
	for k, v := range c {
		doc[k] = v
	}
}

// ReadConfigFile decodes a node config.json.
func ReadConfigFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s is not a JSON object", ErrConfig, path)
	}
	return doc, nil
}

func mergeConfigFile(path string, overrides ConfigOverrides) error {
	doc, err := ReadConfigFile(path)
	if err != nil {
		return err
	}
	overrides.Merge(doc)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", ErrConfig, path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
