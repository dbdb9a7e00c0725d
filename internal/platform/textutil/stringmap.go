// Package textutil holds small string-cleaning helpers shared across the
// service layer.
package textutil

import "strings"

// NormalizeStringMap returns a trimmed copy of values suitable for gateway
// metadata: keys and values lose surrounding whitespace, entries whose key
// trims to empty are dropped, and a map with nothing left collapses to nil.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	normalized := make(map[string]string, len(values))
	for rawKey, rawValue := range values {
		key := strings.TrimSpace(rawKey)
		if key == "" {
			continue
		}
		normalized[key] = strings.TrimSpace(rawValue)
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}
