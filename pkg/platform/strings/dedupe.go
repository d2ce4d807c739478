// Package strings holds small list helpers for configuration values.
package strings

import (
	"strings"
)

// SplitList splits a separated configuration value such as an origin or
// broker list. Elements are trimmed; blanks and repeats are dropped and the
// first occurrence keeps its position.
func SplitList(list, sep string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(list, sep))
}

// DedupeAndTrim trims every element and drops blanks and repeats, preserving
// order.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
