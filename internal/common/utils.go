package common

import "strings"

// HasAny reports whether s contains any of the substrings, ignoring case.
// Upstream error texts vary in capitalisation between endpoints.
func HasAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
