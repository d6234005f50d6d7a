package util

import "strings"

// NormalizePair upper-cases and trims a currency pair name.
func NormalizePair(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
