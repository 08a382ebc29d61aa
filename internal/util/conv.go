package util

import (
	"strconv"
)

// MustParseInt parses s as a signed integer, returning 0 on failure.
func MustParseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
