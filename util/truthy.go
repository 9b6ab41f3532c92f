package util

import "strings"

// Truthy reports whether an environment value switches a setting on.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}

	return false
}
