// Package envutil builds environments for sandbox child processes.
package envutil

import (
	"strings"
)

// Key returns the name part of a KEY=value entry.
func Key(entry string) string {
	if idx := strings.IndexByte(entry, '='); idx >= 0 {
		return entry[:idx]
	}
	return entry
}

// Minimal returns the entries of env whose keys are listed in keep, in
// their original order. Everything else, credentials included, is dropped.
func Minimal(env []string, keep ...string) []string {
	allowed := make(map[string]bool, len(keep))
	for _, k := range keep {
		allowed[k] = true
	}
	result := make([]string, 0, len(keep))
	for _, e := range env {
		if allowed[Key(e)] {
			result = append(result, e)
		}
	}
	return result
}

// SetEnv sets or replaces an environment variable in an env slice.
// Returns the modified slice. If the key already exists, its value is updated
// in place. Otherwise, the new entry is appended.
func SetEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// GetEnv gets a value from an env slice.
// Returns the value and true if found, or empty string and false if not.
func GetEnv(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return e[len(prefix):], true
		}
	}
	return "", false
}
