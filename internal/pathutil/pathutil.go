// Package pathutil resolves module paths and confines them to a root.
package pathutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path resolves outside its root.
var ErrOutsideRoot = errors.New("pathutil: path escapes root")

// ErrNullByte is returned for paths containing a NUL byte.
var ErrNullByte = errors.New("pathutil: path contains a null byte")

// IsOutside reports whether resolved lies outside root. Both paths must be
// clean and absolute.
//
// Examples:
//   - root /srv/mods, resolved /srv/mods/a.py : false
//   - root /srv/mods, resolved /srv/modsx/a.py: true
//   - root /, resolved /etc/passwd            : false
func IsOutside(root, resolved string) bool {
	root = filepath.Clean(root)
	resolved = filepath.Clean(resolved)
	if resolved == root {
		return false
	}
	// When root is "/", every absolute path is within it.
	if root == string(filepath.Separator) {
		return !filepath.IsAbs(resolved)
	}
	return !strings.HasPrefix(resolved, root+string(filepath.Separator))
}

// Resolve makes path absolute and follows symlinks. A missing file yields
// an error matching fs.ErrNotExist.
func Resolve(path string) (string, error) {
	if ContainsNullByte(path) {
		return "", ErrNullByte
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("pathutil: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("pathutil: cannot resolve %s: %w", path, err)
	}
	return resolved, nil
}

// ResolveWithin resolves path, taken relative to root unless absolute, and
// checks that the result, symlinks followed, stays inside root.
func ResolveWithin(root, path string) (string, error) {
	if ContainsNullByte(root) || ContainsNullByte(path) {
		return "", ErrNullByte
	}
	realRoot, err := Resolve(root)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(realRoot, path)
	}
	resolved, err := Resolve(path)
	if err != nil {
		return "", err
	}
	if IsOutside(realRoot, resolved) {
		return "", fmt.Errorf("%w: %q is outside %q", ErrOutsideRoot, resolved, realRoot)
	}
	return resolved, nil
}

// ContainsNullByte returns true if the string contains a null byte.
func ContainsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00')
}
