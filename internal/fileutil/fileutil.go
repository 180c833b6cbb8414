// Package fileutil provides small filesystem helpers used by
// configuration loading: path resolution (tilde and
// environment-variable expansion) and permission-safe file creation.
package fileutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath expands a leading "~" to the user's home directory, expands
// environment variables, and cleans the result to an absolute path. An
// empty path resolves to an empty string.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(path)

	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if expanded == "~" {
			expanded = home
		} else {
			expanded = filepath.Join(home, expanded[2:])
		}
	}

	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Clean(filepath.Join(cwd, expanded)), nil
}

// ResolvePathOrBlank is ResolvePath with resolution failures swallowed to
// an empty string, for call sites that treat an unresolvable path the same
// as an absent one.
func ResolvePathOrBlank(path string) string {
	resolved, err := ResolvePath(path)
	if err != nil {
		return ""
	}
	return resolved
}

// OpenOrCreateFile opens path for append, creating it (and nothing else —
// the parent directory must already exist) with 0600 permissions.
func OpenOrCreateFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

// IsFile reports whether path exists and is a regular file.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
