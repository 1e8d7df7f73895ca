package utils

import (
	"fmt"
	"path"
	"strings"
)

// NormalizePath converts a caller-supplied logical path into the canonical form used for
// remote keys and cache keys: forward slashes, no leading or trailing slash, cleaned.
//
// Windows-style separators are accepted since callers often pass paths built for the
// local filesystem. Paths that escape the root through ".." are rejected.
//
// Example usage:
//
//	p, err := NormalizePath(`\Reports\2024\q1.xlsx`)
//	// p == "Reports/2024/q1.xlsx"
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	p = strings.ReplaceAll(p, `\`, "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path contains directory traversal: %s", p)
		}
	}

	cleaned := strings.Trim(path.Clean("/"+p), "/")
	if cleaned == "" {
		return "", fmt.Errorf("path resolves to the root: %s", p)
	}
	return cleaned, nil
}

// NormalizeDir is NormalizePath for directories, where the root ("" or "/") is allowed.
func NormalizeDir(p string) (string, error) {
	trimmed := strings.Trim(strings.ReplaceAll(strings.TrimSpace(p), `\`, "/"), "/")
	if trimmed == "" {
		return "", nil
	}
	return NormalizePath(trimmed)
}

// ParentDir returns the parent of a normalized path, "" for top-level entries.
func ParentDir(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// BaseName returns the last element of a normalized path.
func BaseName(p string) string {
	return path.Base(p)
}

// JoinPath joins normalized path elements, skipping empty ones.
func JoinPath(elements ...string) string {
	parts := make([]string, 0, len(elements))
	for _, e := range elements {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}
