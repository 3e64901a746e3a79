// Package fileshare resolves client-supplied relative paths against a
// share root and classifies/lists/searches the files underneath it,
// grounded file-for-file on _examples/original_source/shared/path_utils.py
// and _examples/original_source/agent/services/file_service.py. Neither
// has a teacher Go counterpart; the traversal-safe resolver and extension
// classification are ported directly since spec.md §4.7/§4.6 depend on
// their exact behavior.
package fileshare

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrTraversal is returned when a caller-supplied relative path would
// escape the configured share root.
var ErrTraversal = errors.New("path escapes share root")

// relativeParts splits raw into path segments, rejecting ".." components.
// "." and empty components are dropped, matching the original's
// PurePosixPath-based normalization (both "/" and "\" are accepted as
// separators since the reference implementation is cross-platform).
func relativeParts(raw string) ([]string, error) {
	normalized := strings.ReplaceAll(raw, "\\", "/")
	var parts []string
	for _, part := range strings.Split(normalized, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			return nil, ErrTraversal
		default:
			parts = append(parts, part)
		}
	}
	return parts, nil
}

// ResolveRequestedPath resolves rawPath against root, rejecting absolute
// paths and ".." traversal. An empty rawPath resolves to root itself.
func ResolveRequestedPath(root, rawPath string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	rootAbs = filepath.Clean(rootAbs)

	trimmed := strings.TrimSpace(rawPath)
	if trimmed == "" {
		return rootAbs, nil
	}
	if filepath.IsAbs(trimmed) || strings.HasPrefix(trimmed, "/") || hasWindowsRoot(trimmed) {
		return "", ErrTraversal
	}

	parts, err := relativeParts(trimmed)
	if err != nil {
		return "", err
	}
	resolved := filepath.Clean(filepath.Join(append([]string{rootAbs}, parts...)...))

	if resolved != rootAbs && !strings.HasPrefix(resolved, rootAbs+string(filepath.Separator)) {
		return "", ErrTraversal
	}
	return resolved, nil
}

// hasWindowsRoot reports a drive-letter or UNC-style root on a path that
// filepath.IsAbs (evaluated on a POSIX build) would not otherwise catch,
// matching the original's cross-platform absolute-path rejection.
func hasWindowsRoot(p string) bool {
	if len(p) >= 2 && p[1] == ':' {
		c := p[0]
		return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	}
	return strings.HasPrefix(p, "\\\\")
}

// ToClientPath renders path as a root-relative, forward-slash path for
// the wire. Returns "" for the root itself.
func ToClientPath(path, root string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(filepath.Clean(rootAbs), filepath.Clean(pathAbs))
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	if strings.HasPrefix(rel, "..") {
		return "", ErrTraversal
	}
	return filepath.ToSlash(rel), nil
}
