package guard

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/agenticmail/toolgate/internal/domain/policy"
)

// PathSandbox validates filesystem paths against a resolved sandbox policy.
// Validation is deterministic and side-effect free; it never creates or
// touches the path beyond symlink resolution of existing ancestors.
type PathSandbox struct{}

// NewPathSandbox creates a new PathSandbox.
func NewPathSandbox() *PathSandbox {
	return &PathSandbox{}
}

// Validate checks a path against the sandbox policy.
// The path is made absolute, symlink-resolved, and ".."-normalized before
// the allow check. Block patterns are tested against both the resolved path
// and the original string, and apply even inside allowed directories.
func (s *PathSandbox) Validate(path string, pol policy.PathSandboxPolicy) error {
	if !pol.Enabled {
		return nil
	}
	if path == "" {
		return &SandboxViolationError{Path: path, Reason: "empty_path"}
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return &SandboxViolationError{Path: path, Reason: "unresolvable_path"}
	}

	// Deny takes precedence over allow.
	for _, pat := range pol.BlockedPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			// An unparseable pattern fails closed: the admin intended to
			// block something and we cannot tell what.
			return &SandboxViolationError{Path: path, Resolved: resolved, Reason: "invalid_blocked_pattern"}
		}
		if re.MatchString(resolved) || re.MatchString(path) {
			return &SandboxViolationError{Path: path, Resolved: resolved, Reason: "blocked_pattern"}
		}
	}

	if len(pol.AllowedDirs) == 0 {
		return nil
	}
	for _, dir := range pol.AllowedDirs {
		allowedRoot, err := resolvePath(dir)
		if err != nil {
			continue
		}
		if isDescendant(resolved, allowedRoot) {
			return nil
		}
	}
	return &SandboxViolationError{Path: path, Resolved: resolved, Reason: "outside_allowed_dirs"}
}

// resolvePath returns the absolute, symlink-resolved, cleaned form of path.
// When the path itself does not exist yet, the longest existing ancestor is
// symlink-resolved and the remaining components are appended cleaned, so a
// not-yet-created file inside a symlinked sandbox still resolves correctly.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	// Walk up to the nearest existing ancestor.
	dir := abs
	var tail []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		tail = append(tail, filepath.Base(dir))
		dir = parent
		if _, err := os.Lstat(dir); err == nil {
			break
		}
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return abs, nil
	}
	for i := len(tail) - 1; i >= 0; i-- {
		resolvedDir = filepath.Join(resolvedDir, tail[i])
	}
	return resolvedDir, nil
}

// isDescendant reports whether path is root or lies under it.
func isDescendant(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}
