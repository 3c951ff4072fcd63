// Package sanitize reduces untrusted identifiers (team names, worker
// names, task ids) to a character class that is safe both as a filesystem
// path component and as a terminal-multiplexer session token, and checks
// that a path derived from such an identifier cannot escape its declared
// base directory.
package sanitize

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// safeRune matches the characters a sanitized name may contain.
var safeRune = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// repeatedDash collapses runs of dashes produced by Name's replacement
// step, so "foo//bar" and "foo--bar" sanitize identically.
var repeatedDash = regexp.MustCompile(`-{2,}`)

// taskIDPattern is the strict form task identifiers must already satisfy;
// unlike Name, TaskID never rewrites — task ids are filename stems chosen
// upstream and a bad one is rejected outright.
var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Name replaces every rune outside the safe class with a dash, collapses
// repeated dashes, trims leading/trailing dashes, and errors if nothing
// is left. It is idempotent: Name(Name(x)) == Name(x).
func Name(raw string) (string, error) {
	replaced := safeRune.ReplaceAllString(raw, "-")
	collapsed := repeatedDash.ReplaceAllString(replaced, "-")
	trimmed := strings.Trim(collapsed, "-")
	if trimmed == "" {
		return "", fmt.Errorf("sanitize: %q normalizes to empty string", raw)
	}
	return trimmed, nil
}

// TaskID validates a task identifier against the strict safe-character
// regular expression. It does not rewrite; an identifier outside the
// class is rejected.
func TaskID(raw string) error {
	if raw == "" {
		return fmt.Errorf("sanitize: task id is empty")
	}
	if !taskIDPattern.MatchString(raw) {
		return fmt.Errorf("sanitize: task id %q contains characters outside [A-Za-z0-9._-]", raw)
	}
	return nil
}

// WithinBase resolves candidate and base to absolute, symlink-resolved
// paths and fails if candidate does not lie strictly within base. It
// tolerates a candidate that does not yet exist by resolving the nearest
// existing ancestor directory and reconstructing the tail.
func WithinBase(base, candidate string) (string, error) {
	absBase, err := resolveExisting(base)
	if err != nil {
		return "", fmt.Errorf("sanitize: resolving base %q: %w", base, err)
	}
	absCandidate, err := resolveTolerant(candidate)
	if err != nil {
		return "", fmt.Errorf("sanitize: resolving candidate %q: %w", candidate, err)
	}

	rel, err := filepath.Rel(absBase, absCandidate)
	if err != nil {
		return "", fmt.Errorf("sanitize: %q is not relative to base %q: %w", candidate, base, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("sanitize: %q escapes base %q", candidate, base)
	}
	for _, segment := range strings.Split(rel, string(filepath.Separator)) {
		if segment == ".." {
			return "", fmt.Errorf("sanitize: %q escapes base %q", candidate, base)
		}
	}
	return absCandidate, nil
}

// resolveExisting requires path to exist and fully resolves symlinks.
func resolveExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// resolveTolerant resolves symlinks on the longest existing prefix of
// path and reattaches any trailing components that do not yet exist, so
// WithinBase can validate a path before the file it names has been
// created.
func resolveTolerant(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	var tail []string
	dir := abs
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor for %q", abs)
		}
		tail = append([]string{filepath.Base(dir)}, tail...)
		dir = parent
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
	}
}
