// Package sandbox gates every filesystem mutation behind an allowed-base
// containment check. Paths are symlink-resolved before comparison, so a link
// pointing out of a base cannot be used to escape it.
package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrOutsideSandbox = errors.New("path outside allowed bases")
	ErrIllegalPath    = errors.New("illegal artifact path")
)

// Guard holds the resolved allowed bases for one process. It is immutable
// after New, so concurrent readers need no locking.
type Guard struct {
	bases []string
}

// New resolves each directory (symlinks included) and keeps the non-empty,
// deduplicated results as the allowed base set.
func New(dirs ...string) *Guard {
	g := &Guard{}
	seen := map[string]bool{}
	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		resolved := resolveBest(dir)
		if resolved == "" || seen[resolved] {
			continue
		}
		seen[resolved] = true
		g.bases = append(g.bases, resolved)
	}
	return g
}

// Bases returns a copy of the resolved allowed bases.
func (g *Guard) Bases() []string {
	out := make([]string, len(g.bases))
	copy(out, g.bases)
	return out
}

// Allowed reports whether the symlink-resolved path equals an allowed base
// or lies strictly under one (base + separator prefix).
func (g *Guard) Allowed(path string) bool {
	if g == nil || len(g.bases) == 0 {
		return false
	}
	resolved := resolveBest(path)
	if resolved == "" {
		return false
	}
	for _, base := range g.bases {
		if resolved == base {
			return true
		}
		if strings.HasPrefix(resolved, base+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Check is Allowed as an error value, for mutation entry points.
func (g *Guard) Check(path string) error {
	if !g.Allowed(path) {
		return fmt.Errorf("%w: %s", ErrOutsideSandbox, filepath.Base(path))
	}
	return nil
}

// CleanRelPath normalizes an artifact path from a model reply: backslashes
// become slashes, a single leading slash is stripped, and any absolute path,
// drive-letter path or `..` segment is rejected.
func CleanRelPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrIllegalPath
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if len(p) >= 2 && p[1] == ':' {
		return "", fmt.Errorf("%w: drive path", ErrIllegalPath)
	}
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", ErrIllegalPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: parent segment", ErrIllegalPath)
		}
	}
	cleaned := filepath.ToSlash(filepath.Clean(p))
	if cleaned == "." || cleaned == "" || strings.HasPrefix(cleaned, "../") {
		return "", ErrIllegalPath
	}
	return cleaned, nil
}

// resolveBest resolves symlinks on the longest existing ancestor of path and
// rejoins the not-yet-existing remainder, so targets about to be created
// still resolve against the real directory tree.
func resolveBest(path string) string {
	p := filepath.Clean(path)
	if !filepath.IsAbs(p) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return ""
		}
		p = abs
	}

	suffix := ""
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, suffix)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		suffix = filepath.Join(filepath.Base(cur), suffix)
		cur = parent
	}
}
