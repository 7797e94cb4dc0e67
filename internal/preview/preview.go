// Package preview maps opaque ids to sandboxed directories so generated web
// projects can be opened in the browser. Registrations live in a TTL cache
// instead of a process-lifetime map, so abandoned previews expire.
package preview

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"lumi-agent/internal/cache"
	"lumi-agent/internal/sandbox"
)

var (
	ErrUnknownPreview = errors.New("preview id not registered or expired")
	ErrBadSubpath     = errors.New("illegal preview subpath")
)

type Registry struct {
	guard   *sandbox.Guard
	entries cache.Cache
}

func NewRegistry(guard *sandbox.Guard, entries cache.Cache) *Registry {
	return &Registry{guard: guard, entries: entries}
}

// Register validates the directory against the sandbox and returns a fresh
// opaque id for it.
func (r *Registry) Register(dir string) (string, error) {
	if err := r.guard.Check(dir); err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("preview dir not accessible: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("preview target is not a directory: %s", filepath.Base(dir))
	}

	id := uuid.NewString()
	r.entries.Put(id, cache.Entry{Value: dir})
	return id, nil
}

// Lookup resolves an id back to its directory.
func (r *Registry) Lookup(id string) (string, bool) {
	entry, ok := r.entries.Get(id)
	if !ok || entry.Value == "" {
		return "", false
	}
	return entry.Value, true
}

// Serve writes the static file identified by (id, subpath). An empty or
// directory subpath falls back to index.html, then to any .html file in the
// root, so scaffolds without an index still render something.
func (r *Registry) Serve(w http.ResponseWriter, req *http.Request, id, subpath string) error {
	dir, ok := r.Lookup(id)
	if !ok {
		return ErrUnknownPreview
	}

	subpath = strings.TrimPrefix(filepath.ToSlash(subpath), "/")
	for _, seg := range strings.Split(subpath, "/") {
		if seg == ".." {
			return ErrBadSubpath
		}
	}

	target := filepath.Join(dir, filepath.FromSlash(subpath))
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		target = r.fallbackPage(dir)
		if target == "" {
			return fmt.Errorf("no page to serve in preview root")
		}
	}

	http.ServeFile(w, req, target)
	return nil
}

func (r *Registry) fallbackPage(dir string) string {
	index := filepath.Join(dir, "index.html")
	if _, err := os.Stat(index); err == nil {
		return index
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var pages []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".html") {
			pages = append(pages, e.Name())
		}
	}
	if len(pages) == 0 {
		return ""
	}
	sort.Strings(pages)
	return filepath.Join(dir, pages[0])
}
