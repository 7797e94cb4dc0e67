package preview

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lumi-agent/internal/cache"
	"lumi-agent/internal/sandbox"
)

func newRegistry(t *testing.T, ttl time.Duration) (*Registry, string) {
	t.Helper()
	base := t.TempDir()
	g := sandbox.New(base)
	return NewRegistry(g, cache.NewMemoryCache(16, ttl)), g.Bases()[0]
}

func writePage(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func serve(t *testing.T, r *Registry, id, subpath string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/assistant/serve-app/"+id+"/"+subpath, nil)
	return rec, r.Serve(rec, req, id, subpath)
}

func TestRegisterAndServe(t *testing.T) {
	r, base := newRegistry(t, time.Minute)
	dir := filepath.Join(base, "猫咪_网站")
	writePage(t, dir, "index.html", "<html>cat</html>")

	id, err := r.Register(dir)
	if err != nil {
		t.Fatal(err)
	}

	rec, err := serve(t, r, id, "index.html")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != "<html>cat</html>" {
		t.Fatalf("code=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestRegisterOutsideSandboxRejected(t *testing.T) {
	r, _ := newRegistry(t, time.Minute)
	if _, err := r.Register("/etc"); !errors.Is(err, sandbox.ErrOutsideSandbox) {
		t.Fatalf("err=%v want ErrOutsideSandbox", err)
	}
}

func TestServeRejectsTraversal(t *testing.T) {
	r, base := newRegistry(t, time.Minute)
	dir := filepath.Join(base, "app")
	writePage(t, dir, "index.html", "ok")

	id, err := r.Register(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := serve(t, r, id, "../secret.txt"); !errors.Is(err, ErrBadSubpath) {
		t.Fatalf("err=%v want ErrBadSubpath", err)
	}
}

func TestServeFallsBackToIndex(t *testing.T) {
	r, base := newRegistry(t, time.Minute)
	dir := filepath.Join(base, "app")
	writePage(t, dir, "index.html", "home")

	id, _ := r.Register(dir)
	rec, err := serve(t, r, id, "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Body.String() != "home" {
		t.Fatalf("body=%q", rec.Body.String())
	}
}

func TestServeFallsBackToAnyHTML(t *testing.T) {
	r, base := newRegistry(t, time.Minute)
	dir := filepath.Join(base, "app")
	writePage(t, dir, "game.html", "snake")

	id, _ := r.Register(dir)
	rec, err := serve(t, r, id, "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Body.String() != "snake" {
		t.Fatalf("body=%q", rec.Body.String())
	}
}

func TestRegistrationExpires(t *testing.T) {
	r, base := newRegistry(t, 20*time.Millisecond)
	dir := filepath.Join(base, "app")
	writePage(t, dir, "index.html", "ok")

	id, _ := r.Register(dir)
	time.Sleep(50 * time.Millisecond)

	if _, err := serve(t, r, id, ""); !errors.Is(err, ErrUnknownPreview) {
		t.Fatalf("err=%v want ErrUnknownPreview", err)
	}
}
