package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestAllowedBaseAndPrefix(t *testing.T) {
	desktop := t.TempDir()
	project := t.TempDir()
	g := New(desktop, project)

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"base itself", desktop, true},
		{"file under base", filepath.Join(desktop, "a.txt"), true},
		{"nested under base", filepath.Join(project, "sub", "deep", "x.py"), true},
		{"second base", project, true},
		{"outside both", "/etc/passwd", false},
		{"sibling with shared prefix", desktop + "-evil", false},
		{"parent of base", filepath.Dir(desktop), false},
		{"traversal out of base", filepath.Join(desktop, "..", "escape"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Allowed(tt.path); got != tt.want {
				t.Fatalf("Allowed(%q)=%v want=%v", tt.path, got, tt.want)
			}
		})
	}
}

func TestAllowedResolvesSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink semantics differ on windows")
	}
	base := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(base, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	g := New(base)
	if g.Allowed(filepath.Join(link, "x.txt")) {
		t.Fatal("symlink pointing outside the base must not be allowed")
	}
}

func TestCheckReturnsTypedError(t *testing.T) {
	g := New(t.TempDir())
	err := g.Check("/etc/passwd")
	if !errors.Is(err, ErrOutsideSandbox) {
		t.Fatalf("err=%v want ErrOutsideSandbox", err)
	}
}

func TestCleanRelPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a.py", "a.py", false},
		{"b/c.py", "b/c.py", false},
		{"sub\\win\\path.txt", "sub/win/path.txt", false},
		{"/leading/slash.txt", "leading/slash.txt", false},
		{"../../x", "", true},
		{"a/../../x", "", true},
		{"C:\\windows\\evil", "", true},
		{"", "", true},
		{"   ", "", true},
		{"./a/./b.txt", "a/b.txt", false},
	}
	for _, tt := range tests {
		got, err := CleanRelPath(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrIllegalPath) {
				t.Fatalf("CleanRelPath(%q) err=%v want ErrIllegalPath", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("CleanRelPath(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("CleanRelPath(%q)=%q want=%q", tt.in, got, tt.want)
		}
	}
}
