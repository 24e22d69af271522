package pathutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestIsOutside(t *testing.T) {
	tests := []struct {
		root, resolved string
		want           bool
	}{
		{"/srv/mods", "/srv/mods/a.py", false},
		{"/srv/mods", "/srv/mods", false},
		{"/srv/mods", "/srv/mods/sub/../b.py", false},
		{"/srv/mods", "/srv/modsx/a.py", true},
		{"/srv/mods", "/etc/passwd", true},
		{"/srv/mods", "/srv/mods/../x", true},
		{"/", "/etc/passwd", false},
	}
	for _, tt := range tests {
		if got := IsOutside(tt.root, tt.resolved); got != tt.want {
			t.Errorf("IsOutside(%q, %q) = %v, want %v", tt.root, tt.resolved, got, tt.want)
		}
	}
}

func TestResolveWithin(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	inside := filepath.Join(root, "mod.py")
	if err := os.WriteFile(inside, []byte("result = 1"), 0o600); err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(outside, "secret.py")
	if err := os.WriteFile(secret, []byte("x = 1"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(secret, filepath.Join(root, "link.py")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	got, err := ResolveWithin(root, "mod.py")
	if err != nil {
		t.Fatalf("ResolveWithin(mod.py) error: %v", err)
	}
	want, _ := filepath.EvalSymlinks(inside)
	if got != want {
		t.Errorf("ResolveWithin(mod.py) = %q, want %q", got, want)
	}

	if _, err := ResolveWithin(root, "link.py"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("symlink escape: got %v, want ErrOutsideRoot", err)
	}
	if _, err := ResolveWithin(root, secret); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("absolute escape: got %v, want ErrOutsideRoot", err)
	}
	if _, err := ResolveWithin(root, "../"+filepath.Base(outside)+"/secret.py"); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("dot-dot escape: got %v, want ErrOutsideRoot", err)
	}
	if _, err := ResolveWithin(root, "missing.py"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file: got %v, want fs.ErrNotExist", err)
	}
	if _, err := ResolveWithin(root, "a\x00b"); !errors.Is(err, ErrNullByte) {
		t.Errorf("null byte: got %v, want ErrNullByte", err)
	}
}

func TestResolveMissing(t *testing.T) {
	if _, err := Resolve(filepath.Join(t.TempDir(), "nope")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Resolve(missing) = %v, want fs.ErrNotExist", err)
	}
}
