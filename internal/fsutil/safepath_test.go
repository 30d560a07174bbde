package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestResolveWithinRootRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"../etc/passwd", "/../etc/passwd", "a/../../b", "..\\..\\x"} {
		if runtime.GOOS != "windows" && p == "..\\..\\x" {
			// backslash is a filename character on unix
			continue
		}
		if _, err := ResolveWithinRoot(root, p); err == nil {
			t.Fatalf("expected traversal %q to be rejected", p)
		}
	}
}

func TestResolveWithinRootAbsoluteInputIsRelative(t *testing.T) {
	root := t.TempDir()
	got, err := ResolveWithinRoot(root, "/docs/report.pdf")
	if err != nil {
		t.Fatalf("ResolveWithinRoot() error = %v", err)
	}
	want := filepath.Join(root, "docs", "report.pdf")
	if got != want {
		t.Fatalf("got %q, expected %q", got, want)
	}
}

func TestResolveWithinRootRejectsNUL(t *testing.T) {
	if _, err := ResolveWithinRoot(t.TempDir(), "a\x00b"); err == nil {
		t.Fatal("expected NUL byte to be rejected")
	}
}

func TestResolveWithinRootRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink behavior varies on windows")
	}
	root := t.TempDir()
	outside := t.TempDir()

	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	if _, err := ResolveWithinRoot(root, "link/escape.txt"); err == nil {
		t.Fatalf("expected symlink escape to be rejected")
	}
}

func TestRelativeTo(t *testing.T) {
	root := t.TempDir()
	rel, err := RelativeTo(root, filepath.Join(root, "a", "b.txt"))
	if err != nil {
		t.Fatalf("RelativeTo() error = %v", err)
	}
	if rel != "a/b.txt" {
		t.Fatalf("got %q, expected a/b.txt", rel)
	}
	if _, err := RelativeTo(root, filepath.Dir(root)); err == nil {
		t.Fatal("expected parent of root to be rejected")
	}
}

func TestDirSize(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.bin"), make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.bin"), make([]byte, 50), 0644); err != nil {
		t.Fatal(err)
	}

	size, err := DirSize(root)
	if err != nil {
		t.Fatalf("DirSize() error = %v", err)
	}
	if size != 150 {
		t.Fatalf("size = %d, expected 150", size)
	}

	size, err = DirSize(filepath.Join(root, "missing"))
	if err != nil || size != 0 {
		t.Fatalf("missing dir: size = %d, err = %v", size, err)
	}
}

func TestUserRoot(t *testing.T) {
	if got := UserRoot("/data", 42); got != filepath.Join("/data", "42") {
		t.Fatalf("UserRoot() = %q", got)
	}
}
