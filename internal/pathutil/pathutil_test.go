package pathutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestPrepend(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	dir := filepath.Join(t.TempDir(), "bin")

	if !Prepend(dir) {
		t.Fatal("Prepend should report a change")
	}
	if !strings.HasPrefix(os.Getenv("PATH"), dir) {
		t.Errorf("PATH should start with %s, got %s", dir, os.Getenv("PATH"))
	}
	if Prepend(dir) {
		t.Error("second Prepend should be a no-op")
	}
}

func TestPersistAppendsOnce(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("writes shell rc files")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := "/opt/tools/node/bin"
	if err := Persist(dir); err != nil {
		t.Fatal(err)
	}
	if err := Persist(dir); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(home, ".bashrc"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), dir); n != 1 {
		t.Errorf("expected one PATH line, found %d", n)
	}
	if _, err := os.Stat(filepath.Join(home, ".zshrc")); err == nil {
		t.Error(".zshrc should not be created")
	}
}

type failingRC struct{}

func (failingRC) Write(p []byte) (int, error) { return 0, errors.New("disk full") }
func (failingRC) Close() error { return nil }

func TestPersistReportsWriteFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("writes shell rc files")
	}
	t.Setenv("HOME", t.TempDir())
	orig := openRC
	openRC = func(string) (io.WriteCloser, error) { return failingRC{}, nil }
	t.Cleanup(func() { openRC = orig })

	err := Persist("/opt/tools/node/bin")
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected the write error, got %v", err)
	}
}

func TestAugmentPathAddsToolsDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix layout")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PATH", "/usr/bin")

	bin := filepath.Join(home, ".local", "share", "mcpsetup", "tools", "node", "bin")
	if err := os.MkdirAll(bin, 0755); err != nil {
		t.Fatal(err)
	}
	AugmentPath()
	if !strings.Contains(os.Getenv("PATH"), bin) {
		t.Errorf("PATH should contain %s, got %s", bin, os.Getenv("PATH"))
	}
}
