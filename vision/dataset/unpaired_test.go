package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestNewUnpaired(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "trainA", "b.png"))
	touch(t, filepath.Join(root, "trainA", "a.JPG"))
	touch(t, filepath.Join(root, "trainA", "notes.txt"))
	touch(t, filepath.Join(root, "trainA", "nested", "c.png"))
	touch(t, filepath.Join(root, "trainB", "x.jpeg"))

	d, err := NewUnpaired(root, "", nil)
	if err != nil {
		t.Fatalf("NewUnpaired failed: %v", err)
	}

	if len(d.A) != 2 {
		t.Fatalf("Expected 2 images in domain A, got %d: %v", len(d.A), d.A)
	}
	if filepath.Base(d.A[0]) != "a.JPG" || filepath.Base(d.A[1]) != "b.png" {
		t.Errorf("Expected sorted paths, got %v", d.A)
	}
	if len(d.B) != 1 {
		t.Errorf("Expected 1 image in domain B, got %d", len(d.B))
	}
	if d.Len() != 2 {
		t.Errorf("Expected Len 2, got %d", d.Len())
	}
	if !strings.Contains(d.String(), "A=2, B=1") {
		t.Errorf("Unexpected summary %q", d.String())
	}
}

func TestNewUnpairedSplit(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "testA", "a.png"))
	touch(t, filepath.Join(root, "testB", "b.png"))

	d, err := NewUnpaired(root, "test", []string{".png"})
	if err != nil {
		t.Fatalf("NewUnpaired failed: %v", err)
	}
	if d.Split != "test" || d.Len() != 1 {
		t.Errorf("Unexpected dataset %v", d)
	}
}

func TestNewUnpairedErrors(t *testing.T) {
	tests := []struct {
		name  string
		files []string
	}{
		{"missing domain B", []string{"trainA/a.png"}},
		{"empty domain A", []string{"trainA/readme.txt", "trainB/b.png"}},
		{"nothing", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for _, f := range tt.files {
				touch(t, filepath.Join(root, f))
			}
			if _, err := NewUnpaired(root, "train", nil); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
