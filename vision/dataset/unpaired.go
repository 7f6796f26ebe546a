// Package dataset discovers the image files of an unpaired two-domain
// dataset laid out as <root>/<split>A and <root>/<split>B.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions are the file types picked up when none are given.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

// Unpaired holds the image paths of both domains. The domains need not have
// the same size and images are not aligned by index.
type Unpaired struct {
	Root  string
	Split string
	A     []string
	B     []string
}

// NewUnpaired lists <root>/<split>A and <root>/<split>B. Both domains must
// contain at least one image.
func NewUnpaired(root, split string, extensions []string) (*Unpaired, error) {
	if split == "" {
		split = "train"
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	a, err := listImages(filepath.Join(root, split+"A"), extensions)
	if err != nil {
		return nil, err
	}
	b, err := listImages(filepath.Join(root, split+"B"), extensions)
	if err != nil {
		return nil, err
	}

	return &Unpaired{
		Root:  root,
		Split: split,
		A:     a,
		B:     b,
	}, nil
}

// Len is the number of samples in one pass: the size of the larger domain.
func (d *Unpaired) Len() int {
	return max(len(d.A), len(d.B))
}

// String returns a short summary.
func (d *Unpaired) String() string {
	return fmt.Sprintf("Unpaired(%s, split=%s, A=%d, B=%d)", d.Root, d.Split, len(d.A), len(d.B))
}

// listImages returns the matching files directly inside dir, sorted by name
// so that seeded shuffles are reproducible.
func listImages(dir string, extensions []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, want := range extensions {
			if ext == strings.ToLower(want) {
				paths = append(paths, filepath.Join(dir, entry.Name()))
				break
			}
		}
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	sort.Strings(paths)
	return paths, nil
}

// Paths returns the image paths of domain A and domain B.
func (d *Unpaired) Paths() (a, b []string) {
	return d.A, d.B
}
