// Package transfer seeds a freshly initialized model with parameters taken
// from a previously trained model's checkpoint, following an explicit
// destination-group to source-group mapping.
package transfer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tsawler/gantrain/tensor"
)

// Spec describes one transfer. It is applied at most once per run, and only
// when the run starts from epoch 0.
type Spec struct {
	// Source identifies the pretrained model directory, relative to the
	// transfer root.
	Source string `koanf:"base_model" yaml:"base_model"`

	// Mapping maps destination group names to source group names.
	Mapping map[string]string `koanf:"transfer_map" yaml:"transfer_map"`

	// Strict requires every source parameter of a mapped group to have an
	// exact name and shape counterpart in the destination group.
	Strict bool `koanf:"strict" yaml:"strict"`

	// AllowPartial lets a non-strict transfer skip unmatched parameters.
	AllowPartial bool `koanf:"allow_partial" yaml:"allow_partial"`

	// Fuzzy selects a registered name normalizer. Empty means exact names.
	Fuzzy string `koanf:"fuzzy" yaml:"fuzzy,omitempty"`

	// Epoch selects a numbered source checkpoint. 0 uses the final one.
	Epoch int `koanf:"epoch" yaml:"epoch,omitempty"`
}

// Validate checks the spec is usable before any checkpoint is read.
func (s *Spec) Validate() error {
	if s.Source == "" {
		return fmt.Errorf("transfer: base_model is required")
	}
	if len(s.Mapping) == 0 {
		return fmt.Errorf("transfer: transfer_map is empty")
	}
	if s.Epoch < 0 {
		return fmt.Errorf("transfer: negative epoch %d", s.Epoch)
	}
	if _, err := LookupNormalizer(s.Fuzzy); err != nil {
		return err
	}
	return nil
}

// destinationGroups returns the mapping keys in a stable order.
func (s *Spec) destinationGroups() []string {
	groups := make([]string, 0, len(s.Mapping))
	for g := range s.Mapping {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Parameterized is implemented by models whose parameters can be seeded.
// Names are dotted paths; the first segments form the group.
type Parameterized interface {
	Parameters() map[string]*tensor.Tensor
}

// Normalizer rewrites a parameter name (relative to its group) before
// matching. Shapes are still compared exactly.
type Normalizer func(name string) string

var (
	normalizersMu sync.RWMutex
	normalizers   = map[string]Normalizer{
		"strip-module": TrimAffixes([]string{"module."}, nil),
	}
)

// RegisterNormalizer makes a fuzzy matching mode available to specs.
func RegisterNormalizer(mode string, fn Normalizer) {
	normalizersMu.Lock()
	defer normalizersMu.Unlock()
	normalizers[mode] = fn
}

// LookupNormalizer returns the normalizer for mode. The empty mode is the
// identity.
func LookupNormalizer(mode string) (Normalizer, error) {
	if mode == "" {
		return func(name string) string { return name }, nil
	}

	normalizersMu.RLock()
	defer normalizersMu.RUnlock()
	fn, ok := normalizers[mode]
	if !ok {
		return nil, fmt.Errorf("transfer: unknown fuzzy mode %q", mode)
	}
	return fn, nil
}

// TrimAffixes builds a normalizer that repeatedly strips the given prefixes
// and suffixes until none applies.
func TrimAffixes(prefixes, suffixes []string) Normalizer {
	return func(name string) string {
		for changed := true; changed; {
			changed = false
			for _, p := range prefixes {
				if p != "" && strings.HasPrefix(name, p) {
					name = strings.TrimPrefix(name, p)
					changed = true
				}
			}
			for _, s := range suffixes {
				if s != "" && strings.HasSuffix(name, s) {
					name = strings.TrimSuffix(name, s)
					changed = true
				}
			}
		}
		return name
	}
}
