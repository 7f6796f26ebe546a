package checkpoints

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tsawler/gantrain/internal/fsx"
)

// Store saves, loads and discovers checkpoints inside one directory.
// Numbered checkpoints are never deleted; the final checkpoint is
// overwritten by each completed run.
type Store struct {
	dir    string
	format CheckpointFormat
}

// NewStore creates a store rooted at dir using the given format.
func NewStore(dir string, format CheckpointFormat) *Store {
	return &Store{
		dir:    dir,
		format: format,
	}
}

// Dir returns the directory the store operates on.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the artifact path for key.
func (s *Store) Path(key Key) string {
	return filepath.Join(s.dir, key.basename()+"."+s.format.Extension())
}

// Discover returns the highest epoch with a numbered checkpoint artifact.
// ok is false when the directory holds none (or does not exist). Only
// filenames are inspected; the artifact is validated when it is loaded.
func (s *Store) Discover() (epoch int, ok bool, err error) {
	epochs, _, err := s.List()
	if err != nil {
		return 0, false, err
	}
	if len(epochs) == 0 {
		return 0, false, nil
	}
	return epochs[len(epochs)-1], true, nil
}

// List returns every numbered epoch in ascending order and whether a final
// checkpoint exists.
func (s *Store) List() (epochs []int, hasFinal bool, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to scan checkpoint directory: %w", err)
	}

	ext := s.format.Extension()
	finalName := FinalKey{}.basename() + "." + ext
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == finalName {
			hasFinal = true
			continue
		}
		if epoch, ok := parseNumbered(name, ext); ok {
			epochs = append(epochs, epoch)
		}
	}

	sort.Ints(epochs)
	return epochs, hasFinal, nil
}

// Save persists state under key. The write is atomic: on failure no new
// artifact becomes discoverable.
func (s *Store) Save(state *State, key Key) error {
	switch k := key.(type) {
	case Numbered:
		if k == 0 {
			return fmt.Errorf("epoch 0 cannot be checkpointed")
		}
	case FinalKey:
	default:
		return fmt.Errorf("unsupported checkpoint key %T", key)
	}

	// Ensure metadata is set
	if state.Metadata.Framework == "" {
		state.Metadata.Framework = Framework
		state.Metadata.Version = FormatVersion
	}
	if state.Metadata.CreatedAt.IsZero() {
		state.Metadata.CreatedAt = time.Now().UTC()
	}

	data, err := s.encode(state)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	path := s.Path(key)
	if err := fsx.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", key, err)
	}
	return nil
}

// Load reads the checkpoint stored under key. A missing artifact yields
// ErrNotFound; an undecodable one yields a *CorruptError.
func (s *Store) Load(key Key) (*State, error) {
	path := s.Path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}

	state, err := s.decode(data)
	if err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	if err := state.validate(); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return state, nil
}

func (s *Store) encode(state *State) ([]byte, error) {
	switch s.format {
	case FormatProto:
		return encodeProto(state)
	case FormatJSON:
		return encodeJSON(state)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
}

func (s *Store) decode(data []byte) (*State, error) {
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}
	switch s.format {
	case FormatProto:
		return decodeProto(data)
	case FormatJSON:
		return decodeJSON(data)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
}
