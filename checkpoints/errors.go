package checkpoints

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt is returned when an artifact exists but cannot be decoded
	// into a State.
	ErrCorrupt = errors.New("checkpoint corrupt")

	// ErrNotFound is returned when the requested artifact does not exist.
	ErrNotFound = errors.New("checkpoint not found")
)

// CorruptError records which artifact failed to decode.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrCorrupt, e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCorrupt) hold for every CorruptError.
func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }
