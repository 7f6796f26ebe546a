package checkpoints

import (
	"fmt"
	"regexp"
	"strconv"
)

// Key names a persisted checkpoint: either a numbered epoch or the
// terminal snapshot written once at the end of a run.
//
// The concrete types are Numbered and FinalKey; switch on them exhaustively.
type Key interface {
	fmt.Stringer
	basename() string
}

// Numbered is the checkpoint written after a given epoch. Epoch 0 is never
// persisted.
type Numbered uint32

// FinalKey is the terminal checkpoint. It is overwritten by every run that
// reaches its last epoch.
type FinalKey struct{}

// Final is the singleton FinalKey.
var Final Key = FinalKey{}

func (n Numbered) String() string { return fmt.Sprintf("epoch %d", uint32(n)) }

func (n Numbered) basename() string { return fmt.Sprintf("checkpoint_epoch_%d", uint32(n)) }

func (FinalKey) String() string { return "final" }

func (FinalKey) basename() string { return "checkpoint_final" }

// Epoch returns a Numbered key.
func Epoch(epoch int) Numbered {
	return Numbered(epoch)
}

var numberedPattern = regexp.MustCompile(`^checkpoint_epoch_(\d+)\.([a-z]+)$`)

// parseNumbered extracts the epoch from a numbered artifact filename with the
// given extension. Only names that Numbered.basename produces are accepted,
// so a discovered epoch always loads from the same file.
func parseNumbered(name, ext string) (int, bool) {
	m := numberedPattern.FindStringSubmatch(name)
	if m == nil || m[2] != ext {
		return 0, false
	}
	epoch, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil || epoch == 0 || strconv.FormatUint(epoch, 10) != m[1] {
		return 0, false
	}
	return int(epoch), true
}
