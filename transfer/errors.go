package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch reports a source parameter without an exact
	// structural counterpart in the destination.
	ErrShapeMismatch = errors.New("transfer shape mismatch")

	// ErrNameMissing reports a parameter or group that could not be found
	// under a non-strict, non-partial policy.
	ErrNameMissing = errors.New("transfer name missing")

	// ErrAmbiguousName reports two names that normalize to the same key.
	ErrAmbiguousName = errors.New("transfer name ambiguous")
)

// GroupError identifies the mapping entry that failed.
type GroupError struct {
	Group  string // destination group
	Source string // source group
	Param  string // parameter name relative to the group, if any
	Detail string
	Err    error
}

func (e *GroupError) Error() string {
	msg := fmt.Sprintf("%v: group %s <- %s", e.Err, e.Group, e.Source)
	if e.Param != "" {
		msg += ": parameter " + e.Param
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *GroupError) Unwrap() error { return e.Err }
