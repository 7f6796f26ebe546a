package training

import (
	"context"
	"io"
)

// BatchIterator yields one epoch's batches in order. Next returns io.EOF
// once the pass is exhausted.
type BatchIterator interface {
	Next(ctx context.Context) (Batch, error)
}

// Stream is a finite, restartable source of batches. Each call to Epoch
// starts a fresh pass.
type Stream interface {
	// Len is the number of batches in one pass.
	Len() int

	Epoch(ctx context.Context) (BatchIterator, error)
}

// truncatedStream caps every pass of an underlying stream.
type truncatedStream struct {
	stream Stream
	limit  int
}

// Truncate limits each pass of stream to at most limit batches. A limit of
// zero or less leaves the stream unbounded.
func Truncate(stream Stream, limit int) Stream {
	if limit <= 0 {
		return stream
	}
	return &truncatedStream{
		stream: stream,
		limit:  limit,
	}
}

// Len returns the minimum of the underlying length and the limit.
func (ts *truncatedStream) Len() int {
	return min(ts.stream.Len(), ts.limit)
}

func (ts *truncatedStream) Epoch(ctx context.Context) (BatchIterator, error) {
	it, err := ts.stream.Epoch(ctx)
	if err != nil {
		return nil, err
	}
	return &truncatedIterator{it: it, remaining: ts.limit}, nil
}

type truncatedIterator struct {
	it        BatchIterator
	remaining int
}

func (ti *truncatedIterator) Next(ctx context.Context) (Batch, error) {
	if ti.remaining <= 0 {
		return Batch{}, io.EOF
	}
	b, err := ti.it.Next(ctx)
	if err != nil {
		return Batch{}, err
	}
	ti.remaining--
	return b, nil
}

// SliceStream replays a fixed list of batches on every pass.
type SliceStream struct {
	batches []Batch
}

// NewSliceStream creates a stream over batches. The slice is not copied.
func NewSliceStream(batches []Batch) *SliceStream {
	return &SliceStream{batches: batches}
}

func (s *SliceStream) Len() int {
	return len(s.batches)
}

func (s *SliceStream) Epoch(ctx context.Context) (BatchIterator, error) {
	return &sliceIterator{batches: s.batches}, nil
}

type sliceIterator struct {
	batches []Batch
	pos     int
}

func (si *sliceIterator) Next(ctx context.Context) (Batch, error) {
	if si.pos >= len(si.batches) {
		return Batch{}, io.EOF
	}
	b := si.batches[si.pos]
	si.pos++
	return b, nil
}
