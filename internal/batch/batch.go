// Package batch provides lazy fixed-size grouping of symbol streams so the
// pipeline can bound the amount of work in flight per iteration.
package batch

import (
	"errors"
	"fmt"
	"iter"
)

// ErrInvalidSize is returned when a chunk size smaller than one is requested.
var ErrInvalidSize = errors.New("batch size must be at least one")

// Chunked splits seq into groups of up to size elements, preserving order.
// The final group may be shorter. The returned sequence is lazy: it consumes
// no more of seq than has been yielded, so arbitrarily large (or infinite)
// inputs are safe. The error is reported before any element is consumed.
func Chunked[T any](seq iter.Seq[T], size int) (iter.Seq[[]T], error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	return func(yield func([]T) bool) {
		group := make([]T, 0, size)
		for v := range seq {
			group = append(group, v)
			if len(group) == size {
				if !yield(group) {
					return
				}
				group = make([]T, 0, size)
			}
		}
		if len(group) > 0 {
			yield(group)
		}
	}, nil
}
