package utils

import (
	"github.com/samber/lo"
)

func Clone[S ~[]E, E any](s S) S {
	if s == nil {
		return nil
	}

	cloned := make(S, len(s))
	copy(cloned, s)

	return cloned
}

// TypeAssertFrom keeps the elements of from that implement To.
func TypeAssertFrom[From any, To any](from []From) []To {
	return lo.FilterMap(from, func(item From, _ int) (To, bool) {
		to, ok := any(item).(To)
		return to, ok
	})
}

func FilterNonNil[T any](item T, _ int) bool {
	return !lo.IsNil(item)
}
