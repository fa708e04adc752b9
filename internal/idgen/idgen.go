// Package idgen generates local identifiers for entities that have not yet
// been assigned one by the remote mirror.
package idgen

import (
	"strconv"

	"github.com/google/uuid"
)

// Func produces a new identifier. The state container takes one so tests
// can inject deterministic IDs.
type Func func() string

// New returns a time-ordered UUIDv7 string. Successive calls within one
// process sort strictly increasing; the trailing random bits keep IDs from
// colliding across processes started in the same millisecond.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source fails.
		return uuid.NewString()
	}
	return id.String()
}

// Sequence returns a Func that yields prefix-1, prefix-2, ... in order.
func Sequence(prefix string) Func {
	var n int
	return func() string {
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}

