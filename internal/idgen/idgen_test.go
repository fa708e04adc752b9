package idgen

import (
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUniqueAndOrdered(t *testing.T) {
	const n = 2000
	seen := make(map[string]struct{}, n)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := New()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	assert.True(t, sort.StringsAreSorted(ids), "ids generated in sequence should sort in generation order")
}

func TestNewIsVersion7(t *testing.T) {
	parsed, err := uuid.Parse(New())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestSequence(t *testing.T) {
	next := Sequence("agent")
	assert.Equal(t, "agent-1", next())
	assert.Equal(t, "agent-2", next())
	for i := 3; i < 12; i++ {
		next()
	}
	assert.Equal(t, "agent-12", next())
}
