package reactor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentities_ReserveDistinct(t *testing.T) {
	ids := newIdentities(0)
	seen := make(map[Identity]struct{})
	for i := 0; i < 100; i++ {
		id := ids.reserve()
		if _, ok := seen[id]; ok {
			t.Fatalf("identity %d reserved twice", id)
		}
		seen[id] = struct{}{}
	}
	assert.Equal(t, 100, ids.reserved())
	assert.Equal(t, 100, ids.size())
}

func TestIdentities_FreeBeforeGrow(t *testing.T) {
	ids := newIdentities(4)
	a := ids.reserve()
	b := ids.reserve()
	c := ids.reserve()
	require.NoError(t, ids.free(b))
	assert.Equal(t, b, ids.reserve())
	assert.Equal(t, 3, ids.size())

	require.NoError(t, ids.free(a))
	require.NoError(t, ids.free(c))
	// most recently freed first
	assert.Equal(t, c, ids.reserve())
	assert.Equal(t, a, ids.reserve())
	assert.Equal(t, 3, ids.size())
	assert.Equal(t, Identity(3), ids.reserve())
}

func TestIdentities_DoubleFree(t *testing.T) {
	ids := newIdentities(0)
	a := ids.reserve()
	b := ids.reserve()
	require.NoError(t, ids.free(a))
	assert.ErrorIs(t, ids.free(a), ErrIdentityVacant)
	assert.ErrorIs(t, ids.free(99), ErrIdentityUnknown)

	// the free list is unaffected
	assert.Equal(t, 1, ids.reserved())
	assert.Equal(t, a, ids.reserve())
	assert.Equal(t, Identity(2), ids.reserve())
	assert.True(t, ids.occupied(b))
}

func TestIdentities_RandomWalk(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ids := newIdentities(0)
	live := make(map[Identity]struct{})
	var order []Identity
	for i := 0; i < 10000; i++ {
		if len(order) != 0 && rng.Intn(3) == 0 {
			j := rng.Intn(len(order))
			id := order[j]
			order[j] = order[len(order)-1]
			order = order[:len(order)-1]
			delete(live, id)
			require.NoError(t, ids.free(id))
			continue
		}
		size := ids.size()
		id := ids.reserve()
		if _, ok := live[id]; ok {
			t.Fatalf("identity %d is already live", id)
		}
		if ids.size() != size && size != len(live) {
			t.Fatalf("grew to %d with %d live", ids.size(), len(live))
		}
		live[id] = struct{}{}
		order = append(order, id)
	}
	assert.Equal(t, len(live), ids.reserved())
	for id := range live {
		assert.True(t, ids.occupied(id))
	}
}
