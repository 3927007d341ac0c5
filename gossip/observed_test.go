package gossip

import (
	"sync"
	"testing"

	"github.com/flashbots/go-boost-utils/types"
	"github.com/prysmaticlabs/go-bitfield"
	"github.com/stretchr/testify/require"

	"github.com/blocknative/syncgate/structs"
)

func TestObservedMessagesFirstWins(t *testing.T) {
	t.Parallel()

	o, err := NewObservedMessages(64)
	require.NoError(t, err)

	var a, b types.Root
	a[0], b[0] = 0x01, 0x02

	prev, seen := o.Observe(10, 3, a)
	require.False(t, seen)
	require.Equal(t, a, prev)

	prev, seen = o.Observe(10, 3, b)
	require.True(t, seen)
	require.Equal(t, a, prev)

	// Other slot or validator is independent.
	_, seen = o.Observe(11, 3, b)
	require.False(t, seen)
	_, seen = o.Observe(10, 4, b)
	require.False(t, seen)
}

func TestObservedMessagesConcurrent(t *testing.T) {
	t.Parallel()

	o, err := NewObservedMessages(64)
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	var wins int64
	results := make([]bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var r types.Root
			r[0] = byte(i)
			_, seen := o.Observe(5, 9, r)
			results[i] = !seen
		}(i)
	}
	wg.Wait()

	for _, won := range results {
		if won {
			wins++
		}
	}
	require.EqualValues(t, 1, wins)
}

func TestObservedMessagesPrune(t *testing.T) {
	t.Parallel()

	o, err := NewObservedMessages(64)
	require.NoError(t, err)

	var r types.Root
	o.Observe(structs.Slot(10), 1, r)
	o.Observe(structs.Slot(12), 1, r)

	o.Prune(13)

	// Slot 10 fell out of the window, slot 12 is still inside it.
	_, seen := o.Observe(10, 1, r)
	require.False(t, seen)
	_, seen = o.Observe(12, 1, r)
	require.True(t, seen)
}

func TestObservedAggregators(t *testing.T) {
	t.Parallel()

	o, err := NewObservedAggregators(64)
	require.NoError(t, err)

	require.False(t, o.Observe(10, 2, 7))
	require.True(t, o.Observe(10, 2, 7))
	require.False(t, o.Observe(10, 3, 7))
	require.False(t, o.Observe(11, 2, 7))

	o.Prune(13)
	require.False(t, o.Observe(10, 2, 7))
}

func TestObservedContributionsSubset(t *testing.T) {
	t.Parallel()

	o := NewObservedContributions()

	bits := func(positions ...uint64) bitfield.Bitvector128 {
		b := bitfield.NewBitvector128()
		for _, p := range positions {
			b.SetBitAt(p, true)
		}
		return b
	}

	var hash [32]byte
	hash[0] = 0xaa

	require.False(t, o.Observe(hash, 10, bits(1, 2, 3)))

	// Identical and strict subsets are known.
	require.True(t, o.Observe(hash, 10, bits(1, 2, 3)))
	require.True(t, o.Observe(hash, 10, bits(2)))

	// New information is not, and is recorded in turn.
	require.False(t, o.Observe(hash, 10, bits(1, 2, 3, 4)))
	require.True(t, o.Observe(hash, 10, bits(3, 4)))

	// Another content key is independent.
	var other [32]byte
	other[0] = 0xbb
	require.False(t, o.Observe(other, 10, bits(1)))

	o.Prune(13)
	require.False(t, o.Observe(hash, 13, bits(2)))
}

func TestCheckSlotWindow(t *testing.T) {
	t.Parallel()

	require.NoError(t, checkSlotWindow(100, 100))
	require.NoError(t, checkSlotWindow(99, 100))

	var future FutureSlotError
	require.ErrorAs(t, checkSlotWindow(101, 100), &future)

	var past PastSlotError
	require.ErrorAs(t, checkSlotWindow(98, 100), &past)

	// Near genesis the lower bound saturates at slot 0.
	require.NoError(t, checkSlotWindow(0, 0))
	require.NoError(t, checkSlotWindow(0, 1))
	require.ErrorAs(t, checkSlotWindow(0, 2), &past)
}
