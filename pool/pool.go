package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flashbots/go-boost-utils/types"
	"github.com/lthibault/log"
	"github.com/prysmaticlabs/go-bitfield"

	"github.com/blocknative/syncgate/structs"
	"github.com/blocknative/syncgate/verify"
)

const poolShards = 16

var ErrNoPositions = errors.New("verified message carries no subcommittee positions")

// Pool is the naive sync aggregation pool: per (slot, block root,
// subcommittee) it keeps the running union of participation bits and the
// matching aggregate signature over all verified messages inserted so far.
// Safe for concurrent use; independent keys do not contend.
type Pool struct {
	l log.Logger

	shards [poolShards]*poolShard

	m PoolMetrics
}

type poolShard struct {
	mu      sync.Mutex
	entries map[structs.SyncContributionData]*poolEntry
}

type poolEntry struct {
	bits      bitfield.Bitvector128
	signature types.Signature
}

func NewPool(l log.Logger) *Pool {
	p := &Pool{
		l: l.WithField("subService", "aggregation-pool"),
	}
	for i := range p.shards {
		p.shards[i] = &poolShard{entries: make(map[structs.SyncContributionData]*poolEntry)}
	}
	p.initMetrics()
	return p
}

func (p *Pool) shard(key structs.SyncContributionData) *poolShard {
	return p.shards[(uint64(key.Slot)+uint64(key.SubcommitteeIndex))%poolShards]
}

// Add folds one verified message into the entry for its key. Positions the
// entry already covers contribute nothing; a message whose every position is
// already set is a no-op. Aggregate verification selects the member pubkey
// once per set bit, so a validator occupying several subcommittee positions
// has its signature folded in once per novel position to keep the pairing
// balanced.
func (p *Pool) Add(vm structs.VerifiedMessage) error {
	if len(vm.PositionsInSubcommittee) == 0 {
		return ErrNoPositions
	}

	key := vm.ContributionData()
	s := p.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		bits := bitfield.NewBitvector128()
		sigs := make([][]byte, 0, len(vm.PositionsInSubcommittee))
		for _, pos := range vm.PositionsInSubcommittee {
			bits.SetBitAt(pos, true)
			sigs = append(sigs, vm.Message.Signature[:])
		}
		agg, err := verify.AggregateSignaturesBytes(sigs)
		if err != nil {
			return fmt.Errorf("aggregate signature: %w", err)
		}
		s.entries[key] = &poolEntry{
			bits:      bits,
			signature: types.Signature(agg),
		}
		p.m.Entries.Inc()
		return nil
	}

	var novel []uint64
	for _, pos := range vm.PositionsInSubcommittee {
		if !entry.bits.BitAt(pos) {
			novel = append(novel, pos)
		}
	}
	if len(novel) == 0 {
		return nil
	}

	sigs := make([][]byte, 0, len(novel)+1)
	sigs = append(sigs, entry.signature[:])
	for range novel {
		sigs = append(sigs, vm.Message.Signature[:])
	}
	combined, err := verify.AggregateSignaturesBytes(sigs)
	if err != nil {
		return fmt.Errorf("combine signatures: %w", err)
	}

	for _, pos := range novel {
		entry.bits.SetBitAt(pos, true)
	}
	entry.signature = types.Signature(combined)
	return nil
}

// Get returns a copy of the accumulated contribution for the key, or false
// when nothing has been inserted under it.
func (p *Pool) Get(key structs.SyncContributionData) (*structs.SyncCommitteeContribution, bool) {
	s := p.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}

	bits := make(bitfield.Bitvector128, len(entry.bits))
	copy(bits, entry.bits)

	return &structs.SyncCommitteeContribution{
		Slot:              key.Slot,
		BeaconBlockRoot:   key.BeaconBlockRoot,
		SubcommitteeIndex: uint64(key.SubcommitteeIndex),
		AggregationBits:   bits,
		Signature:         entry.signature,
	}, true
}
