package gossip

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flashbots/go-boost-utils/types"
	"github.com/prysmaticlabs/go-bitfield"

	"github.com/blocknative/syncgate/structs"
)

// Dedup caches are sharded so concurrent verifications for independent
// validators do not serialize on one lock; atomicity is only needed per key.
const observedShards = 32

type messageKey struct {
	Slot      structs.Slot
	Validator structs.ValidatorIndex
}

// ObservedMessages records the first accepted message root per (slot,
// validator). Check-and-record is atomic per key: of two racing observers one
// inserts, the other gets the winner's root back.
type ObservedMessages struct {
	shards [observedShards]*lru.Cache[messageKey, types.Root]
}

func NewObservedMessages(entriesPerShard int) (*ObservedMessages, error) {
	o := &ObservedMessages{}
	for i := range o.shards {
		c, err := lru.New[messageKey, types.Root](entriesPerShard)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize observed message cache: %w", err)
		}
		o.shards[i] = c
	}
	return o, nil
}

func (o *ObservedMessages) shard(k messageKey) *lru.Cache[messageKey, types.Root] {
	return o.shards[uint64(k.Validator)%observedShards]
}

// Observe records root for the key unless one is already present. It returns
// the previously recorded root and whether the key was already observed.
func (o *ObservedMessages) Observe(slot structs.Slot, validator structs.ValidatorIndex, root types.Root) (prev types.Root, seen bool) {
	k := messageKey{Slot: slot, Validator: validator}
	prev, seen, _ = o.shard(k).PeekOrAdd(k, root)
	if !seen {
		return root, false
	}
	return prev, true
}

// Prune drops entries older than the disparity window behind head.
func (o *ObservedMessages) Prune(head structs.Slot) {
	for _, c := range o.shards {
		for _, k := range c.Keys() {
			if k.Slot+structs.GossipClockDisparitySlots < head {
				c.Remove(k)
			}
		}
	}
}

type aggregatorKey struct {
	Slot         structs.Slot
	Subcommittee structs.SyncSubnetID
	Aggregator   structs.ValidatorIndex
}

// ObservedAggregators records which aggregators already produced a
// contribution per (slot, subcommittee).
type ObservedAggregators struct {
	shards [observedShards]*lru.Cache[aggregatorKey, struct{}]
}

func NewObservedAggregators(entriesPerShard int) (*ObservedAggregators, error) {
	o := &ObservedAggregators{}
	for i := range o.shards {
		c, err := lru.New[aggregatorKey, struct{}](entriesPerShard)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize observed aggregator cache: %w", err)
		}
		o.shards[i] = c
	}
	return o, nil
}

// Observe marks the aggregator as seen, reporting whether it already was.
func (o *ObservedAggregators) Observe(slot structs.Slot, subcommittee structs.SyncSubnetID, aggregator structs.ValidatorIndex) (seen bool) {
	k := aggregatorKey{Slot: slot, Subcommittee: subcommittee, Aggregator: aggregator}
	seen, _ = o.shards[uint64(k.Aggregator)%observedShards].ContainsOrAdd(k, struct{}{})
	return seen
}

func (o *ObservedAggregators) Prune(head structs.Slot) {
	for _, c := range o.shards {
		for _, k := range c.Keys() {
			if k.Slot+structs.GossipClockDisparitySlots < head {
				c.Remove(k)
			}
		}
	}
}

// ObservedContributions tracks the participation bit-sets seen per
// contribution content key (hash of SyncCommitteeData). A contribution whose
// bits are a subset of an already-seen set carries no new information and is a
// known superset case. The compare-then-append must happen under one critical
// section, which rules out the lru cache used above.
type ObservedContributions struct {
	shards [observedShards]*contributionShard
}

type contributionShard struct {
	mu   sync.Mutex
	seen map[[32]byte]*seenContribution
}

type seenContribution struct {
	slot structs.Slot
	bits []bitfield.Bitvector128
}

func NewObservedContributions() *ObservedContributions {
	o := &ObservedContributions{}
	for i := range o.shards {
		o.shards[i] = &contributionShard{seen: make(map[[32]byte]*seenContribution)}
	}
	return o
}

// Observe records the bit-set for the content key and reports whether the set
// was already fully covered by a previously recorded one.
func (o *ObservedContributions) Observe(hash [32]byte, slot structs.Slot, bits bitfield.Bitvector128) (superset bool) {
	s := o.shards[uint64(hash[0])%observedShards]

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.seen[hash]
	if !ok {
		entry = &seenContribution{slot: slot}
		s.seen[hash] = entry
	}
	for _, known := range entry.bits {
		if isBitSubset(bits, known) {
			return true
		}
	}

	recorded := make(bitfield.Bitvector128, len(bits))
	copy(recorded, bits)
	entry.bits = append(entry.bits, recorded)
	return false
}

func (o *ObservedContributions) Prune(head structs.Slot) {
	for _, s := range o.shards {
		s.mu.Lock()
		for hash, entry := range s.seen {
			if entry.slot+structs.GossipClockDisparitySlots < head {
				delete(s.seen, hash)
			}
		}
		s.mu.Unlock()
	}
}

// isBitSubset reports whether every bit set in a is also set in b.
func isBitSubset(a, b bitfield.Bitvector128) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i]&^b[i] != 0 {
			return false
		}
	}
	return true
}
