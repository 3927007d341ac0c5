package beacon

import (
	"errors"
	"sync/atomic"

	"github.com/flashbots/go-boost-utils/types"
	uatomic "go.uber.org/atomic"

	"github.com/blocknative/syncgate/structs"
)

var (
	ErrUnknownValidatorIndex = errors.New("unknown validator index")
	ErrCommitteeOutOfRange   = errors.New("slot outside known sync committee periods")
)

// ValidatorsState is an immutable registry snapshot: pubkeys ordered by
// validator index.
type ValidatorsState struct {
	PubkeysByIndex []types.PublicKey
}

// SyncCommitteesState carries the two committees the chain state knows at a
// given period: the one covering the state's own progression and the next.
type SyncCommitteesState struct {
	Period  uint64
	Current structs.SyncCommittee
	Next    structs.SyncCommittee
}

// AtomicState is the borrowed chain-state snapshot shared by all concurrent
// verification calls. Readers always observe complete, immutable values;
// writers swap whole snapshots.
type AtomicState struct {
	headSlot uatomic.Uint64

	genesis        atomic.Value
	validators     atomic.Value
	syncCommittees atomic.Value
}

func (as *AtomicState) Genesis() structs.GenesisInfo {
	if val := as.genesis.Load(); val != nil {
		return val.(structs.GenesisInfo)
	}

	return structs.GenesisInfo{}
}

func (as *AtomicState) SetGenesis(genesis structs.GenesisInfo) {
	as.genesis.Store(genesis)
}

func (as *AtomicState) HeadSlot() structs.Slot {
	return structs.Slot(as.headSlot.Load())
}

func (as *AtomicState) SetHeadSlotIfHigher(slot structs.Slot) (structs.Slot, bool) {
	for {
		curr := as.headSlot.Load()
		if uint64(slot) <= curr {
			return structs.Slot(curr), false
		}
		if as.headSlot.CompareAndSwap(curr, uint64(slot)) {
			return slot, true
		}
	}
}

func (as *AtomicState) KnownValidators() ValidatorsState {
	if val := as.validators.Load(); val != nil {
		return val.(ValidatorsState)
	}

	return ValidatorsState{}
}

func (as *AtomicState) SetKnownValidators(validators ValidatorsState) {
	as.validators.Store(validators)
}

// Pubkey resolves a validator index against the registry snapshot.
func (as *AtomicState) Pubkey(index structs.ValidatorIndex) (types.PublicKey, error) {
	registry := as.KnownValidators().PubkeysByIndex
	if uint64(index) >= uint64(len(registry)) {
		return types.PublicKey{}, ErrUnknownValidatorIndex
	}
	return registry[index], nil
}

func (as *AtomicState) ValidatorCount() uint64 {
	return uint64(len(as.KnownValidators().PubkeysByIndex))
}

func (as *AtomicState) SyncCommittees() SyncCommitteesState {
	if val := as.syncCommittees.Load(); val != nil {
		return val.(SyncCommitteesState)
	}

	return SyncCommitteesState{}
}

func (as *AtomicState) SetSyncCommittees(sc SyncCommitteesState) {
	as.syncCommittees.Store(sc)
}

// SyncCommitteeForSlot resolves the committee whose members sign for the given
// slot. The committee rotates one slot early: a message at the last slot of a
// period is signed by the next period's committee, because it votes for
// inclusion in the first block of that period. Resolution therefore keys on
// the period of slot+1, mirroring the state-transition function's timing
// rather than re-deriving it.
func (as *AtomicState) SyncCommitteeForSlot(slot structs.Slot) (structs.SyncCommittee, error) {
	sc := as.SyncCommittees()
	switch period := (slot + 1).Epoch().SyncCommitteePeriod(); period {
	case sc.Period:
		return sc.Current, nil
	case sc.Period + 1:
		return sc.Next, nil
	default:
		return structs.SyncCommittee{}, ErrCommitteeOutOfRange
	}
}
