package gossip

import (
	"errors"
	"fmt"

	"github.com/flashbots/go-boost-utils/types"

	"github.com/blocknative/syncgate/structs"
)

// The taxonomy below is closed: every rejection a caller can observe is one of
// these values, each carrying what a peer-scoring layer needs to grade the
// peer without re-deriving it. Failures of the machinery itself (not of the
// message) are wrapped in ErrVerification instead.
var (
	ErrVerification             = errors.New("failed to verify")
	ErrInvalidSignature         = errors.New("invalid signature")
	ErrEmptyAggregationBitfield = errors.New("empty aggregation bitfield")
	ErrNilContribution          = errors.New("contribution is nil")
)

// FutureSlotError rejects a message claiming a slot past the head.
type FutureSlotError struct {
	MessageSlot           structs.Slot
	LatestPermissibleSlot structs.Slot
}

func (e FutureSlotError) Error() string {
	return fmt.Sprintf("future slot: got %d, latest permissible %d", e.MessageSlot, e.LatestPermissibleSlot)
}

// PastSlotError rejects a message older than the gossip disparity window.
type PastSlotError struct {
	MessageSlot             structs.Slot
	EarliestPermissibleSlot structs.Slot
}

func (e PastSlotError) Error() string {
	return fmt.Sprintf("past slot: got %d, earliest permissible %d", e.MessageSlot, e.EarliestPermissibleSlot)
}

// InvalidSubnetError rejects a message received on a subnet its validator is
// not assigned to.
type InvalidSubnetError struct {
	Received structs.SyncSubnetID
	Expected structs.SyncSubnets
}

func (e InvalidSubnetError) Error() string {
	return fmt.Sprintf("invalid subnet: received %d, expected %v", e.Received, e.Expected)
}

// InvalidSubcommitteeError rejects a contribution whose subcommittee index is
// out of range.
type InvalidSubcommitteeError struct {
	SubcommitteeIndex uint64
	SubcommitteeCount uint64
}

func (e InvalidSubcommitteeError) Error() string {
	return fmt.Sprintf("invalid subcommittee index %d, count is %d", e.SubcommitteeIndex, e.SubcommitteeCount)
}

// UnknownValidatorIndexError rejects an index outside the registry bound
// recognized by the state snapshot.
type UnknownValidatorIndexError struct {
	Index structs.ValidatorIndex
}

func (e UnknownValidatorIndexError) Error() string {
	return fmt.Sprintf("unknown validator index %d", e.Index)
}

// AggregatorNotInCommitteeError rejects an aggregator whose pubkey is not a
// member of the subcommittee it aggregates for.
type AggregatorNotInCommitteeError struct {
	AggregatorIndex structs.ValidatorIndex
}

func (e AggregatorNotInCommitteeError) Error() string {
	return fmt.Sprintf("aggregator %d not in committee", e.AggregatorIndex)
}

// InvalidSelectionProofError rejects a structurally valid proof that does not
// elect its signer as aggregator.
type InvalidSelectionProofError struct {
	AggregatorIndex structs.ValidatorIndex
}

func (e InvalidSelectionProofError) Error() string {
	return fmt.Sprintf("selection proof of aggregator %d does not elect an aggregator", e.AggregatorIndex)
}

// SupersetKnownError rejects a contribution whose content is already fully
// represented by previously accepted data.
type SupersetKnownError struct {
	Hash [32]byte
}

func (e SupersetKnownError) Error() string {
	return fmt.Sprintf("sync contribution content %x already known", e.Hash)
}

// AggregatorAlreadyKnownError rejects a second contribution from an aggregator
// for the same slot and subcommittee, whatever its content.
type AggregatorAlreadyKnownError struct {
	AggregatorIndex   structs.ValidatorIndex
	Slot              structs.Slot
	SubcommitteeIndex structs.SyncSubnetID
}

func (e AggregatorAlreadyKnownError) Error() string {
	return fmt.Sprintf("aggregator %d already seen for slot %d subcommittee %d", e.AggregatorIndex, e.Slot, e.SubcommitteeIndex)
}

// PriorMessageKnownError rejects a second message from a validator for a slot.
// The first accepted message wins regardless of which root either targets.
type PriorMessageKnownError struct {
	ValidatorIndex structs.ValidatorIndex
	Slot           structs.Slot
	PrevRoot       types.Root
	NewRoot        types.Root
}

func (e PriorMessageKnownError) Error() string {
	return fmt.Sprintf("validator %d already produced a message for slot %d (prev root %s, new root %s)",
		e.ValidatorIndex, e.Slot, e.PrevRoot.String(), e.NewRoot.String())
}
