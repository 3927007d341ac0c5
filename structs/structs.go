package structs

import (
	"errors"

	"github.com/flashbots/go-boost-utils/types"
)

var (
	ErrUnknownValue = errors.New("value is unknown")
)

type Slot uint64

func (s Slot) Loggable() map[string]any {
	return map[string]any{
		"slot":  s,
		"epoch": s.Epoch(),
	}
}

func (s Slot) Epoch() Epoch {
	return Epoch(s / SlotsPerEpoch)
}

type Epoch uint64

func (e Epoch) Loggable() map[string]any {
	return map[string]any{
		"epoch": e,
	}
}

// SyncCommitteePeriod returns the sync committee period the epoch belongs to.
func (e Epoch) SyncCommitteePeriod() uint64 {
	return uint64(e / EpochsPerSyncCommitteePeriod)
}

type ValidatorIndex uint64

type SyncSubnetID uint64

type SyncSubnets []SyncSubnetID

func (s SyncSubnets) Contains(id SyncSubnetID) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// SyncCommittee is the ordered pubkey sequence of one sync committee period,
// partitioned into SyncCommitteeSubnetCount equal subcommittees. It may contain
// duplicate pubkeys for small validator sets.
type SyncCommittee struct {
	Pubkeys []types.PublicKey
}

var ErrInvalidSubcommittee = errors.New("subcommittee index out of range")

// SubcommitteePubkeys returns the pubkeys of one subcommittee, in committee order.
func (c SyncCommittee) SubcommitteePubkeys(subcommittee SyncSubnetID) ([]types.PublicKey, error) {
	if uint64(subcommittee) >= SyncCommitteeSubnetCount {
		return nil, ErrInvalidSubcommittee
	}
	i := int(subcommittee) * SyncSubcommitteeSize
	return c.Pubkeys[i : i+SyncSubcommitteeSize], nil
}

// SubnetsForPubkey returns the subnets on which the given committee member
// broadcasts. Empty when the pubkey is not part of the committee.
func (c SyncCommittee) SubnetsForPubkey(pk types.PublicKey) SyncSubnets {
	var out SyncSubnets
	for i, p := range c.Pubkeys {
		if p == pk {
			id := SyncSubnetID(i / SyncSubcommitteeSize)
			if !out.Contains(id) {
				out = append(out, id)
			}
		}
	}
	return out
}

// PositionsInSubcommittee returns every position the pubkey occupies inside the
// given subcommittee.
func (c SyncCommittee) PositionsInSubcommittee(subcommittee SyncSubnetID, pk types.PublicKey) ([]uint64, error) {
	pubkeys, err := c.SubcommitteePubkeys(subcommittee)
	if err != nil {
		return nil, err
	}
	var out []uint64
	for i, p := range pubkeys {
		if p == pk {
			out = append(out, uint64(i))
		}
	}
	return out, nil
}

type GenesisInfo struct {
	GenesisTime           uint64 `json:"genesis_time,string"`
	GenesisValidatorsRoot string `json:"genesis_validators_root"`
	GenesisForkVersion    string `json:"genesis_fork_version"`
}

// SyncContributionData is the aggregation pool key: one accumulated contribution
// exists per (slot, block root, subcommittee).
type SyncContributionData struct {
	Slot              Slot
	BeaconBlockRoot   types.Root
	SubcommitteeIndex SyncSubnetID
}

func (d SyncContributionData) Loggable() map[string]any {
	return map[string]any{
		"slot":         d.Slot,
		"root":         d.BeaconBlockRoot,
		"subcommittee": d.SubcommitteeIndex,
	}
}

// VerifiedMessage wraps a SyncCommitteeMessage that passed gossip verification.
// Constructed only by the gossip pipeline.
type VerifiedMessage struct {
	Message        SyncCommitteeMessage
	ValidatorIndex ValidatorIndex
	Subnet         SyncSubnetID

	// Positions the validator occupies in the subcommittee, resolved during
	// verification so the aggregation pool does not re-walk the committee.
	PositionsInSubcommittee []uint64
}

func (v VerifiedMessage) ContributionData() SyncContributionData {
	return SyncContributionData{
		Slot:              v.Message.Slot,
		BeaconBlockRoot:   v.Message.BeaconBlockRoot,
		SubcommitteeIndex: v.Subnet,
	}
}

// VerifiedContribution wraps a SignedContributionAndProof that passed gossip
// verification. Constructed only by the gossip pipeline.
type VerifiedContribution struct {
	Contribution    SignedContributionAndProof
	AggregatorIndex ValidatorIndex
}
