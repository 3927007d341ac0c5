package structs

import (
	"time"

	"github.com/flashbots/go-boost-utils/types"
)

const (
	SlotsPerEpoch                Slot  = 32
	EpochsPerSyncCommitteePeriod Epoch = 256
	DurationPerSlot                    = time.Second * 12
	DurationPerEpoch                   = DurationPerSlot * time.Duration(SlotsPerEpoch)

	SyncCommitteeSize                    = 512
	SyncCommitteeSubnetCount             = 4
	SyncSubcommitteeSize                 = SyncCommitteeSize / SyncCommitteeSubnetCount
	TargetAggregatorsPerSyncSubcommittee = 16

	ValidatorRegistryLimit = uint64(1) << 40

	// A message is admissible for gossip when its slot is within
	// [head-GossipClockDisparitySlots, head].
	GossipClockDisparitySlots Slot = 1
)

var (
	DomainTypeSyncCommittee               = types.DomainType{0x07, 0x00, 0x00, 0x00}
	DomainTypeSyncCommitteeSelectionProof = types.DomainType{0x08, 0x00, 0x00, 0x00}
	DomainTypeContributionAndProof        = types.DomainType{0x09, 0x00, 0x00, 0x00}
)
