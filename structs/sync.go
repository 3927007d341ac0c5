package structs

import (
	ssz "github.com/ferranbt/fastssz"
	"github.com/flashbots/go-boost-utils/types"
	"github.com/prysmaticlabs/go-bitfield"
)

// SyncCommitteeMessage is a single validator's vote for a beacon block root.
type SyncCommitteeMessage struct {
	Slot            Slot            `json:"slot,string"`
	BeaconBlockRoot types.Root      `json:"beacon_block_root" ssz-size:"32"`
	ValidatorIndex  ValidatorIndex  `json:"validator_index,string"`
	Signature       types.Signature `json:"signature" ssz-size:"96"`
}

// SigningRoot returns the domain-separated root the message signature covers.
// The signed object is the block root itself.
func (m *SyncCommitteeMessage) SigningRoot(d types.Domain) ([32]byte, error) {
	return SigningRoot(m.BeaconBlockRoot, d)
}

// SyncCommitteeContribution is a per-subcommittee aggregate over sync committee
// messages for one slot and block root.
type SyncCommitteeContribution struct {
	Slot              Slot                  `json:"slot,string"`
	BeaconBlockRoot   types.Root            `json:"beacon_block_root" ssz-size:"32"`
	SubcommitteeIndex uint64                `json:"subcommittee_index,string"`
	AggregationBits   bitfield.Bitvector128 `json:"aggregation_bits" ssz-size:"16"`
	Signature         types.Signature       `json:"signature" ssz-size:"96"`
}

// SizeSSZ returns the ssz encoded size in bytes for the SyncCommitteeContribution object
func (c *SyncCommitteeContribution) SizeSSZ() (size int) {
	size = 8 + 32 + 8 + 16 + 96
	return
}

// HashTreeRoot ssz hashes the SyncCommitteeContribution object
func (c *SyncCommitteeContribution) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(c)
}

// HashTreeRootWith ssz hashes the SyncCommitteeContribution object with a hasher
func (c *SyncCommitteeContribution) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()

	// Field (0) 'Slot'
	hh.PutUint64(uint64(c.Slot))

	// Field (1) 'BeaconBlockRoot'
	hh.PutBytes(c.BeaconBlockRoot[:])

	// Field (2) 'SubcommitteeIndex'
	hh.PutUint64(c.SubcommitteeIndex)

	// Field (3) 'AggregationBits'
	if size := len(c.AggregationBits); size != 16 {
		err = ssz.ErrBytesLengthFn("SyncCommitteeContribution.AggregationBits", size, 16)
		return
	}
	hh.PutBytes(c.AggregationBits)

	// Field (4) 'Signature'
	hh.PutBytes(c.Signature[:])

	hh.Merkleize(indx)
	return
}

// GetTree ssz hashes the SyncCommitteeContribution object
func (c *SyncCommitteeContribution) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(c)
}

// ContributionData returns the content key the contribution accumulates under.
func (c *SyncCommitteeContribution) ContributionData() SyncContributionData {
	return SyncContributionData{
		Slot:              c.Slot,
		BeaconBlockRoot:   c.BeaconBlockRoot,
		SubcommitteeIndex: SyncSubnetID(c.SubcommitteeIndex),
	}
}

// ContributionAndProof carries a contribution together with the aggregator's
// selection proof.
type ContributionAndProof struct {
	AggregatorIndex ValidatorIndex             `json:"aggregator_index,string"`
	Contribution    *SyncCommitteeContribution `json:"contribution"`
	SelectionProof  types.Signature            `json:"selection_proof" ssz-size:"96"`
}

// SizeSSZ returns the ssz encoded size in bytes for the ContributionAndProof object
func (c *ContributionAndProof) SizeSSZ() (size int) {
	size = 8 + 160 + 96
	return
}

// HashTreeRoot ssz hashes the ContributionAndProof object
func (c *ContributionAndProof) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(c)
}

// HashTreeRootWith ssz hashes the ContributionAndProof object with a hasher
func (c *ContributionAndProof) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()

	// Field (0) 'AggregatorIndex'
	hh.PutUint64(uint64(c.AggregatorIndex))

	// Field (1) 'Contribution'
	if c.Contribution == nil {
		c.Contribution = new(SyncCommitteeContribution)
	}
	if err = c.Contribution.HashTreeRootWith(hh); err != nil {
		return
	}

	// Field (2) 'SelectionProof'
	hh.PutBytes(c.SelectionProof[:])

	hh.Merkleize(indx)
	return
}

// GetTree ssz hashes the ContributionAndProof object
func (c *ContributionAndProof) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(c)
}

// SigningRoot returns the domain-separated root the outer aggregator signature covers.
func (c *ContributionAndProof) SigningRoot(d types.Domain) ([32]byte, error) {
	root, err := c.HashTreeRoot()
	if err != nil {
		return [32]byte{}, err
	}
	return SigningRoot(root, d)
}

// SignedContributionAndProof is the gossip envelope: the aggregator's outer
// signature over ContributionAndProof, distinct from the inner aggregate.
type SignedContributionAndProof struct {
	Message   *ContributionAndProof `json:"message"`
	Signature types.Signature       `json:"signature" ssz-size:"96"`
}

// SyncAggregatorSelectionData is the object signed by a selection proof.
type SyncAggregatorSelectionData struct {
	Slot              Slot   `json:"slot,string"`
	SubcommitteeIndex uint64 `json:"subcommittee_index,string"`
}

// SizeSSZ returns the ssz encoded size in bytes for the SyncAggregatorSelectionData object
func (d *SyncAggregatorSelectionData) SizeSSZ() (size int) {
	size = 16
	return
}

// HashTreeRoot ssz hashes the SyncAggregatorSelectionData object
func (d *SyncAggregatorSelectionData) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(d)
}

// HashTreeRootWith ssz hashes the SyncAggregatorSelectionData object with a hasher
func (d *SyncAggregatorSelectionData) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()

	// Field (0) 'Slot'
	hh.PutUint64(uint64(d.Slot))

	// Field (1) 'SubcommitteeIndex'
	hh.PutUint64(d.SubcommitteeIndex)

	hh.Merkleize(indx)
	return
}

// GetTree ssz hashes the SyncAggregatorSelectionData object
func (d *SyncAggregatorSelectionData) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(d)
}

// SigningRoot returns the domain-separated root a selection proof covers.
func (d *SyncAggregatorSelectionData) SigningRoot(dom types.Domain) ([32]byte, error) {
	root, err := d.HashTreeRoot()
	if err != nil {
		return [32]byte{}, err
	}
	return SigningRoot(root, dom)
}

// SyncCommitteeData identifies the content of a contribution independently of
// who aggregated it. Its hash tree root keys the superset-known dedup store.
type SyncCommitteeData struct {
	Slot              Slot       `json:"slot,string"`
	Root              types.Root `json:"root" ssz-size:"32"`
	SubcommitteeIndex uint64     `json:"subcommittee_index,string"`
}

// SizeSSZ returns the ssz encoded size in bytes for the SyncCommitteeData object
func (d *SyncCommitteeData) SizeSSZ() (size int) {
	size = 48
	return
}

// HashTreeRoot ssz hashes the SyncCommitteeData object
func (d *SyncCommitteeData) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(d)
}

// HashTreeRootWith ssz hashes the SyncCommitteeData object with a hasher
func (d *SyncCommitteeData) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()

	// Field (0) 'Slot'
	hh.PutUint64(uint64(d.Slot))

	// Field (1) 'Root'
	hh.PutBytes(d.Root[:])

	// Field (2) 'SubcommitteeIndex'
	hh.PutUint64(d.SubcommitteeIndex)

	hh.Merkleize(indx)
	return
}

// GetTree ssz hashes the SyncCommitteeData object
func (d *SyncCommitteeData) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(d)
}
