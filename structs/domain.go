package structs

import (
	ssz "github.com/ferranbt/fastssz"
	"github.com/flashbots/go-boost-utils/types"
)

// SigningData mixes an object root with a signing domain. Signatures always
// cover hash_tree_root(SigningData), never the bare object root.
type SigningData struct {
	ObjectRoot types.Root   `json:"object_root" ssz-size:"32"`
	Domain     types.Domain `json:"domain" ssz-size:"32"`
}

// SizeSSZ returns the ssz encoded size in bytes for the SigningData object
func (d *SigningData) SizeSSZ() (size int) {
	size = 64
	return
}

// HashTreeRoot ssz hashes the SigningData object
func (d *SigningData) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(d)
}

// HashTreeRootWith ssz hashes the SigningData object with a hasher
func (d *SigningData) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()

	// Field (0) 'ObjectRoot'
	hh.PutBytes(d.ObjectRoot[:])

	// Field (1) 'Domain'
	hh.PutBytes(d.Domain[:])

	hh.Merkleize(indx)
	return
}

// GetTree ssz hashes the SigningData object
func (d *SigningData) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(d)
}

// ForkData binds a fork version to a genesis validators root for domain derivation.
type ForkData struct {
	CurrentVersion        [4]byte    `json:"current_version" ssz-size:"4"`
	GenesisValidatorsRoot types.Root `json:"genesis_validators_root" ssz-size:"32"`
}

// SizeSSZ returns the ssz encoded size in bytes for the ForkData object
func (d *ForkData) SizeSSZ() (size int) {
	size = 36
	return
}

// HashTreeRoot ssz hashes the ForkData object
func (d *ForkData) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(d)
}

// HashTreeRootWith ssz hashes the ForkData object with a hasher
func (d *ForkData) HashTreeRootWith(hh ssz.HashWalker) (err error) {
	indx := hh.Index()

	// Field (0) 'CurrentVersion'
	hh.PutBytes(d.CurrentVersion[:])

	// Field (1) 'GenesisValidatorsRoot'
	hh.PutBytes(d.GenesisValidatorsRoot[:])

	hh.Merkleize(indx)
	return
}

// GetTree ssz hashes the ForkData object
func (d *ForkData) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(d)
}

// ComputeDomain derives the 32-byte signing domain for a domain type under the
// given fork version and genesis validators root.
func ComputeDomain(dt types.DomainType, forkVersion [4]byte, genesisValidatorsRoot types.Root) (d types.Domain, err error) {
	fd := ForkData{
		CurrentVersion:        forkVersion,
		GenesisValidatorsRoot: genesisValidatorsRoot,
	}
	root, err := fd.HashTreeRoot()
	if err != nil {
		return d, err
	}

	copy(d[:4], dt[:])
	copy(d[4:], root[:28])
	return d, nil
}

// SigningRoot computes hash_tree_root(SigningData{objectRoot, domain}).
func SigningRoot(objectRoot types.Root, d types.Domain) ([32]byte, error) {
	sd := SigningData{
		ObjectRoot: objectRoot,
		Domain:     d,
	}
	return sd.HashTreeRoot()
}
