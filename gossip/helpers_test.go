package gossip_test

import (
	"sync"
	"testing"

	"github.com/flashbots/go-boost-utils/bls"
	"github.com/flashbots/go-boost-utils/types"
	"github.com/lthibault/log"
	"github.com/prysmaticlabs/go-bitfield"
	"github.com/stretchr/testify/require"

	"github.com/blocknative/syncgate/beacon"
	"github.com/blocknative/syncgate/blstools"
	"github.com/blocknative/syncgate/gossip"
	"github.com/blocknative/syncgate/structs"
	"github.com/blocknative/syncgate/verify"
)

// Key generation dominates test setup, so one committee's worth of keys is
// generated once and shared. Dedup caches and state are fresh per test.
var (
	keysOnce   sync.Once
	keysErr    error
	testSks    []*bls.SecretKey
	testPks    []types.PublicKey
	extraSk    *bls.SecretKey
	extraPk    types.PublicKey
	sharedVM   *verify.VerificationManager
	sharedOnce sync.Once
)

// nextCommitteeShift rotates committee membership between periods so a
// validator's subnet assignment changes across the rollover boundary.
const nextCommitteeShift = 7

func testKeys(t *testing.T) {
	t.Helper()
	keysOnce.Do(func() {
		testSks = make([]*bls.SecretKey, structs.SyncCommitteeSize)
		testPks = make([]types.PublicKey, structs.SyncCommitteeSize)
		for i := range testSks {
			sk, pk, err := blstools.GenerateNewKeypair()
			if err != nil {
				keysErr = err
				return
			}
			testSks[i] = sk
			testPks[i] = pk
		}
		extraSk, extraPk, keysErr = blstools.GenerateNewKeypair()
	})
	require.NoError(t, keysErr)
}

func testVerifier(t *testing.T) *verify.VerificationManager {
	t.Helper()
	sharedOnce.Do(func() {
		sharedVM = verify.NewVerificationManager(log.New(), 256)
		sharedVM.RunVerify(4)
	})
	return sharedVM
}

type testEnv struct {
	t *testing.T

	state *beacon.AtomicState
	svc   *gossip.Service
	cfg   gossip.Config

	current structs.SyncCommittee
	next    structs.SyncCommittee
}

// secretKey returns the key for a registry index. Index SyncCommitteeSize is
// the extra validator outside both committees.
func (e *testEnv) secretKey(index structs.ValidatorIndex) *bls.SecretKey {
	if uint64(index) == structs.SyncCommitteeSize {
		return extraSk
	}
	return testSks[index]
}

// newTestEnv builds a fresh service over shared keys. The registry holds the
// committee's validators at indices 0..511 plus one non-member at 512. The
// current committee is registry order; the next committee is the same set
// shifted by nextCommitteeShift.
func newTestEnv(t *testing.T, head structs.Slot) *testEnv {
	t.Helper()
	testKeys(t)

	var genesisRoot types.Root
	var fork [4]byte

	cfg := gossip.Config{}
	var err error
	cfg.SyncMessageDomain, err = structs.ComputeDomain(structs.DomainTypeSyncCommittee, fork, genesisRoot)
	require.NoError(t, err)
	cfg.SelectionProofDomain, err = structs.ComputeDomain(structs.DomainTypeSyncCommitteeSelectionProof, fork, genesisRoot)
	require.NoError(t, err)
	cfg.ContributionAndProofDomain, err = structs.ComputeDomain(structs.DomainTypeContributionAndProof, fork, genesisRoot)
	require.NoError(t, err)

	current := structs.SyncCommittee{Pubkeys: make([]types.PublicKey, structs.SyncCommitteeSize)}
	next := structs.SyncCommittee{Pubkeys: make([]types.PublicKey, structs.SyncCommitteeSize)}
	for i := range current.Pubkeys {
		current.Pubkeys[i] = testPks[i]
		next.Pubkeys[i] = testPks[(i+nextCommitteeShift)%structs.SyncCommitteeSize]
	}

	registry := make([]types.PublicKey, structs.SyncCommitteeSize+1)
	copy(registry, testPks)
	registry[structs.SyncCommitteeSize] = extraPk

	state := &beacon.AtomicState{}
	state.SetHeadSlotIfHigher(head)
	state.SetKnownValidators(beacon.ValidatorsState{PubkeysByIndex: registry})
	state.SetSyncCommittees(beacon.SyncCommitteesState{
		Period:  head.Epoch().SyncCommitteePeriod(),
		Current: current,
		Next:    next,
	})

	svc, err := gossip.NewService(log.New(), cfg, state, testVerifier(t))
	require.NoError(t, err)

	return &testEnv{
		t:       t,
		state:   state,
		svc:     svc,
		cfg:     cfg,
		current: current,
		next:    next,
	}
}

// committeeForSlot mirrors the state's rollover resolution for test setup.
func (e *testEnv) committeeForSlot(slot structs.Slot) structs.SyncCommittee {
	c, err := e.state.SyncCommitteeForSlot(slot)
	require.NoError(e.t, err)
	return c
}

// signMessage builds a fully valid message from the validator for the slot.
func (e *testEnv) signMessage(index structs.ValidatorIndex, slot structs.Slot, root types.Root) structs.SyncCommitteeMessage {
	e.t.Helper()

	sig, err := blstools.SignRoot(root, e.cfg.SyncMessageDomain, e.secretKey(index))
	require.NoError(e.t, err)

	return structs.SyncCommitteeMessage{
		Slot:            slot,
		BeaconBlockRoot: root,
		ValidatorIndex:  index,
		Signature:       sig,
	}
}

// subnetFor returns a subnet the validator is assigned to for the slot.
func (e *testEnv) subnetFor(index structs.ValidatorIndex, slot structs.Slot) structs.SyncSubnetID {
	e.t.Helper()

	subnets := e.committeeForSlot(slot).SubnetsForPubkey(testPks[index])
	require.NotEmpty(e.t, subnets)
	return subnets[0]
}

// selectionProof signs the aggregator lottery ticket for (slot, subcommittee).
func (e *testEnv) selectionProof(index structs.ValidatorIndex, slot structs.Slot, subcommittee uint64) types.Signature {
	e.t.Helper()

	data := structs.SyncAggregatorSelectionData{Slot: slot, SubcommitteeIndex: subcommittee}
	root, err := data.HashTreeRoot()
	require.NoError(e.t, err)

	proof, err := blstools.SignRoot(root, e.cfg.SelectionProofDomain, e.secretKey(index))
	require.NoError(e.t, err)
	return proof
}

// validatorAt resolves the registry index of the committee member at the given
// subcommittee position for the slot.
func (e *testEnv) validatorAt(slot structs.Slot, subcommittee uint64, position int) structs.ValidatorIndex {
	e.t.Helper()

	committee := e.committeeForSlot(slot)
	pk := committee.Pubkeys[int(subcommittee)*structs.SyncSubcommitteeSize+position]
	for i, p := range testPks {
		if p == pk {
			return structs.ValidatorIndex(i)
		}
	}
	e.t.Fatalf("pubkey at position %d not in registry", position)
	return 0
}

// findAggregator scans the subcommittee for a member whose selection proof
// does (or does not) elect an aggregator for the slot.
func (e *testEnv) findAggregator(slot structs.Slot, subcommittee uint64, elected bool) (structs.ValidatorIndex, types.Signature) {
	e.t.Helper()

	for pos := 0; pos < structs.SyncSubcommitteeSize; pos++ {
		index := e.validatorAt(slot, subcommittee, pos)
		proof := e.selectionProof(index, slot, subcommittee)
		if verify.IsAggregator(proof[:]) == elected {
			return index, proof
		}
	}
	e.t.Fatalf("no subcommittee member with elected=%v", elected)
	return 0, types.Signature{}
}

// secondAggregator finds an elected aggregator other than the given one.
func (e *testEnv) secondAggregator(slot structs.Slot, subcommittee uint64, not structs.ValidatorIndex) (structs.ValidatorIndex, types.Signature) {
	e.t.Helper()

	for pos := 0; pos < structs.SyncSubcommitteeSize; pos++ {
		index := e.validatorAt(slot, subcommittee, pos)
		if index == not {
			continue
		}
		proof := e.selectionProof(index, slot, subcommittee)
		if verify.IsAggregator(proof[:]) {
			return index, proof
		}
	}
	e.t.Fatalf("no second elected aggregator in subcommittee %d", subcommittee)
	return 0, types.Signature{}
}

// buildContribution assembles a fully valid signed contribution for the slot,
// subcommittee and participant positions, aggregated by an elected member.
func (e *testEnv) buildContribution(slot structs.Slot, root types.Root, subcommittee uint64, positions []uint64) structs.SignedContributionAndProof {
	e.t.Helper()

	aggregator, proof := e.findAggregator(slot, subcommittee, true)
	return e.buildContributionBy(aggregator, proof, slot, root, subcommittee, positions)
}

func (e *testEnv) buildContributionBy(aggregator structs.ValidatorIndex, proof types.Signature, slot structs.Slot, root types.Root, subcommittee uint64, positions []uint64) structs.SignedContributionAndProof {
	e.t.Helper()

	bits := bitfield.NewBitvector128()
	var sigs [][]byte
	for _, pos := range positions {
		bits.SetBitAt(pos, true)
		member := e.validatorAt(slot, subcommittee, int(pos))
		sig, err := blstools.SignRoot(root, e.cfg.SyncMessageDomain, e.secretKey(member))
		require.NoError(e.t, err)
		sigCopy := sig
		sigs = append(sigs, sigCopy[:])
	}
	aggSig, err := verify.AggregateSignaturesBytes(sigs)
	require.NoError(e.t, err)

	message := &structs.ContributionAndProof{
		AggregatorIndex: aggregator,
		Contribution: &structs.SyncCommitteeContribution{
			Slot:              slot,
			BeaconBlockRoot:   root,
			SubcommitteeIndex: subcommittee,
			AggregationBits:   bits,
			Signature:         types.Signature(aggSig),
		},
		SelectionProof: proof,
	}

	htr, err := message.HashTreeRoot()
	require.NoError(e.t, err)
	outer, err := blstools.SignRoot(htr, e.cfg.ContributionAndProofDomain, e.secretKey(aggregator))
	require.NoError(e.t, err)

	return structs.SignedContributionAndProof{
		Message:   message,
		Signature: outer,
	}
}

// buildStaleContribution aggregates participant signatures from the previous
// period's committee while the envelope and proof stay valid, so only the
// aggregate signature is wrong after rollover.
func (e *testEnv) buildStaleContribution(slot structs.Slot, root types.Root, subcommittee uint64, positions []uint64) structs.SignedContributionAndProof {
	e.t.Helper()

	aggregator, proof := e.findAggregator(slot, subcommittee, true)

	bits := bitfield.NewBitvector128()
	var sigs [][]byte
	for _, pos := range positions {
		bits.SetBitAt(pos, true)
		stalePk := e.current.Pubkeys[int(subcommittee)*structs.SyncSubcommitteeSize+int(pos)]
		var member structs.ValidatorIndex
		for i, p := range testPks {
			if p == stalePk {
				member = structs.ValidatorIndex(i)
				break
			}
		}
		sig, err := blstools.SignRoot(root, e.cfg.SyncMessageDomain, e.secretKey(member))
		require.NoError(e.t, err)
		sigCopy := sig
		sigs = append(sigs, sigCopy[:])
	}
	aggSig, err := verify.AggregateSignaturesBytes(sigs)
	require.NoError(e.t, err)

	message := &structs.ContributionAndProof{
		AggregatorIndex: aggregator,
		Contribution: &structs.SyncCommitteeContribution{
			Slot:              slot,
			BeaconBlockRoot:   root,
			SubcommitteeIndex: subcommittee,
			AggregationBits:   bits,
			Signature:         types.Signature(aggSig),
		},
		SelectionProof: proof,
	}

	htr, err := message.HashTreeRoot()
	require.NoError(e.t, err)
	outer, err := blstools.SignRoot(htr, e.cfg.ContributionAndProofDomain, e.secretKey(aggregator))
	require.NoError(e.t, err)

	return structs.SignedContributionAndProof{Message: message, Signature: outer}
}

func testRoot(b byte) types.Root {
	var r types.Root
	r[0] = b
	return r
}
