package gossip_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blocknative/syncgate/gossip"
	"github.com/blocknative/syncgate/structs"
)

func TestVerifyMessageAccept(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 100)
	index := structs.ValidatorIndex(130)
	msg := env.signMessage(index, 100, testRoot(0x01))
	subnet := env.subnetFor(index, 100)

	vm, err := env.svc.VerifySyncCommitteeMessage(context.Background(), msg, subnet)
	require.NoError(t, err)
	require.Equal(t, index, vm.ValidatorIndex)
	require.Equal(t, subnet, vm.Subnet)
	require.Equal(t, []uint64{uint64(130 % structs.SyncSubcommitteeSize)}, vm.PositionsInSubcommittee)
	require.Equal(t, structs.SyncContributionData{
		Slot:              100,
		BeaconBlockRoot:   testRoot(0x01),
		SubcommitteeIndex: subnet,
	}, vm.ContributionData())
}

func TestVerifyMessageSlotWindow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 100)
	index := structs.ValidatorIndex(10)
	subnet := env.subnetFor(index, 100)

	// One slot ahead of head.
	_, err := env.svc.VerifySyncCommitteeMessage(context.Background(), env.signMessage(index, 101, testRoot(0x01)), subnet)
	var future gossip.FutureSlotError
	require.ErrorAs(t, err, &future)
	require.Equal(t, structs.Slot(101), future.MessageSlot)
	require.Equal(t, structs.Slot(100), future.LatestPermissibleSlot)

	// Two slots behind head.
	_, err = env.svc.VerifySyncCommitteeMessage(context.Background(), env.signMessage(index, 98, testRoot(0x01)), subnet)
	var past gossip.PastSlotError
	require.ErrorAs(t, err, &past)
	require.Equal(t, structs.Slot(98), past.MessageSlot)
	require.Equal(t, structs.Slot(99), past.EarliestPermissibleSlot)

	// Both window boundaries are admissible.
	_, err = env.svc.VerifySyncCommitteeMessage(context.Background(), env.signMessage(index, 99, testRoot(0x01)), env.subnetFor(index, 99))
	require.NoError(t, err)
	_, err = env.svc.VerifySyncCommitteeMessage(context.Background(), env.signMessage(index, 100, testRoot(0x01)), subnet)
	require.NoError(t, err)
}

func TestVerifyMessageUnknownValidator(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 100)
	msg := env.signMessage(10, 100, testRoot(0x01))
	msg.ValidatorIndex = structs.SyncCommitteeSize + 50

	_, err := env.svc.VerifySyncCommitteeMessage(context.Background(), msg, 0)
	var unknown gossip.UnknownValidatorIndexError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, msg.ValidatorIndex, unknown.Index)
}

func TestVerifyMessageWrongSubnet(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 100)
	index := structs.ValidatorIndex(130)
	msg := env.signMessage(index, 100, testRoot(0x01))

	right := env.subnetFor(index, 100)
	wrong := (right + 1) % structs.SyncCommitteeSubnetCount

	_, err := env.svc.VerifySyncCommitteeMessage(context.Background(), msg, wrong)
	var invalid gossip.InvalidSubnetError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, wrong, invalid.Received)
	require.Contains(t, invalid.Expected, right)

	// A validator outside the committee is assigned no subnet at all.
	outside := env.signMessage(structs.SyncCommitteeSize, 100, testRoot(0x01))
	_, err = env.svc.VerifySyncCommitteeMessage(context.Background(), outside, 0)
	require.ErrorAs(t, err, &invalid)
	require.Empty(t, invalid.Expected)
}

func TestVerifyMessageInvalidSignature(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 100)
	index := structs.ValidatorIndex(40)
	subnet := env.subnetFor(index, 100)

	msg := env.signMessage(index, 100, testRoot(0x01))
	msg.Signature[30] ^= 0x01
	_, err := env.svc.VerifySyncCommitteeMessage(context.Background(), msg, subnet)
	require.ErrorIs(t, err, gossip.ErrInvalidSignature)

	// Signature from a different validator over the same root.
	msg = env.signMessage(index, 100, testRoot(0x01))
	other := env.signMessage(41, 100, testRoot(0x01))
	msg.Signature = other.Signature
	_, err = env.svc.VerifySyncCommitteeMessage(context.Background(), msg, subnet)
	require.ErrorIs(t, err, gossip.ErrInvalidSignature)

	// A rejected message leaves no dedup trace: the honest one still passes.
	_, err = env.svc.VerifySyncCommitteeMessage(context.Background(), env.signMessage(index, 100, testRoot(0x01)), subnet)
	require.NoError(t, err)
}

func TestVerifyMessageFirstWins(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 100)
	index := structs.ValidatorIndex(200)
	subnet := env.subnetFor(index, 100)

	_, err := env.svc.VerifySyncCommitteeMessage(context.Background(), env.signMessage(index, 100, testRoot(0x01)), subnet)
	require.NoError(t, err)

	// Equivocation to a different root reports the recorded winner.
	_, err = env.svc.VerifySyncCommitteeMessage(context.Background(), env.signMessage(index, 100, testRoot(0x02)), subnet)
	var prior gossip.PriorMessageKnownError
	require.ErrorAs(t, err, &prior)
	require.Equal(t, index, prior.ValidatorIndex)
	require.Equal(t, testRoot(0x01), prior.PrevRoot)
	require.Equal(t, testRoot(0x02), prior.NewRoot)

	// A byte-identical resubmission is rejected the same way.
	_, err = env.svc.VerifySyncCommitteeMessage(context.Background(), env.signMessage(index, 100, testRoot(0x01)), subnet)
	require.ErrorAs(t, err, &prior)
	require.Equal(t, testRoot(0x01), prior.PrevRoot)

	// The same validator in another slot starts fresh.
	_, err = env.svc.VerifySyncCommitteeMessage(context.Background(), env.signMessage(index, 99, testRoot(0x03)), env.subnetFor(index, 99))
	require.NoError(t, err)
}

func TestVerifyMessageConcurrentExactlyOneWins(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 100)
	index := structs.ValidatorIndex(77)
	subnet := env.subnetFor(index, 100)

	const racers = 8
	msgs := make([]structs.SyncCommitteeMessage, racers)
	for i := range msgs {
		msgs[i] = env.signMessage(index, 100, testRoot(byte(i+1)))
	}

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.VerifySyncCommitteeMessage(context.Background(), msgs[i], subnet)
		}(i)
	}
	wg.Wait()

	var accepted int
	var winner structs.SyncCommitteeMessage
	for i, err := range errs {
		if err == nil {
			accepted++
			winner = msgs[i]
			continue
		}
		var prior gossip.PriorMessageKnownError
		require.ErrorAs(t, err, &prior)
	}
	require.Equal(t, 1, accepted)

	// Every loser observed the winner's root.
	for _, err := range errs {
		if err == nil {
			continue
		}
		var prior gossip.PriorMessageKnownError
		require.ErrorAs(t, err, &prior)
		require.Equal(t, winner.BeaconBlockRoot, prior.PrevRoot)
	}
}

func TestVerifyMessageAtPeriodRollover(t *testing.T) {
	t.Parallel()

	periodSlots := structs.Slot(uint64(structs.SlotsPerEpoch) * uint64(structs.EpochsPerSyncCommitteePeriod))
	head := periodSlots - 1
	env := newTestEnv(t, head)

	index := structs.ValidatorIndex(130)

	// The last slot of the period is signed for by the next committee; the
	// shifted membership moves the validator to a different subnet.
	nextSubnets := env.next.SubnetsForPubkey(testPks[index])
	staleSubnets := env.current.SubnetsForPubkey(testPks[index])
	require.NotEqual(t, staleSubnets[0], nextSubnets[0])

	msg := env.signMessage(index, head, testRoot(0x01))
	vm, err := env.svc.VerifySyncCommitteeMessage(context.Background(), msg, nextSubnets[0])
	require.NoError(t, err)
	require.Equal(t, nextSubnets[0], vm.Subnet)

	// Resolving against the stale current-period committee is rejected.
	msg = env.signMessage(index, head, testRoot(0x02))
	_, err = env.svc.VerifySyncCommitteeMessage(context.Background(), msg, staleSubnets[0])
	var invalid gossip.InvalidSubnetError
	require.ErrorAs(t, err, &invalid)

	// One slot earlier the current committee still applies.
	msg = env.signMessage(index, head-1, testRoot(0x03))
	vm, err = env.svc.VerifySyncCommitteeMessage(context.Background(), msg, staleSubnets[0])
	require.NoError(t, err)
	require.Equal(t, staleSubnets[0], vm.Subnet)
}
