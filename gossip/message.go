package gossip

import (
	"context"
	"fmt"

	"github.com/lthibault/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blocknative/syncgate/structs"
	"github.com/blocknative/syncgate/verify"
)

// VerifySyncCommitteeMessage runs the full admission pipeline for a single
// sync committee message received on the given subnet. On success it returns
// the verified wrapper with the validator's subcommittee positions resolved;
// on rejection it returns one of the typed errors from this package. Checks
// run cheapest first so an invalid message rarely reaches the signature
// queue, and no dedup state is mutated unless every prior check passed.
func (s *Service) VerifySyncCommitteeMessage(ctx context.Context, msg structs.SyncCommitteeMessage, subnet structs.SyncSubnetID) (structs.VerifiedMessage, error) {
	logger := s.l.With(log.F{
		"slot":      msg.Slot,
		"validator": msg.ValidatorIndex,
		"subnet":    subnet,
	})
	timer := prometheus.NewTimer(s.m.VerifyTiming.WithLabelValues("message"))
	defer timer.ObserveDuration()

	vm, err := s.verifySyncCommitteeMessage(ctx, msg, subnet)
	if err != nil {
		s.m.Rejected.WithLabelValues("message", rejectionReason(err)).Inc()
		logger.WithError(err).Debug("sync committee message rejected")
		return structs.VerifiedMessage{}, err
	}

	s.m.Accepted.WithLabelValues("message").Inc()
	logger.Debug("sync committee message accepted")
	return vm, nil
}

func (s *Service) verifySyncCommitteeMessage(ctx context.Context, msg structs.SyncCommitteeMessage, subnet structs.SyncSubnetID) (structs.VerifiedMessage, error) {
	// The validator must be known and assigned to the subnet the message
	// arrived on for the slot's committee.
	pubkey, err := s.state.Pubkey(msg.ValidatorIndex)
	if err != nil {
		return structs.VerifiedMessage{}, UnknownValidatorIndexError{Index: msg.ValidatorIndex}
	}

	committee, err := s.state.SyncCommitteeForSlot(msg.Slot)
	if err != nil {
		return structs.VerifiedMessage{}, fmt.Errorf("%w: resolve committee for slot %d: %s", ErrVerification, msg.Slot, err.Error())
	}

	expected := committee.SubnetsForPubkey(pubkey)
	if !expected.Contains(subnet) {
		return structs.VerifiedMessage{}, InvalidSubnetError{Received: subnet, Expected: expected}
	}

	if err := checkSlotWindow(msg.Slot, s.state.HeadSlot()); err != nil {
		return structs.VerifiedMessage{}, err
	}

	root, err := msg.SigningRoot(s.config.SyncMessageDomain)
	if err != nil {
		return structs.VerifiedMessage{}, fmt.Errorf("%w: signing root: %s", ErrVerification, err.Error())
	}

	respCh := verify.NewRespC(1)
	s.ver.GetVerifyChan(verify.ResponseQueueMessage) <- verify.Request{
		Signature: msg.Signature,
		Pubkey:    pubkey,
		Msg:       root,
		Response:  respCh}
	if err := s.awaitVerification(ctx, respCh); err != nil {
		return structs.VerifiedMessage{}, err
	}

	positions, err := committee.PositionsInSubcommittee(subnet, pubkey)
	if err != nil {
		return structs.VerifiedMessage{}, fmt.Errorf("%w: subcommittee positions: %s", ErrVerification, err.Error())
	}

	// First fully verified message per (slot, validator) wins; any later one
	// is rejected with the winner's root, even a byte-identical resubmission.
	if prev, seen := s.seenMessages.Observe(msg.Slot, msg.ValidatorIndex, msg.BeaconBlockRoot); seen {
		return structs.VerifiedMessage{}, PriorMessageKnownError{
			ValidatorIndex: msg.ValidatorIndex,
			Slot:           msg.Slot,
			PrevRoot:       prev,
			NewRoot:        msg.BeaconBlockRoot,
		}
	}

	return structs.VerifiedMessage{
		Message:                 msg,
		ValidatorIndex:          msg.ValidatorIndex,
		Subnet:                  subnet,
		PositionsInSubcommittee: positions,
	}, nil
}
