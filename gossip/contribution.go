package gossip

import (
	"context"
	"fmt"

	"github.com/flashbots/go-boost-utils/types"
	"github.com/lthibault/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blocknative/syncgate/structs"
	"github.com/blocknative/syncgate/verify"
)

// VerifySyncContribution runs the full admission pipeline for a signed
// contribution-and-proof. The check order is fixed: timeliness and structural
// checks, then the three signatures (outer envelope, selection proof,
// aggregate), then aggregator membership and eligibility, and dedup last so
// rejected input never pollutes the dedup state.
func (s *Service) VerifySyncContribution(ctx context.Context, signed structs.SignedContributionAndProof) (structs.VerifiedContribution, error) {
	if signed.Message == nil || signed.Message.Contribution == nil {
		return structs.VerifiedContribution{}, fmt.Errorf("%w: %s", ErrVerification, ErrNilContribution.Error())
	}

	logger := s.l.With(log.F{
		"slot":         signed.Message.Contribution.Slot,
		"aggregator":   signed.Message.AggregatorIndex,
		"subcommittee": signed.Message.Contribution.SubcommitteeIndex,
	})
	timer := prometheus.NewTimer(s.m.VerifyTiming.WithLabelValues("contribution"))
	defer timer.ObserveDuration()

	vc, err := s.verifySyncContribution(ctx, signed)
	if err != nil {
		s.m.Rejected.WithLabelValues("contribution", rejectionReason(err)).Inc()
		logger.WithError(err).Debug("sync contribution rejected")
		return structs.VerifiedContribution{}, err
	}

	s.m.Accepted.WithLabelValues("contribution").Inc()
	logger.Debug("sync contribution accepted")
	return vc, nil
}

func (s *Service) verifySyncContribution(ctx context.Context, signed structs.SignedContributionAndProof) (structs.VerifiedContribution, error) {
	message := signed.Message
	contribution := message.Contribution

	if err := checkSlotWindow(contribution.Slot, s.state.HeadSlot()); err != nil {
		return structs.VerifiedContribution{}, err
	}

	if contribution.SubcommitteeIndex >= structs.SyncCommitteeSubnetCount {
		return structs.VerifiedContribution{}, InvalidSubcommitteeError{
			SubcommitteeIndex: contribution.SubcommitteeIndex,
			SubcommitteeCount: structs.SyncCommitteeSubnetCount,
		}
	}

	if contribution.AggregationBits.Count() == 0 {
		return structs.VerifiedContribution{}, ErrEmptyAggregationBitfield
	}

	if uint64(message.AggregatorIndex) >= structs.ValidatorRegistryLimit {
		return structs.VerifiedContribution{}, UnknownValidatorIndexError{Index: message.AggregatorIndex}
	}
	aggregatorPubkey, err := s.state.Pubkey(message.AggregatorIndex)
	if err != nil {
		return structs.VerifiedContribution{}, UnknownValidatorIndexError{Index: message.AggregatorIndex}
	}

	// Outer envelope: the aggregator signs the whole ContributionAndProof.
	outerRoot, err := message.SigningRoot(s.config.ContributionAndProofDomain)
	if err != nil {
		return structs.VerifiedContribution{}, fmt.Errorf("%w: contribution and proof signing root: %s", ErrVerification, err.Error())
	}

	// Selection proof: the aggregator's signature over (slot, subcommittee),
	// doubling as the aggregator-election lottery ticket checked below.
	selectionData := structs.SyncAggregatorSelectionData{
		Slot:              contribution.Slot,
		SubcommitteeIndex: contribution.SubcommitteeIndex,
	}
	selectionRoot, err := selectionData.SigningRoot(s.config.SelectionProofDomain)
	if err != nil {
		return structs.VerifiedContribution{}, fmt.Errorf("%w: selection data signing root: %s", ErrVerification, err.Error())
	}

	// Aggregate: the participants' combined signature over the block root.
	committee, err := s.state.SyncCommitteeForSlot(contribution.Slot)
	if err != nil {
		return structs.VerifiedContribution{}, fmt.Errorf("%w: resolve committee for slot %d: %s", ErrVerification, contribution.Slot, err.Error())
	}
	subcommittee, err := committee.SubcommitteePubkeys(structs.SyncSubnetID(contribution.SubcommitteeIndex))
	if err != nil {
		return structs.VerifiedContribution{}, fmt.Errorf("%w: subcommittee pubkeys: %s", ErrVerification, err.Error())
	}

	participants := make([][]byte, 0, contribution.AggregationBits.Count())
	for i, pk := range subcommittee {
		if contribution.AggregationBits.BitAt(uint64(i)) {
			pk := pk
			participants = append(participants, pk[:])
		}
	}
	aggregatePubkey, err := verify.AggregatePublicKeysBytes(participants)
	if err != nil {
		return structs.VerifiedContribution{}, fmt.Errorf("%w: aggregate pubkeys: %s", ErrVerification, err.Error())
	}
	aggregateRoot, err := structs.SigningRoot(contribution.BeaconBlockRoot, s.config.SyncMessageDomain)
	if err != nil {
		return structs.VerifiedContribution{}, fmt.Errorf("%w: aggregate signing root: %s", ErrVerification, err.Error())
	}

	// The three checks share one response channel; the first failure closes it
	// and skips whatever is still queued.
	respCh := verify.NewRespC(3)
	s.ver.GetVerifyChan(verify.ResponseQueueContribution) <- verify.Request{
		Signature: signed.Signature,
		Pubkey:    aggregatorPubkey,
		Msg:       outerRoot,
		ID:        0,
		Response:  respCh}
	s.ver.GetVerifyChan(verify.ResponseQueueOther) <- verify.Request{
		Signature: message.SelectionProof,
		Pubkey:    aggregatorPubkey,
		Msg:       selectionRoot,
		ID:        1,
		Response:  respCh}
	s.ver.GetVerifyChan(verify.ResponseQueueContribution) <- verify.Request{
		Signature: contribution.Signature,
		Pubkey:    aggregatePubkey,
		Msg:       aggregateRoot,
		ID:        2,
		Response:  respCh}
	if err := s.awaitVerification(ctx, respCh); err != nil {
		return structs.VerifiedContribution{}, err
	}

	if !memberOf(subcommittee, aggregatorPubkey) {
		return structs.VerifiedContribution{}, AggregatorNotInCommitteeError{AggregatorIndex: message.AggregatorIndex}
	}

	if !verify.IsAggregator(message.SelectionProof[:]) {
		return structs.VerifiedContribution{}, InvalidSelectionProofError{AggregatorIndex: message.AggregatorIndex}
	}

	// Dedup, in two steps. Content first: a contribution whose bit-set adds no
	// information over an already-seen one for the same (slot, root,
	// subcommittee) is dropped. The bit-set is recorded even when the
	// aggregator check below rejects, matching the first-writer semantics of
	// the aggregator cache.
	contentHash, err := contributionContentHash(contribution)
	if err != nil {
		return structs.VerifiedContribution{}, fmt.Errorf("%w: content hash: %s", ErrVerification, err.Error())
	}
	if s.seenContributions.Observe(contentHash, contribution.Slot, contribution.AggregationBits) {
		return structs.VerifiedContribution{}, SupersetKnownError{Hash: contentHash}
	}

	if s.seenAggregators.Observe(contribution.Slot, structs.SyncSubnetID(contribution.SubcommitteeIndex), message.AggregatorIndex) {
		return structs.VerifiedContribution{}, AggregatorAlreadyKnownError{
			AggregatorIndex:   message.AggregatorIndex,
			Slot:              contribution.Slot,
			SubcommitteeIndex: structs.SyncSubnetID(contribution.SubcommitteeIndex),
		}
	}

	return structs.VerifiedContribution{
		Contribution:    signed,
		AggregatorIndex: message.AggregatorIndex,
	}, nil
}

func contributionContentHash(c *structs.SyncCommitteeContribution) ([32]byte, error) {
	data := structs.SyncCommitteeData{
		Slot:              c.Slot,
		Root:              c.BeaconBlockRoot,
		SubcommitteeIndex: c.SubcommitteeIndex,
	}
	return data.HashTreeRoot()
}

func memberOf(pubkeys []types.PublicKey, pk types.PublicKey) bool {
	for _, p := range pubkeys {
		if p == pk {
			return true
		}
	}
	return false
}
