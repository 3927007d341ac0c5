package gossip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flashbots/go-boost-utils/types"
	"github.com/lthibault/log"

	"github.com/blocknative/syncgate/structs"
	"github.com/blocknative/syncgate/verify"
)

// DefaultObservedEntriesPerShard bounds each dedup cache shard. A full sync
// committee produces at most 512 messages per slot, so the default leaves
// ample room across the two-slot admission window.
const DefaultObservedEntriesPerShard = 2048

type State interface {
	HeadSlot() structs.Slot
	Pubkey(structs.ValidatorIndex) (types.PublicKey, error)
	SyncCommitteeForSlot(structs.Slot) (structs.SyncCommittee, error)
}

type Verifier interface {
	GetVerifyChan(stack uint) chan verify.Request
}

type Config struct {
	// Domains are precomputed at startup from the fork version and genesis
	// validators root; verification never derives them per message.
	SyncMessageDomain          types.Domain
	SelectionProofDomain       types.Domain
	ContributionAndProofDomain types.Domain

	ObservedEntriesPerShard int
}

// Service is the gossip admission layer: it decides, per message and per
// contribution, accept or reject with a typed reason. All methods are safe for
// concurrent use.
type Service struct {
	config Config

	l     log.Logger
	state State
	ver   Verifier

	seenMessages      *ObservedMessages
	seenAggregators   *ObservedAggregators
	seenContributions *ObservedContributions

	m ServiceMetrics
}

func NewService(l log.Logger, config Config, state State, ver Verifier) (*Service, error) {
	perShard := config.ObservedEntriesPerShard
	if perShard <= 0 {
		perShard = DefaultObservedEntriesPerShard
	}

	seenMessages, err := NewObservedMessages(perShard)
	if err != nil {
		return nil, err
	}
	seenAggregators, err := NewObservedAggregators(perShard)
	if err != nil {
		return nil, err
	}

	s := &Service{
		config: config,

		l:     l.WithField("subService", "gossip"),
		state: state,
		ver:   ver,

		seenMessages:      seenMessages,
		seenAggregators:   seenAggregators,
		seenContributions: NewObservedContributions(),
	}
	s.initMetrics()
	return s, nil
}

// awaitVerification blocks until every signature check queued against the
// response channel is adjudicated, or the context ends first. A nil return
// means all of them verified.
func (s *Service) awaitVerification(ctx context.Context, respCh *verify.StoreResp) error {
	select {
	case <-respCh.Done():
	case <-ctx.Done():
		respCh.Close(0, ctx.Err())
	}

	if err := respCh.Error(); err != nil {
		if errors.Is(err, verify.ErrInvalidSignature) {
			return ErrInvalidSignature
		}
		return fmt.Errorf("%w: %s", ErrVerification, err.Error())
	}
	return nil
}

// checkSlotWindow admits slots within [head-GossipClockDisparitySlots, head].
func checkSlotWindow(msgSlot, head structs.Slot) error {
	if msgSlot > head {
		return FutureSlotError{
			MessageSlot:           msgSlot,
			LatestPermissibleSlot: head,
		}
	}

	var earliest structs.Slot
	if head > structs.GossipClockDisparitySlots {
		earliest = head - structs.GossipClockDisparitySlots
	}
	if msgSlot < earliest {
		return PastSlotError{
			MessageSlot:             msgSlot,
			EarliestPermissibleSlot: earliest,
		}
	}
	return nil
}

// Prune drops dedup state that fell out of the admission window.
func (s *Service) Prune(head structs.Slot) {
	s.seenMessages.Prune(head)
	s.seenAggregators.Prune(head)
	s.seenContributions.Prune(head)
}

// RunPrune prunes the dedup caches once per slot until the context is done.
func (s *Service) RunPrune(ctx context.Context) {
	ticker := time.NewTicker(structs.DurationPerSlot)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Prune(s.state.HeadSlot())
		}
	}
}
