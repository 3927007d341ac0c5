package gossip

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blocknative/syncgate/metrics"
)

type ServiceMetrics struct {
	Accepted     *prometheus.CounterVec
	Rejected     *prometheus.CounterVec
	VerifyTiming *prometheus.HistogramVec
}

func (s *Service) initMetrics() {
	s.m.Accepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncgate",
		Subsystem: "gossip",
		Name:      "accepted",
		Help:      "Number of accepted items by type",
	}, []string{"type"})

	s.m.Rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncgate",
		Subsystem: "gossip",
		Name:      "rejected",
		Help:      "Number of rejected items by type and reason",
	}, []string{"type", "reason"})

	s.m.VerifyTiming = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "syncgate",
		Subsystem: "gossip",
		Name:      "verifyTiming",
		Help:      "Duration of gossip verification by type",
	}, []string{"type"})
}

func (s *Service) AttachMetrics(m *metrics.Metrics) {
	m.Register(s.m.Accepted)
	m.Register(s.m.Rejected)
	m.Register(s.m.VerifyTiming)
}

// rejectionReason flattens a taxonomy error into a bounded metric label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrEmptyAggregationBitfield):
		return "empty_aggregation_bitfield"
	case errors.As(err, new(FutureSlotError)):
		return "future_slot"
	case errors.As(err, new(PastSlotError)):
		return "past_slot"
	case errors.As(err, new(InvalidSubnetError)):
		return "invalid_subnet"
	case errors.As(err, new(InvalidSubcommitteeError)):
		return "invalid_subcommittee"
	case errors.As(err, new(UnknownValidatorIndexError)):
		return "unknown_validator_index"
	case errors.As(err, new(AggregatorNotInCommitteeError)):
		return "aggregator_not_in_committee"
	case errors.As(err, new(InvalidSelectionProofError)):
		return "invalid_selection_proof"
	case errors.As(err, new(SupersetKnownError)):
		return "superset_known"
	case errors.As(err, new(AggregatorAlreadyKnownError)):
		return "aggregator_already_known"
	case errors.As(err, new(PriorMessageKnownError)):
		return "prior_message_known"
	default:
		return "internal"
	}
}
