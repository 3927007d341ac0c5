package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/r3labs/sse/v2"

	"github.com/lthibault/log"

	"github.com/blocknative/syncgate/metrics"
	"github.com/blocknative/syncgate/structs"
)

var (
	ErrNodesUnavailable  = errors.New("beacon nodes are unavailable")
	ErrBeaconNodeSyncing = errors.New("beacon node is syncing")
)

// HeadEvent is emitted when subscribing to head events
type HeadEvent struct {
	Slot uint64 `json:"slot,string"`
}

func (h HeadEvent) Loggable() map[string]any {
	return map[string]any{
		"slot": h.Slot,
	}
}

// SyncStatusPayload is the response payload for /eth/v1/node/syncing
type SyncStatusPayload struct {
	Data SyncStatusPayloadData
}

type SyncStatusPayloadData struct {
	HeadSlot  uint64 `json:"head_slot,string"`
	IsSyncing bool   `json:"is_syncing"`
}

// AllValidatorsResponse is the response for querying active validators
type AllValidatorsResponse struct {
	Data []ValidatorResponseEntry
}

type ValidatorResponseEntry struct {
	Index     uint64                         `json:"index,string"` // Index of validator in validator registry.
	Status    string                         `json:"status"`
	Validator ValidatorResponseValidatorData `json:"validator"`
}

type ValidatorResponseValidatorData struct {
	Pubkey string `json:"pubkey"`
}

type GenesisResponse struct {
	Data structs.GenesisInfo
}

// SyncCommitteesResponse is the response for querying sync committee duties,
// /eth/v1/beacon/states/<state>/sync_committees
type SyncCommitteesResponse struct {
	Data SyncCommitteesResponseData
}

type SyncCommitteesResponseData struct {
	Validators []structs.ValidatorIndex `json:"validators"`
}

func (d *SyncCommitteesResponseData) UnmarshalJSON(b []byte) error {
	var raw struct {
		Validators []string `json:"validators"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.Validators = make([]structs.ValidatorIndex, len(raw.Validators))
	for i, v := range raw.Validators {
		var idx uint64
		if _, err := fmt.Sscanf(v, "%d", &idx); err != nil {
			return fmt.Errorf("invalid validator index %q: %w", v, err)
		}
		d.Validators[i] = structs.ValidatorIndex(idx)
	}
	return nil
}

type ClientError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type beaconClient struct {
	beaconEndpoint *url.URL
	log            log.Logger
	m              BeaconMetrics
}

type BeaconMetrics struct {
	Timing *prometheus.HistogramVec
}

func NewBeaconClient(l log.Logger, endpoint string) (*beaconClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}

	bc := &beaconClient{
		beaconEndpoint: u,
		log: l.With(log.F{
			"subService": "beacon-client",
			"endpoint":   u.String(),
		}),
	}
	bc.initMetrics()

	return bc, nil
}

func (b *beaconClient) SubscribeToHeadEvents(ctx context.Context, slotC chan HeadEvent) {
	logger := b.log.WithField("method", "SubscribeToHeadEvents")

	eventsURL := fmt.Sprintf("%s/eth/v1/events?topics=head", b.beaconEndpoint.String())

	go func() {
		defer logger.Debug("head events subscription stopped")

		for {
			client := sse.NewClient(eventsURL)
			err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
				var head HeadEvent
				if err := json.Unmarshal(msg.Data, &head); err != nil {
					logger.WithError(err).Debug("event subscription failed")
				}

				select {
				case <-ctx.Done():
					return
				case slotC <- head:
				}
			})

			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}

			logger.WithError(err).Debug("beacon subscription failed, restarting...")
		}
	}()
}

func (b *beaconClient) Genesis() (structs.GenesisInfo, error) {
	resp := new(GenesisResponse)
	u := *b.beaconEndpoint
	u.Path = "/eth/v1/beacon/genesis"

	t := prometheus.NewTimer(b.m.Timing.WithLabelValues("/eth/v1/beacon/genesis", "GET"))
	defer t.ObserveDuration()

	err := b.queryBeacon(&u, "GET", resp)
	return resp.Data, err
}

// SyncStatus returns the current node sync-status
// https://ethereum.github.io/beacon-APIs/#/ValidatorRequiredApi/getSyncingStatus
func (b *beaconClient) SyncStatus() (*SyncStatusPayloadData, error) {
	resp := new(SyncStatusPayload)
	u := *b.beaconEndpoint
	u.Path = "/eth/v1/node/syncing"

	t := prometheus.NewTimer(b.m.Timing.WithLabelValues("/eth/v1/node/syncing", "GET"))
	defer t.ObserveDuration()

	err := b.queryBeacon(&u, "GET", resp)
	if err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (b *beaconClient) KnownValidators(headSlot structs.Slot) (AllValidatorsResponse, error) {
	var vs AllValidatorsResponse

	u := *b.beaconEndpoint
	u.Path = fmt.Sprintf("/eth/v1/beacon/states/%d/validators", headSlot)
	q := u.Query()
	q.Add("status", "active,pending")
	u.RawQuery = q.Encode()

	t := prometheus.NewTimer(b.m.Timing.WithLabelValues("/eth/v1/beacon/states/validators", "GET"))
	defer t.ObserveDuration()

	err := b.queryBeacon(&u, "GET", &vs)
	return vs, err
}

// SyncCommittees returns the committee member indices for the first epoch of
// the given period, resolved against the head state.
// https://ethereum.github.io/beacon-APIs/#/Beacon/getEpochSyncCommittees
func (b *beaconClient) SyncCommittees(epoch structs.Epoch) (SyncCommitteesResponse, error) {
	var sc SyncCommitteesResponse

	u := *b.beaconEndpoint
	u.Path = "/eth/v1/beacon/states/head/sync_committees"
	q := u.Query()
	q.Add("epoch", fmt.Sprintf("%d", epoch))
	u.RawQuery = q.Encode()

	t := prometheus.NewTimer(b.m.Timing.WithLabelValues("/eth/v1/beacon/states/sync_committees", "GET"))
	defer t.ObserveDuration()

	err := b.queryBeacon(&u, "GET", &sc)
	return sc, err
}

func (b *beaconClient) Endpoint() string {
	return b.beaconEndpoint.String()
}

func (b *beaconClient) queryBeacon(u *url.URL, method string, dst any) error {
	req, err := http.NewRequest(method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("invalid request for %s: %w", u, err)
	}
	req.Header.Set("accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("error querying beacon %s: %w", u, err)
	}
	defer resp.Body.Close()

	if err := checkForFailure(resp.Body, resp.StatusCode); err != nil {
		return fmt.Errorf("error in beacon response %s: %w", u, err)
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("could not unmarshal response from %s: %w", u, err)
	}

	return nil
}

func checkForFailure(body io.Reader, statusCode int) error {
	if statusCode >= 404 {
		return fmt.Errorf("failure querying beacon node")
	}

	if statusCode >= 300 {
		dec := json.NewDecoder(body)

		ce := &ClientError{}
		if err := dec.Decode(ce); err != nil {
			return fmt.Errorf("error reading beacon error response: %w", err)
		}
		return fmt.Errorf("error querying beacon: %s", ce.Message)
	}
	return nil
}

func (b *beaconClient) initMetrics() {
	b.m.Timing = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "syncgate",
		Subsystem: "beacon",
		Name:      "timing",
		Help:      "Duration of beacon node queries",
	}, []string{"endpoint", "method"})
}

func (b *beaconClient) AttachMetrics(m *metrics.Metrics) {
	m.Register(b.m.Timing)
}
