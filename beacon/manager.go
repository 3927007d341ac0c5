package beacon

import (
	"context"
	"fmt"
	"time"

	"github.com/flashbots/go-boost-utils/types"
	"github.com/lthibault/log"

	bcli "github.com/blocknative/syncgate/beacon/client"
	"github.com/blocknative/syncgate/structs"
)

type BeaconClient interface {
	SubscribeToHeadEvents(ctx context.Context, slotC chan bcli.HeadEvent)
	Genesis() (structs.GenesisInfo, error)
	SyncStatus() (*bcli.SyncStatusPayloadData, error)
	KnownValidators(structs.Slot) (bcli.AllValidatorsResponse, error)
	SyncCommittees(structs.Epoch) (bcli.SyncCommitteesResponse, error)
}

type State interface {
	SetGenesis(structs.GenesisInfo)

	HeadSlot() structs.Slot
	SetHeadSlotIfHigher(structs.Slot) (structs.Slot, bool)

	KnownValidators() ValidatorsState
	SetKnownValidators(ValidatorsState)

	SyncCommittees() SyncCommitteesState
	SetSyncCommittees(SyncCommitteesState)
}

type Manager struct {
	Log log.Logger
}

func NewManager(l log.Logger) *Manager {
	return &Manager{
		Log: l.WithField("subService", "beacon-manager"),
	}
}

// Init populates the snapshot before any verification runs: genesis, the head
// slot reported by the node, the validator registry and the committees for
// the current period.
func (m *Manager) Init(ctx context.Context, state State, client BeaconClient) error {
	logger := m.Log.WithField("method", "Init")

	genesis, err := client.Genesis()
	if err != nil {
		return fmt.Errorf("fail to get genesis from beacon: %w", err)
	}
	state.SetGenesis(genesis)
	logger.
		WithField("genesis-time", time.Unix(int64(genesis.GenesisTime), 0)).
		Info("genesis retrieved")

	status, err := client.SyncStatus()
	if err != nil {
		return fmt.Errorf("fail to get sync status: %w", err)
	}
	if status.IsSyncing {
		return bcli.ErrBeaconNodeSyncing
	}
	headSlot, _ := state.SetHeadSlotIfHigher(structs.Slot(status.HeadSlot))

	if err := m.refreshKnownValidators(state, client, headSlot); err != nil {
		return fmt.Errorf("fail to fetch validators: %w", err)
	}

	return m.refreshSyncCommittees(state, client, headSlot)
}

// Run applies head events to the snapshot: head slot, registry refresh on
// epoch change and committee rotation on period change.
func (m *Manager) Run(ctx context.Context, state State, client BeaconClient) error {
	logger := m.Log.WithField("method", "RunBeacon")
	defer logger.Debug("beacon loop stopped")

	c := make(chan bcli.HeadEvent)
	client.SubscribeToHeadEvents(ctx, c)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c:
			received := structs.Slot(ev.Slot)
			prev := state.HeadSlot()
			head, ok := state.SetHeadSlotIfHigher(received)
			if !ok {
				continue
			}

			if head.Epoch() != prev.Epoch() {
				if err := m.refreshKnownValidators(state, client, head); err != nil {
					logger.With(ev).WithError(err).Error("failed to update known validators")
				}
			}

			if err := m.refreshSyncCommittees(state, client, head); err != nil {
				logger.With(ev).WithError(err).Error("failed to rotate sync committees")
			}
		}
	}
}

func (m *Manager) refreshKnownValidators(state State, client BeaconClient, head structs.Slot) error {
	resp, err := client.KnownValidators(head)
	if err != nil {
		return err
	}

	validators, err := validatorsStateFromResponse(resp)
	if err != nil {
		return err
	}
	state.SetKnownValidators(validators)

	m.Log.With(log.F{
		"method":     "RefreshKnownValidators",
		"validators": len(validators.PubkeysByIndex),
		"head":       head,
	}).Debug("validator registry updated")
	return nil
}

func (m *Manager) refreshSyncCommittees(state State, client BeaconClient, head structs.Slot) error {
	period := head.Epoch().SyncCommitteePeriod()
	if sc := state.SyncCommittees(); sc.Period == period && len(sc.Current.Pubkeys) != 0 {
		return nil
	}

	registry := state.KnownValidators()

	current, err := m.fetchCommittee(client, registry, structs.Epoch(period)*structs.EpochsPerSyncCommitteePeriod)
	if err != nil {
		return fmt.Errorf("fail to fetch sync committee for period %d: %w", period, err)
	}
	next, err := m.fetchCommittee(client, registry, structs.Epoch(period+1)*structs.EpochsPerSyncCommitteePeriod)
	if err != nil {
		return fmt.Errorf("fail to fetch sync committee for period %d: %w", period+1, err)
	}

	state.SetSyncCommittees(SyncCommitteesState{
		Period:  period,
		Current: current,
		Next:    next,
	})

	m.Log.With(log.F{
		"method": "RefreshSyncCommittees",
		"period": period,
		"head":   head,
	}).Info("sync committees rotated")
	return nil
}

// fetchCommittee resolves committee member indices for the epoch into the
// ordered pubkey sequence the verification pipeline partitions.
func (m *Manager) fetchCommittee(client BeaconClient, registry ValidatorsState, epoch structs.Epoch) (structs.SyncCommittee, error) {
	resp, err := client.SyncCommittees(epoch)
	if err != nil {
		return structs.SyncCommittee{}, err
	}

	committee := structs.SyncCommittee{Pubkeys: make([]types.PublicKey, len(resp.Data.Validators))}
	for i, index := range resp.Data.Validators {
		if uint64(index) >= uint64(len(registry.PubkeysByIndex)) {
			return structs.SyncCommittee{}, fmt.Errorf("%w: committee member %d", ErrUnknownValidatorIndex, index)
		}
		committee.Pubkeys[i] = registry.PubkeysByIndex[index]
	}
	return committee, nil
}

func validatorsStateFromResponse(resp bcli.AllValidatorsResponse) (ValidatorsState, error) {
	if len(resp.Data) == 0 {
		return ValidatorsState{}, nil
	}

	var max uint64
	for _, entry := range resp.Data {
		if entry.Index > max {
			max = entry.Index
		}
	}

	pubkeys := make([]types.PublicKey, max+1)
	for _, entry := range resp.Data {
		var pk types.PublicKey
		if err := pk.UnmarshalText([]byte(entry.Validator.Pubkey)); err != nil {
			return ValidatorsState{}, fmt.Errorf("invalid pubkey for validator %d: %w", entry.Index, err)
		}
		pubkeys[entry.Index] = pk
	}

	return ValidatorsState{PubkeysByIndex: pubkeys}, nil
}
