package client

import (
	"context"
	"sync"

	"github.com/lthibault/log"
	uberatomic "go.uber.org/atomic"

	"github.com/blocknative/syncgate/structs"
)

type BeaconNode interface {
	SubscribeToHeadEvents(ctx context.Context, slotC chan HeadEvent)
	Genesis() (structs.GenesisInfo, error)
	SyncStatus() (*SyncStatusPayloadData, error)
	KnownValidators(structs.Slot) (AllValidatorsResponse, error)
	SyncCommittees(structs.Epoch) (SyncCommitteesResponse, error)
	Endpoint() string
}

// MultiBeaconClient fans subscriptions out to every node and serves queries
// from the node that answered most recently, falling through the rest.
type MultiBeaconClient struct {
	Log     log.Logger
	Clients []BeaconNode

	bestBeaconIndex uberatomic.Int64
}

func NewMultiBeaconClient(l log.Logger, clients []BeaconNode) *MultiBeaconClient {
	if l == nil {
		l = log.New()
	}
	return &MultiBeaconClient{Log: l.WithField("service", "multi-beacon client"), Clients: clients}
}

func (b *MultiBeaconClient) SubscribeToHeadEvents(ctx context.Context, slotC chan HeadEvent) {
	for _, client := range b.Clients {
		client.SubscribeToHeadEvents(ctx, slotC)
	}
}

func (b *MultiBeaconClient) Genesis() (genesisInfo structs.GenesisInfo, err error) {
	for _, client := range b.clientsByLastResponse() {
		if genesisInfo, err = client.Genesis(); err != nil {
			b.Log.WithError(err).
				WithField("endpoint", client.Endpoint()).
				Warn("failed to get genesis info")
			continue
		}

		return genesisInfo, nil
	}

	return genesisInfo, err
}

// SyncStatus checks every node concurrently and prefers a synced one.
func (b *MultiBeaconClient) SyncStatus() (*SyncStatusPayloadData, error) {
	var bestSyncStatus *SyncStatusPayloadData
	var foundSyncedNode bool

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, instance := range b.Clients {
		wg.Add(1)
		go func(client BeaconNode) {
			defer wg.Done()
			logger := b.Log.WithField("endpoint", client.Endpoint())

			syncStatus, err := client.SyncStatus()
			if err != nil {
				logger.WithError(err).Error("failed to get sync status")
				return
			}

			mu.Lock()
			defer mu.Unlock()

			if foundSyncedNode {
				return
			}

			if bestSyncStatus == nil {
				bestSyncStatus = syncStatus
			}

			if !syncStatus.IsSyncing {
				bestSyncStatus = syncStatus
				foundSyncedNode = true
			}
		}(instance)
	}

	wg.Wait()

	if bestSyncStatus == nil {
		return nil, ErrNodesUnavailable
	}

	if !foundSyncedNode {
		return nil, ErrBeaconNodeSyncing
	}

	return bestSyncStatus, nil
}

func (b *MultiBeaconClient) KnownValidators(headSlot structs.Slot) (AllValidatorsResponse, error) {
	clients := b.clientsByLastResponse()

	for i, client := range clients {
		logger := b.Log.WithField("endpoint", client.Endpoint())

		validators, err := client.KnownValidators(headSlot)
		if err != nil {
			logger.WithError(err).Error("failed to fetch validators")
			continue
		}
		b.bestBeaconIndex.Store(int64(i))

		return validators, nil
	}

	return AllValidatorsResponse{}, ErrNodesUnavailable
}

func (b *MultiBeaconClient) SyncCommittees(epoch structs.Epoch) (SyncCommitteesResponse, error) {
	clients := b.clientsByLastResponse()

	for i, client := range clients {
		logger := b.Log.WithField("endpoint", client.Endpoint())

		sc, err := client.SyncCommittees(epoch)
		if err != nil {
			logger.WithError(err).Error("failed to fetch sync committees")
			continue
		}
		b.bestBeaconIndex.Store(int64(i))

		return sc, nil
	}

	return SyncCommitteesResponse{}, ErrNodesUnavailable
}

func (b *MultiBeaconClient) Endpoint() string {
	if clients := b.clientsByLastResponse(); len(clients) > 0 {
		return clients[0].Endpoint()
	}
	return ""
}

// clientsByLastResponse returns the beacon nodes with the last successfully
// responding one first.
func (b *MultiBeaconClient) clientsByLastResponse() []BeaconNode {
	index := b.bestBeaconIndex.Load()
	if index == 0 {
		return b.Clients
	}

	instances := make([]BeaconNode, len(b.Clients))
	copy(instances, b.Clients)
	instances[0], instances[index] = instances[index], instances[0]

	return instances
}
