// Package tracker orchestrates backfill and live delivery per tracked event.
package tracker

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/evm-event-tracker/internal/abicache"
	"github.com/smartdevs17/evm-event-tracker/internal/connection"
	"github.com/smartdevs17/evm-event-tracker/internal/fetcher"
	"github.com/smartdevs17/evm-event-tracker/internal/metrics"
	"github.com/smartdevs17/evm-event-tracker/internal/models"
	"github.com/smartdevs17/evm-event-tracker/internal/subscription"
	"github.com/smartdevs17/evm-event-tracker/internal/topics"
	"github.com/smartdevs17/evm-event-tracker/pkg/utils"
)

// Tracker registers event descriptors, backfills their history when asked
// and keeps a live subscription per event. The tracked set is append-only.
type Tracker struct {
	client         connection.Client
	cache          *abicache.Cache
	fetcher        *fetcher.Fetcher
	subscriptions  *subscription.Manager
	logger         *logrus.Logger
	metricsManager *metrics.Manager

	mu       sync.RWMutex
	tracked  []*models.EventDescriptor
	handles  []*subscription.Subscription
	backfill sync.WaitGroup
}

// New creates a tracker
func New(client connection.Client, cache *abicache.Cache, f *fetcher.Fetcher, subs *subscription.Manager) *Tracker {
	return &Tracker{
		client:        client,
		cache:         cache,
		fetcher:       f,
		subscriptions: subs,
		logger:        utils.GetLogger(),
	}
}

// SetMetricsManager attaches the metrics manager
func (t *Tracker) SetMetricsManager(m *metrics.Manager) {
	t.metricsManager = m
}

// TrackEvent registers a descriptor, runs its optional backfill and opens
// its live subscription. The subscription starts one block behind the
// reported head to avoid racing a block the node may not have indexed yet;
// the backfill range and the live stream therefore overlap at the boundary
// block and delivery across that seam is at-least-once.
func (t *Tracker) TrackEvent(ctx context.Context, descriptor *models.EventDescriptor) error {
	if err := validateDescriptor(descriptor); err != nil {
		return err
	}

	head, err := t.client.BlockNumber(ctx)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeBlockchain, "Failed to read chain head", err.Error())
	}

	latest := head
	if head > 0 {
		latest = head - 1
	}

	if err := t.subscribeToEvent(ctx, descriptor, latest); err != nil {
		return err
	}

	t.mu.Lock()
	t.tracked = append(t.tracked, descriptor)
	trackedCount := len(t.tracked)
	t.mu.Unlock()

	if t.metricsManager != nil {
		t.metricsManager.GetPrometheusMetrics().UpdateEventsTracked(trackedCount)
	}

	t.logger.WithFields(logrus.Fields{
		"event":    descriptor.Name,
		"contract": descriptor.Contract.Hex(),
		"latest":   latest,
	}).Info("Event tracked")

	return nil
}

// subscribeToEvent resolves the backfill range, starts the optional
// historical fetch and opens the live subscription at blockNumber.
func (t *Tracker) subscribeToEvent(ctx context.Context, descriptor *models.EventDescriptor, blockNumber uint64) error {
	contractABI, err := t.cache.GetOrCreate(descriptor.Contract, descriptor.ABI)
	if err != nil {
		return err
	}

	topicFilter, err := topics.NewDeriver(contractABI).Derive(descriptor.Name, descriptor.Params)
	if err != nil {
		return err
	}

	startBlock, hasBackfill := resolveStartBlock(descriptor, blockNumber)

	if hasBackfill {
		t.backfill.Add(1)
		go t.runBackfill(ctx, descriptor, contractABI, topicFilter, startBlock, blockNumber)
	}

	handle, err := t.subscriptions.Subscribe(ctx, subscription.Query{
		Address:   descriptor.Contract,
		ABI:       contractABI,
		Topics:    topicFilter,
		FromBlock: new(big.Int).SetUint64(blockNumber),
		Parser:    descriptor.Parser,
		Transform: descriptor.Transform,
	}, descriptor.Callback)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.handles = append(t.handles, handle)
	t.mu.Unlock()

	return nil
}

// runBackfill fetches [startBlock, toBlock] and delivers the batch through
// the descriptor's callback, firing the lifecycle hooks around the fetch.
func (t *Tracker) runBackfill(ctx context.Context, descriptor *models.EventDescriptor, contractABI *abi.ABI, topicFilter [][]common.Hash, startBlock, toBlock uint64) {
	defer t.backfill.Done()

	if descriptor.OnFetchingHistoricalEvents != nil {
		descriptor.OnFetchingHistoricalEvents()
	}

	records, err := t.fetcher.FetchLogs(ctx, fetcher.Query{
		Address:   descriptor.Contract,
		ABI:       contractABI,
		Topics:    topicFilter,
		FromBlock: new(big.Int).SetUint64(startBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Parser:    descriptor.Parser,
	})
	if err != nil {
		// Only reachable with a bounded retry policy.
		t.logger.WithFields(logrus.Fields{
			"event":    descriptor.Name,
			"contract": descriptor.Contract.Hex(),
			"error":    err,
		}).Error("Historical backfill failed")
		return
	}

	if descriptor.OnFetchedHistoricalEvents != nil {
		descriptor.OnFetchedHistoricalEvents(records)
	}

	if t.metricsManager != nil {
		t.metricsManager.GetPrometheusMetrics().
			RecordLogsDelivered(descriptor.Contract.Hex(), descriptor.Name, "historical", len(records))
	}

	if descriptor.Transform != nil {
		descriptor.Callback(descriptor.Transform(records))
		return
	}
	descriptor.Callback(records)
}

// TrackedEvents returns a snapshot of the tracked descriptors.
func (t *Tracker) TrackedEvents() []*models.EventDescriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tracked := make([]*models.EventDescriptor, len(t.tracked))
	copy(tracked, t.tracked)
	return tracked
}

// Stop tears down all live subscriptions and waits for in-flight backfills.
func (t *Tracker) Stop() {
	t.mu.Lock()
	handles := t.handles
	t.handles = nil
	t.mu.Unlock()

	for _, handle := range handles {
		handle.Unsubscribe()
	}
	t.backfill.Wait()

	t.logger.Info("Tracker stopped")
}

// resolveStartBlock resolves the effective backfill start: an explicit
// FromBlock wins, else BackFillBlockCount counts back from blockNumber.
func resolveStartBlock(descriptor *models.EventDescriptor, blockNumber uint64) (uint64, bool) {
	if descriptor.FromBlock != nil {
		return *descriptor.FromBlock, true
	}
	if descriptor.BackFillBlockCount > 0 {
		if descriptor.BackFillBlockCount >= blockNumber {
			return 0, true
		}
		return blockNumber - descriptor.BackFillBlockCount, true
	}
	return 0, false
}

func validateDescriptor(descriptor *models.EventDescriptor) error {
	if descriptor == nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Descriptor is nil", "")
	}
	if descriptor.Name == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Event name is required", "")
	}
	if descriptor.Contract == (common.Address{}) {
		return utils.NewAppError(utils.ErrCodeValidation, "Contract address is required", "")
	}
	if descriptor.ABI == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Contract ABI is required", "")
	}
	if descriptor.Callback == nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Callback is required", "")
	}
	return nil
}
