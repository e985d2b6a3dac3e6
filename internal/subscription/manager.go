// Package subscription maintains live push subscriptions for contract logs.
package subscription

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/evm-event-tracker/internal/connection"
	"github.com/smartdevs17/evm-event-tracker/internal/metrics"
	"github.com/smartdevs17/evm-event-tracker/internal/models"
	"github.com/smartdevs17/evm-event-tracker/internal/normalizer"
	"github.com/smartdevs17/evm-event-tracker/pkg/utils"
)

// resubscribeDelay is the pause before re-establishing a subscription whose
// channel reported an error.
const resubscribeDelay = time.Second

// Query describes one live subscription. FromBlock nil subscribes from the
// next mined block.
type Query struct {
	Address   common.Address
	ABI       *abi.ABI
	Topics    [][]common.Hash
	FromBlock *big.Int

	// Parser overrides the default normalization when set.
	Parser models.Parser

	// Transform reshapes each delivered one-element batch when set.
	Transform models.Transform
}

// Manager opens and supervises live log subscriptions.
type Manager struct {
	client         connection.Client
	logger         *logrus.Logger
	metricsManager *metrics.Manager
}

// NewManager creates a subscription manager
func NewManager(client connection.Client) *Manager {
	return &Manager{
		client: client,
		logger: utils.GetLogger(),
	}
}

// SetMetricsManager attaches the metrics manager
func (m *Manager) SetMetricsManager(mm *metrics.Manager) {
	m.metricsManager = mm
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	quit chan struct{}
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	sub ethereum.Subscription
}

// Unsubscribe tears down the live subscription and waits for the delivery
// loop to drain.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.mu.Lock()
		if s.sub != nil {
			s.sub.Unsubscribe()
		}
		s.mu.Unlock()
		<-s.done
	})
}

func (s *Subscription) swap(sub ethereum.Subscription) {
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
}

// Subscribe opens a push subscription for the filter and delivers each
// normalized log to the callback as a one-element batch (or the transform's
// output for that batch). Logs that do not decode are skipped without
// invoking the callback. Channel errors are logged and the subscription is
// re-established; they never terminate delivery.
func (m *Manager) Subscribe(ctx context.Context, q Query, callback models.Callback) (*Subscription, error) {
	if callback == nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Subscription callback is required", "")
	}

	filterQuery := ethereum.FilterQuery{
		Topics:    q.Topics,
		FromBlock: q.FromBlock,
	}
	// Empty fields stay unset in the filter.
	if q.Address != (common.Address{}) {
		filterQuery.Addresses = []common.Address{q.Address}
	}

	logs := make(chan types.Log, 128)
	sub, err := m.client.SubscribeFilterLogs(ctx, filterQuery, logs)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeSubscription, "Failed to open log subscription", err.Error())
	}

	handle := &Subscription{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	handle.swap(sub)

	if m.metricsManager != nil {
		m.metricsManager.GetPrometheusMetrics().RecordSubscriptionOpened()
	}

	m.logger.WithFields(logrus.Fields{
		"contract":   q.Address.Hex(),
		"from_block": formatBound(q.FromBlock),
	}).Info("Live log subscription opened")

	go m.run(ctx, q, filterQuery, callback, handle, sub, logs)

	return handle, nil
}

// run is the delivery loop. It owns resubscription after channel errors.
func (m *Manager) run(ctx context.Context, q Query, filterQuery ethereum.FilterQuery, callback models.Callback, handle *Subscription, sub ethereum.Subscription, logs chan types.Log) {
	defer close(handle.done)
	defer func() {
		if m.metricsManager != nil {
			m.metricsManager.GetPrometheusMetrics().RecordSubscriptionClosed()
		}
	}()

	parse := q.Parser
	if parse == nil {
		parse = normalizer.Normalize
	}

	for {
		select {
		case <-handle.quit:
			return

		case <-ctx.Done():
			sub.Unsubscribe()
			return

		case rawLog := <-logs:
			m.deliver(q, parse, callback, rawLog)

		case err := <-sub.Err():
			if err == nil {
				// Unsubscribed from our side.
				return
			}

			m.logger.WithFields(logrus.Fields{
				"contract": q.Address.Hex(),
				"error":    err,
			}).Warn("Subscription channel error, re-establishing")
			if m.metricsManager != nil {
				m.metricsManager.GetPrometheusMetrics().RecordSubscriptionError()
			}

			next, ok := m.resubscribe(ctx, handle, filterQuery, logs)
			if !ok {
				return
			}
			sub = next
		}
	}
}

// resubscribe re-opens the subscription with the same filter until it
// succeeds or the subscription is torn down.
func (m *Manager) resubscribe(ctx context.Context, handle *Subscription, filterQuery ethereum.FilterQuery, logs chan types.Log) (ethereum.Subscription, bool) {
	for {
		select {
		case <-handle.quit:
			return nil, false
		case <-ctx.Done():
			return nil, false
		case <-time.After(resubscribeDelay):
		}

		sub, err := m.client.SubscribeFilterLogs(ctx, filterQuery, logs)
		if err != nil {
			m.logger.Warn("Resubscribe attempt failed", "error", err)
			continue
		}

		handle.swap(sub)

		// Unsubscribe may have torn down the previous subscription between
		// the quit check above and the swap; the fresh subscription would
		// leak if we kept running, so close it and stop here.
		select {
		case <-handle.quit:
			sub.Unsubscribe()
			return nil, false
		default:
		}

		if m.metricsManager != nil {
			m.metricsManager.GetPrometheusMetrics().RecordResubscribe()
		}
		m.logger.Info("Live log subscription re-established")
		return sub, true
	}
}

func (m *Manager) deliver(q Query, parse models.Parser, callback models.Callback, rawLog types.Log) {
	record, ok := parse(rawLog, q.ABI)
	if !ok {
		// A pushed log that does not decode is skipped entirely rather than
		// delivered as an empty batch.
		m.logger.WithFields(logrus.Fields{
			"contract":  q.Address.Hex(),
			"tx_hash":   rawLog.TxHash.Hex(),
			"log_index": rawLog.Index,
		}).Debug("Dropping undecodable pushed log")
		if m.metricsManager != nil {
			m.metricsManager.GetPrometheusMetrics().RecordLogDropped(q.Address.Hex())
		}
		return
	}

	if m.metricsManager != nil {
		pm := m.metricsManager.GetPrometheusMetrics()
		pm.RecordLogNormalized(q.Address.Hex(), record.Name)
		pm.RecordLogsDelivered(q.Address.Hex(), record.Name, "live", 1)
	}

	batch := []*models.NormalizedLog{record}
	if q.Transform != nil {
		callback(q.Transform(batch))
		return
	}
	callback(batch)
}

func formatBound(n *big.Int) string {
	if n == nil {
		return "latest"
	}
	return utils.FormatBlockNumber(n.Uint64())
}
