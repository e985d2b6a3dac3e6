// Package fetcher retrieves historical contract logs with retry on
// not-ready-yet nodes.
package fetcher

import (
	"context"
	"math/big"
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
	"github.com/smartdevs17/evm-event-tracker/internal/retry"
	"github.com/smartdevs17/evm-event-tracker/pkg/utils"
)

// Query describes one historical log fetch. Nil block bounds mean "latest";
// the transport encodes set bounds as canonical minimal hex on the wire.
type Query struct {
	Address   common.Address
	ABI       *abi.ABI
	Topics    [][]common.Hash
	FromBlock *big.Int
	ToBlock   *big.Int

	// Parser overrides the default normalization when set.
	Parser models.Parser
}

// Fetcher executes historical log queries against the node transport.
type Fetcher struct {
	client         connection.Client
	policy         retry.Policy
	logger         *logrus.Logger
	metricsManager *metrics.Manager
}

// New creates a fetcher with the given retry policy. The zero policy retries
// forever at a fixed 1 second interval; that unbounded behavior is deliberate
// for nodes whose very recent blocks are not yet queryable, and callers that
// need a bound set Policy.MaxAttempts.
func New(client connection.Client, policy retry.Policy) *Fetcher {
	return &Fetcher{
		client: client,
		policy: policy,
		logger: utils.GetLogger(),
	}
}

// SetMetricsManager attaches the metrics manager
func (f *Fetcher) SetMetricsManager(m *metrics.Manager) {
	f.metricsManager = m
}

// FetchLogs queries the block range and normalizes the batch, dropping logs
// that do not decode. Every transport failure is treated as transient
// ("logs not ready") and the identical query is retried per the policy.
func (f *Fetcher) FetchLogs(ctx context.Context, q Query) ([]*models.NormalizedLog, error) {
	filterQuery := ethereum.FilterQuery{
		Addresses: []common.Address{q.Address},
		Topics:    q.Topics,
		FromBlock: q.FromBlock,
		ToBlock:   q.ToBlock,
	}

	start := time.Now()

	var rawLogs []types.Log
	err := retry.Do(ctx, f.policy, func(ctx context.Context) error {
		logs, err := f.client.FilterLogs(ctx, filterQuery)
		if err != nil {
			return err
		}
		rawLogs = logs
		return nil
	}, func(attempt int, err error) {
		f.logger.WithFields(logrus.Fields{
			"contract":   q.Address.Hex(),
			"from_block": formatBound(q.FromBlock),
			"to_block":   formatBound(q.ToBlock),
			"attempt":    attempt,
			"error":      err,
		}).Info("Logs not ready, retrying")
		if f.metricsManager != nil {
			f.metricsManager.GetPrometheusMetrics().RecordFetchRetry()
		}
	})
	if err != nil {
		if f.metricsManager != nil {
			f.metricsManager.GetPrometheusMetrics().RecordFetch(q.Address.Hex(), "error", time.Since(start))
		}
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Historical log fetch failed", err.Error())
	}

	parse := q.Parser
	if parse == nil {
		parse = normalizer.Normalize
	}

	records := make([]*models.NormalizedLog, 0, len(rawLogs))
	for _, rawLog := range rawLogs {
		record, ok := parse(rawLog, q.ABI)
		if !ok {
			// Expected for unrelated logs colliding on a shared topic.
			if f.metricsManager != nil {
				f.metricsManager.GetPrometheusMetrics().RecordLogDropped(q.Address.Hex())
			}
			continue
		}
		if f.metricsManager != nil {
			f.metricsManager.GetPrometheusMetrics().RecordLogNormalized(q.Address.Hex(), record.Name)
		}
		records = append(records, record)
	}

	if f.metricsManager != nil {
		pm := f.metricsManager.GetPrometheusMetrics()
		pm.RecordLogsFetched(q.Address.Hex(), len(rawLogs))
		pm.RecordFetch(q.Address.Hex(), "success", time.Since(start))
	}

	f.logger.WithFields(logrus.Fields{
		"contract":   q.Address.Hex(),
		"from_block": formatBound(q.FromBlock),
		"to_block":   formatBound(q.ToBlock),
		"fetched":    len(rawLogs),
		"normalized": len(records),
	}).Debug("Historical logs fetched")

	return records, nil
}

// FetchLogsTransformed fetches and applies the transform to the normalized
// batch before returning.
func (f *Fetcher) FetchLogsTransformed(ctx context.Context, q Query, transform models.Transform) (interface{}, error) {
	records, err := f.FetchLogs(ctx, q)
	if err != nil {
		return nil, err
	}
	if transform == nil {
		return records, nil
	}
	return transform(records), nil
}

func formatBound(n *big.Int) string {
	if n == nil {
		return "latest"
	}
	return utils.FormatBlockNumber(n.Uint64())
}
