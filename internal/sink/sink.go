// Package sink optionally persists delivered log records for audit.
// Tracking state itself is never persisted; a restart re-registers events.
package sink

import (
	"context"

	"github.com/smartdevs17/evm-event-tracker/internal/config"
	"github.com/smartdevs17/evm-event-tracker/internal/models"
	"github.com/smartdevs17/evm-event-tracker/pkg/utils"
)

// Sink defines the interface for delivered-event persistence. Records are
// keyed by (tx_hash, log_index); saving a duplicate is a no-op, which
// absorbs the at-least-once overlap between backfill and live delivery.
type Sink interface {
	Connect() error
	Close() error
	Ping() error

	SaveLogs(ctx context.Context, logs []*models.NormalizedLog) error
	CountLogs(ctx context.Context) (int64, error)
}

// NewSink creates a sink for the configured backend
func NewSink(cfg *config.SinkConfig) (Sink, error) {
	switch cfg.Type {
	case "sqlite", "":
		return NewSQLiteSink(cfg), nil
	case "postgres":
		return NewPostgresSink(cfg), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Unknown sink type", cfg.Type)
	}
}
