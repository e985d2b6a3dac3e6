// File: internal/sink/postgres.go
package sink

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/evm-event-tracker/internal/config"
	"github.com/smartdevs17/evm-event-tracker/internal/models"
	"github.com/smartdevs17/evm-event-tracker/pkg/utils"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS delivered_logs (
	tx_hash      TEXT NOT NULL,
	log_index    BIGINT NOT NULL,
	address      TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	tx_index     BIGINT NOT NULL,
	name         TEXT NOT NULL,
	signature    TEXT NOT NULL,
	topic        TEXT NOT NULL,
	data         TEXT NOT NULL,
	removed      BOOLEAN NOT NULL DEFAULT FALSE,
	event_values JSONB NOT NULL,
	created_at   TIMESTAMPTZ DEFAULT NOW(),
	PRIMARY KEY (tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS idx_delivered_logs_address ON delivered_logs(address);
CREATE INDEX IF NOT EXISTS idx_delivered_logs_block ON delivered_logs(block_number);
`

// PostgresSink implements Sink using PostgreSQL
type PostgresSink struct {
	db     *sql.DB
	config *config.SinkConfig
	logger *logrus.Logger
}

// NewPostgresSink creates a new PostgreSQL sink instance
func NewPostgresSink(cfg *config.SinkConfig) *PostgresSink {
	return &PostgresSink{
		config: cfg,
		logger: utils.GetLogger(),
	}
}

// Connect opens the database and applies the schema
func (s *PostgresSink) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeSink, "Failed to open PostgreSQL database", err.Error())
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeSink, "Failed to reach PostgreSQL database", err.Error())
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeSink, "Failed to apply sink schema", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL sink connected")
	return nil
}

// Close closes the database
func (s *PostgresSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection
func (s *PostgresSink) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeSink, "Sink not connected", "")
	}
	return s.db.Ping()
}

// SaveLogs persists a batch; duplicates by (tx_hash, log_index) are ignored
func (s *PostgresSink) SaveLogs(ctx context.Context, logs []*models.NormalizedLog) error {
	if len(logs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeSink, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO delivered_logs
		(tx_hash, log_index, address, block_number, tx_index, name, signature, topic, data, removed, event_values)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeSink, "Failed to prepare insert", err.Error())
	}
	defer stmt.Close()

	for _, record := range logs {
		values, err := json.Marshal(record.Values)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeSink, "Failed to encode values", err.Error())
		}

		if _, err := stmt.ExecContext(ctx,
			record.TxHash, record.LogIndex, record.Address, record.BlockNumber,
			record.TxIndex, record.Name, record.Signature, record.Topic,
			record.Data, record.Removed, string(values)); err != nil {
			return utils.NewAppError(utils.ErrCodeSink, "Failed to insert log", err.Error())
		}
	}

	return tx.Commit()
}

// CountLogs returns the number of persisted records
func (s *PostgresSink) CountLogs(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivered_logs`).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeSink, "Failed to count logs", err.Error())
	}
	return count, nil
}
