// File: internal/sink/sqlite.go
package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/smartdevs17/evm-event-tracker/internal/config"
	"github.com/smartdevs17/evm-event-tracker/internal/models"
	"github.com/smartdevs17/evm-event-tracker/pkg/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS delivered_logs (
	tx_hash      TEXT NOT NULL,
	log_index    INTEGER NOT NULL,
	address      TEXT NOT NULL,
	block_number INTEGER NOT NULL,
	tx_index     INTEGER NOT NULL,
	name         TEXT NOT NULL,
	signature    TEXT NOT NULL,
	topic        TEXT NOT NULL,
	data         TEXT NOT NULL,
	removed      INTEGER NOT NULL DEFAULT 0,
	event_values TEXT NOT NULL,
	created_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS idx_delivered_logs_address ON delivered_logs(address);
CREATE INDEX IF NOT EXISTS idx_delivered_logs_block ON delivered_logs(block_number);
`

// SQLiteSink implements Sink using SQLite
type SQLiteSink struct {
	db     *sql.DB
	config *config.SinkConfig
	logger *logrus.Logger
}

// NewSQLiteSink creates a new SQLite sink instance
func NewSQLiteSink(cfg *config.SinkConfig) *SQLiteSink {
	return &SQLiteSink{
		config: cfg,
		logger: utils.GetLogger(),
	}
}

// Connect opens the database and applies the schema
func (s *SQLiteSink) Connect() error {
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeSink, "Failed to create sink directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeSink, "Failed to open SQLite database", err.Error())
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeSink, "Failed to apply sink schema", err.Error())
	}

	s.db = db
	s.logger.Info("SQLite sink connected", "path", s.config.ConnectionString)
	return nil
}

// Close closes the database
func (s *SQLiteSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteSink) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeSink, "Sink not connected", "")
	}
	return s.db.Ping()
}

// SaveLogs persists a batch; duplicates by (tx_hash, log_index) are ignored
func (s *SQLiteSink) SaveLogs(ctx context.Context, logs []*models.NormalizedLog) error {
	if len(logs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeSink, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO delivered_logs
		(tx_hash, log_index, address, block_number, tx_index, name, signature, topic, data, removed, event_values)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
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
func (s *SQLiteSink) CountLogs(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivered_logs`).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeSink, "Failed to count logs", err.Error())
	}
	return count, nil
}
