package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/aranet-archive/internal/models"
)

// Store defines the interface for archive storage
type Store interface {
	Close() error
	Migrate() error
	InsertBatch(device string, records []models.ArchiveRecord) (int64, error)
	GetRecordsInRange(device string, start, end time.Time, limit int) ([]models.ArchiveRecord, error)
	GetLatestRecord(device string) (*models.ArchiveRecord, error)
	GetDeviceNames() ([]string, error)
	DeleteOlderThan(days int) (int64, error)
	GetStorageStats() (*StorageStats, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps every archived record, one row per device and timestamp
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalRecords   int64     `json:"total_records"`
	OldestRecord   time.Time `json:"oldest_record,omitempty"`
	NewestRecord   time.Time `json:"newest_record,omitempty"`
	UniqueDevices  int       `json:"unique_devices"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// NewSQLiteStore opens (or creates) the archive database at dbPath
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := NewSQLiteStoreWithDB(db, logger)
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")
	return store, nil
}

// NewSQLiteStoreWithDB wraps an already open database without migrating it
func NewSQLiteStoreWithDB(db *sql.DB, logger zerolog.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: logger,
	}
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS archive_records (
		device TEXT NOT NULL,
		ts INTEGER NOT NULL,
		temperature REAL NOT NULL,
		humidity REAL NOT NULL,
		pressure REAL NOT NULL,
		co2 REAL NOT NULL,
		archived_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (device, ts)
	);

	CREATE INDEX IF NOT EXISTS idx_archive_records_ts ON archive_records(ts DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

const insertRecord = `INSERT OR IGNORE INTO archive_records (device, ts, temperature, humidity, pressure, co2) VALUES (?, ?, ?, ?, ?, ?)`

// InsertBatch stores records for device in a single transaction. Records
// already archived are skipped; the number of new rows is returned.
func (s *SQLiteStore) InsertBatch(device string, records []models.ArchiveRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertRecord)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, r := range records {
		res, err := stmt.Exec(device, r.Timestamp, r.Temperature, r.Humidity, r.Pressure, r.CO2)
		if err != nil {
			return 0, fmt.Errorf("failed to insert record in batch: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().
		Str("device", device).
		Int("count", len(records)).
		Int64("inserted", inserted).
		Msg("Batch insert completed")
	return inserted, nil
}

// GetRecordsInRange returns records of device within [start, end], oldest
// first. An empty device matches every device.
func (s *SQLiteStore) GetRecordsInRange(device string, start, end time.Time, limit int) ([]models.ArchiveRecord, error) {
	query := `
		SELECT ts, temperature, humidity, pressure, co2
		FROM archive_records
		WHERE ts BETWEEN ? AND ?`
	args := []any{start.Unix(), end.Unix()}

	if device != "" {
		query += ` AND device = ?`
		args = append(args, device)
	}
	query += ` ORDER BY ts ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []models.ArchiveRecord
	for rows.Next() {
		var r models.ArchiveRecord
		if err := rows.Scan(&r.Timestamp, &r.Temperature, &r.Humidity, &r.Pressure, &r.CO2); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// GetLatestRecord returns the newest record of device, or nil if none
func (s *SQLiteStore) GetLatestRecord(device string) (*models.ArchiveRecord, error) {
	query := `
		SELECT ts, temperature, humidity, pressure, co2
		FROM archive_records
		WHERE device = ?
		ORDER BY ts DESC
		LIMIT 1
	`

	var r models.ArchiveRecord
	err := s.db.QueryRow(query, device).Scan(&r.Timestamp, &r.Temperature, &r.Humidity, &r.Pressure, &r.CO2)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest record: %w", err)
	}

	return &r, nil
}

// GetDeviceNames returns every device with archived records
func (s *SQLiteStore) GetDeviceNames() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT device FROM archive_records ORDER BY device")
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan device name: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return names, nil
}

// DeleteOlderThan removes records whose sample time is more than days old
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := s.db.Exec("DELETE FROM archive_records WHERE ts < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old records")

	return deleted, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM archive_records").Scan(&stats.TotalRecords); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	if stats.TotalRecords == 0 {
		return stats, nil
	}

	var oldest, newest int64
	err := s.db.QueryRow("SELECT MIN(ts), MAX(ts) FROM archive_records").Scan(&oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to get timestamp range: %w", err)
	}
	stats.OldestRecord = time.Unix(oldest, 0).UTC()
	stats.NewestRecord = time.Unix(newest, 0).UTC()

	err = s.db.QueryRow("SELECT COUNT(DISTINCT device) FROM archive_records").Scan(&stats.UniqueDevices)
	if err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}
