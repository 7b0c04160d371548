package storage

import (
	"sync"
	"time"

	"github.com/afroash/aranet-archive/internal/models"
	"github.com/rs/zerolog"
)

type entry struct {
	device string
	record models.ArchiveRecord
}

// DBWriter handles async batched writes to the database
type DBWriter struct {
	store       Store
	logger      zerolog.Logger
	writeChan   chan entry
	batchSize   int
	flushPeriod time.Duration
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// Stats
	mu            sync.RWMutex
	totalQueued   int64
	totalWritten  int64
	totalBatches  int64
	totalErrors   int64
	lastWriteTime time.Time
}

// DBWriterConfig holds configuration for the async writer
type DBWriterConfig struct {
	BatchSize   int           // Number of records to batch before writing (default: 500)
	FlushPeriod time.Duration // Max time between flushes (default: 5s)
	ChannelSize int           // Size of the write channel buffer (default: 10000)
}

// DefaultDBWriterConfig returns sensible defaults
func DefaultDBWriterConfig() DBWriterConfig {
	return DBWriterConfig{
		BatchSize:   500,
		FlushPeriod: 5 * time.Second,
		ChannelSize: 10000,
	}
}

// DBWriterStats contains statistics about the writer
type DBWriterStats struct {
	TotalQueued   int64     `json:"total_queued"`
	TotalWritten  int64     `json:"total_written"`
	TotalBatches  int64     `json:"total_batches"`
	TotalErrors   int64     `json:"total_errors"`
	LastWriteTime time.Time `json:"last_write_time,omitempty"`
	QueueLength   int       `json:"queue_length"`
}

// NewDBWriter creates a new async database writer
func NewDBWriter(store Store, config DBWriterConfig, logger zerolog.Logger) *DBWriter {
	w := &DBWriter{
		store:       store,
		logger:      logger,
		writeChan:   make(chan entry, config.ChannelSize),
		batchSize:   config.BatchSize,
		flushPeriod: config.FlushPeriod,
		stopChan:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writerLoop()

	logger.Info().
		Int("batch_size", config.BatchSize).
		Dur("flush_period", config.FlushPeriod).
		Int("channel_size", config.ChannelSize).
		Msg("DBWriter started")

	return w
}

// Write queues a record for async writing to the database
// Returns true if queued, false if dropped (channel full)
func (w *DBWriter) Write(device string, record models.ArchiveRecord) bool {
	select {
	case w.writeChan <- entry{device: device, record: record}:
		w.mu.Lock()
		w.totalQueued++
		w.mu.Unlock()
		return true
	default:
		w.logger.Warn().Str("device", device).Msg("DBWriter channel full, dropping record")
		return false
	}
}

// WriteAll queues every record and returns how many were accepted
func (w *DBWriter) WriteAll(device string, records []models.ArchiveRecord) int {
	queued := 0
	for _, r := range records {
		if w.Write(device, r) {
			queued++
		}
	}
	return queued
}

// writerLoop is the background goroutine that batches and writes records
func (w *DBWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]entry, 0, w.batchSize)
	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case e := <-w.writeChan:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = make([]entry, 0, w.batchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = make([]entry, 0, w.batchSize)
			}

		case <-w.stopChan:
			draining := true
			for draining {
				select {
				case e := <-w.writeChan:
					batch = append(batch, e)
				default:
					draining = false
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			w.logger.Info().Msg("DBWriter stopped")
			return
		}
	}
}

// flush writes a batch to the database, one transaction per device
func (w *DBWriter) flush(batch []entry) {
	if len(batch) == 0 {
		return
	}

	var order []string
	byDevice := make(map[string][]models.ArchiveRecord)
	for _, e := range batch {
		if _, ok := byDevice[e.device]; !ok {
			order = append(order, e.device)
		}
		byDevice[e.device] = append(byDevice[e.device], e.record)
	}

	for _, device := range order {
		records := byDevice[device]
		_, err := w.store.InsertBatch(device, records)

		w.mu.Lock()
		if err != nil {
			w.totalErrors++
			w.logger.Error().Err(err).Str("device", device).Int("batch_size", len(records)).Msg("Failed to write batch")
		} else {
			w.totalWritten += int64(len(records))
			w.totalBatches++
			w.lastWriteTime = time.Now()
			w.logger.Debug().Str("device", device).Int("count", len(records)).Msg("Flushed batch")
		}
		w.mu.Unlock()
	}
}

// Stop gracefully stops the writer, flushing any remaining data
func (w *DBWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Stats returns current writer statistics
func (w *DBWriter) Stats() DBWriterStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return DBWriterStats{
		TotalQueued:   w.totalQueued,
		TotalWritten:  w.totalWritten,
		TotalBatches:  w.totalBatches,
		TotalErrors:   w.totalErrors,
		LastWriteTime: w.lastWriteTime,
		QueueLength:   len(w.writeChan),
	}
}
