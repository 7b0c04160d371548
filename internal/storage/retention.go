package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pruner deletes records older than a number of days
type Pruner interface {
	DeleteOlderThan(days int) (int64, error)
}

// RetentionCleaner keeps the archive database within its retention window.
// Archive runs call RunNow after inserting; watch mode calls Start.
type RetentionCleaner struct {
	store         Pruner
	logger        zerolog.Logger
	retentionDays int
	cleanupPeriod time.Duration
	wg            sync.WaitGroup

	// Stats
	mu              sync.RWMutex
	totalDeleted    int64
	totalCleanups   int64
	lastCleanup     time.Time
	lastDeleteCount int64
}

// RetentionCleanerConfig holds configuration for the cleaner
type RetentionCleanerConfig struct {
	RetentionDays int           // Days of history to keep, 0 keeps everything
	CleanupPeriod time.Duration // How often to run cleanup in watch mode (default: 1 hour)
}

// DefaultRetentionCleanerConfig returns sensible defaults
func DefaultRetentionCleanerConfig() RetentionCleanerConfig {
	return RetentionCleanerConfig{
		RetentionDays: 365,
		CleanupPeriod: 1 * time.Hour,
	}
}

// RetentionCleanerStats contains statistics about the cleaner
type RetentionCleanerStats struct {
	TotalDeleted    int64     `json:"total_deleted"`
	TotalCleanups   int64     `json:"total_cleanups"`
	LastCleanup     time.Time `json:"last_cleanup,omitempty"`
	LastDeleteCount int64     `json:"last_delete_count"`
	RetentionDays   int       `json:"retention_days"`
}

// NewRetentionCleaner creates a cleaner. It does nothing until Start or RunNow.
func NewRetentionCleaner(store Pruner, config RetentionCleanerConfig, logger zerolog.Logger) *RetentionCleaner {
	cleanupPeriod := config.CleanupPeriod
	if cleanupPeriod <= 0 {
		defaultPeriod := 1 * time.Hour
		logger.Warn().
			Dur("provided_period", cleanupPeriod).
			Dur("default_period", defaultPeriod).
			Msg("Invalid CleanupPeriod provided (zero or negative), using default")
		cleanupPeriod = defaultPeriod
	}

	return &RetentionCleaner{
		store:         store,
		logger:        logger,
		retentionDays: config.RetentionDays,
		cleanupPeriod: cleanupPeriod,
	}
}

// Start runs a cleanup immediately and then every cleanup period until ctx
// is cancelled. Wait blocks until the loop has exited.
func (c *RetentionCleaner) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.cleanupLoop(ctx)
	}()

	c.logger.Info().
		Int("retention_days", c.retentionDays).
		Dur("cleanup_period", c.cleanupPeriod).
		Msg("RetentionCleaner started")
}

// Wait blocks until a started cleaner has stopped
func (c *RetentionCleaner) Wait() {
	c.wg.Wait()
}

func (c *RetentionCleaner) cleanupLoop(ctx context.Context) {
	c.RunNow()

	ticker := time.NewTicker(c.cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RunNow()
		case <-ctx.Done():
			c.logger.Info().Msg("RetentionCleaner stopped")
			return
		}
	}
}

// RunNow performs one cleanup and returns the number of deleted records.
// A zero retention keeps everything.
func (c *RetentionCleaner) RunNow() (int64, error) {
	if c.retentionDays <= 0 {
		return 0, nil
	}

	deleted, err := c.store.DeleteOlderThan(c.retentionDays)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalCleanups++
	c.lastCleanup = time.Now()

	if err != nil {
		c.logger.Error().Err(err).Msg("Retention cleanup failed")
		return 0, err
	}

	c.totalDeleted += deleted
	c.lastDeleteCount = deleted
	if deleted > 0 {
		c.logger.Info().
			Int64("deleted", deleted).
			Int("retention_days", c.retentionDays).
			Msg("Retention cleanup completed")
	} else {
		c.logger.Debug().
			Int("retention_days", c.retentionDays).
			Msg("Retention cleanup completed, no old data to delete")
	}
	return deleted, nil
}

// Stats returns current cleaner statistics
func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return RetentionCleanerStats{
		TotalDeleted:    c.totalDeleted,
		TotalCleanups:   c.totalCleanups,
		LastCleanup:     c.lastCleanup,
		LastDeleteCount: c.lastDeleteCount,
		RetentionDays:   c.retentionDays,
	}
}
