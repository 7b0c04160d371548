package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/afroash/aranet-archive/internal/models"
)

// RecordBuffer is a thread-safe FIFO of archive records waiting for upload
type RecordBuffer struct {
	records    []models.ArchiveRecord
	capacity   int
	dropOldest bool
	mutex      sync.RWMutex
	stats      BufferStats
}

// BufferStats tracks buffer usage statistics
type BufferStats struct {
	TotalPushed   int64
	TotalDropped  int64
	HighWaterMark int
	LastPushTime  time.Time
	LastDropTime  time.Time
}

// NewRecordBuffer creates a new record buffer with given capacity.
// When full, dropOldest discards the head; otherwise new records are refused.
func NewRecordBuffer(capacity int, dropOldest bool) *RecordBuffer {
	return &RecordBuffer{
		records:    make([]models.ArchiveRecord, 0, capacity),
		capacity:   capacity,
		dropOldest: dropOldest,
	}
}

// Push adds a record to the buffer
// Returns false if the record was dropped (when full and dropOldest=false)
func (rb *RecordBuffer) Push(record models.ArchiveRecord) bool {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()
	return rb.push(record)
}

// PushAll adds records in order and returns how many were accepted.
func (rb *RecordBuffer) PushAll(records []models.ArchiveRecord) int {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	accepted := 0
	for _, r := range records {
		if rb.push(r) {
			accepted++
		}
	}
	return accepted
}

func (rb *RecordBuffer) push(record models.ArchiveRecord) bool {
	if len(rb.records) >= rb.capacity {
		rb.stats.TotalDropped++
		rb.stats.LastDropTime = time.Now()
		if !rb.dropOldest {
			return false
		}
		rb.records = rb.records[1:]
	}
	rb.records = append(rb.records, record)
	rb.stats.TotalPushed++
	rb.stats.LastPushTime = time.Now()

	if len(rb.records) > rb.stats.HighWaterMark {
		rb.stats.HighWaterMark = len(rb.records)
	}
	return true
}

// PopBatch removes and returns up to n records, oldest first
func (rb *RecordBuffer) PopBatch(n int) []models.ArchiveRecord {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	count := min(n, len(rb.records))
	if count <= 0 {
		return nil
	}
	result := make([]models.ArchiveRecord, count)
	copy(result, rb.records[:count])
	rb.records = rb.records[count:]
	return result
}

// Peek returns up to n records without removing them
func (rb *RecordBuffer) Peek(n int) []models.ArchiveRecord {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	count := min(n, len(rb.records))
	if count <= 0 {
		return nil
	}
	result := make([]models.ArchiveRecord, count)
	copy(result, rb.records[:count])
	return result
}

func (rb *RecordBuffer) Size() int {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.records)
}

func (rb *RecordBuffer) IsFull() bool {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.records) >= rb.capacity
}

func (rb *RecordBuffer) IsEmpty() bool {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.records) == 0
}

// Clear removes all records and resets the counters
func (rb *RecordBuffer) Clear() {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()
	rb.records = make([]models.ArchiveRecord, 0, rb.capacity)
	rb.stats = BufferStats{}
}

// Capacity returns the maximum capacity of the buffer
func (rb *RecordBuffer) Capacity() int {
	return rb.capacity
}

// Stats returns a copy of current buffer statistics
func (rb *RecordBuffer) Stats() BufferStats {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.stats
}

func (rb *RecordBuffer) String() string {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	mode := "drop-newest"
	if rb.dropOldest {
		mode = "drop-oldest"
	}

	return fmt.Sprintf("Buffer[%d/%d, dropped: %d, mode: %s]",
		len(rb.records),
		rb.capacity,
		rb.stats.TotalDropped,
		mode,
	)
}
