package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/aranet-archive/internal/models"
)

// recordingStore is a Store that only records InsertBatch calls
type recordingStore struct {
	Store
	mu      sync.Mutex
	batches map[string][][]models.ArchiveRecord
	err     error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{batches: make(map[string][][]models.ArchiveRecord)}
}

func (s *recordingStore) InsertBatch(device string, records []models.ArchiveRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.batches[device] = append(s.batches[device], records)
	return int64(len(records)), nil
}

func (s *recordingStore) count(device string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches[device] {
		n += len(b)
	}
	return n
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDBWriter_BatchFlush(t *testing.T) {
	store := newRecordingStore()
	writer := NewDBWriter(store, DBWriterConfig{BatchSize: 10, FlushPeriod: time.Hour, ChannelSize: 100}, zerolog.Nop())
	defer writer.Stop()

	records := createTestRecords(10, time.Now(), time.Minute)
	if n := writer.WriteAll("dev", records); n != 10 {
		t.Fatalf("WriteAll() = %d, want 10", n)
	}

	waitFor(t, func() bool { return writer.Stats().TotalWritten == 10 })

	stats := writer.Stats()
	if stats.TotalBatches != 1 {
		t.Errorf("TotalBatches = %d, want 1", stats.TotalBatches)
	}
	if stats.TotalQueued != 10 {
		t.Errorf("TotalQueued = %d, want 10", stats.TotalQueued)
	}
}

func TestDBWriter_PeriodicFlush(t *testing.T) {
	store := newRecordingStore()
	writer := NewDBWriter(store, DBWriterConfig{BatchSize: 100, FlushPeriod: 20 * time.Millisecond, ChannelSize: 100}, zerolog.Nop())
	defer writer.Stop()

	writer.WriteAll("dev", createTestRecords(5, time.Now(), time.Minute))

	waitFor(t, func() bool { return store.count("dev") == 5 })
}

func TestDBWriter_GroupsByDevice(t *testing.T) {
	store := newRecordingStore()
	writer := NewDBWriter(store, DBWriterConfig{BatchSize: 100, FlushPeriod: time.Hour, ChannelSize: 100}, zerolog.Nop())

	records := createTestRecords(3, time.Now(), time.Minute)
	writer.Write("a", records[0])
	writer.Write("b", records[1])
	writer.Write("a", records[2])
	writer.Stop()

	if len(store.batches["a"]) != 1 || len(store.batches["a"][0]) != 2 {
		t.Errorf("device a batches = %v, want one batch of 2", store.batches["a"])
	}
	if store.count("b") != 1 {
		t.Errorf("device b count = %d, want 1", store.count("b"))
	}
	if writer.Stats().TotalBatches != 2 {
		t.Errorf("TotalBatches = %d, want 2", writer.Stats().TotalBatches)
	}
}

func TestDBWriter_StopFlushesAndIsIdempotent(t *testing.T) {
	store := setupTestDB(t)
	writer := NewDBWriter(store, DBWriterConfig{BatchSize: 100, FlushPeriod: time.Hour, ChannelSize: 100}, zerolog.Nop())

	writer.WriteAll("dev", createTestRecords(15, time.Now().UTC(), time.Minute))
	writer.Stop()
	writer.Stop()

	stats, _ := store.GetStorageStats()
	if stats.TotalRecords != 15 {
		t.Errorf("TotalRecords = %d, want 15 (remaining should be flushed on stop)", stats.TotalRecords)
	}
}

func TestDBWriter_ChannelFull(t *testing.T) {
	store := newRecordingStore()
	store.mu.Lock() // block the writer loop inside InsertBatch

	writer := NewDBWriter(store, DBWriterConfig{BatchSize: 1, FlushPeriod: time.Hour, ChannelSize: 2}, zerolog.Nop())

	records := createTestRecords(10, time.Now(), time.Minute)
	queued := writer.WriteAll("dev", records)

	store.mu.Unlock()
	writer.Stop()

	if queued >= 10 {
		t.Errorf("queued = %d, expected some records to be dropped", queued)
	}
	if got := store.count("dev"); got != queued {
		t.Errorf("written = %d, want %d", got, queued)
	}
}

func TestDBWriter_Errors(t *testing.T) {
	store := newRecordingStore()
	store.err = errors.New("disk full")
	writer := NewDBWriter(store, DBWriterConfig{BatchSize: 2, FlushPeriod: time.Hour, ChannelSize: 10}, zerolog.Nop())

	writer.WriteAll("dev", createTestRecords(2, time.Now(), time.Minute))
	writer.Stop()

	stats := writer.Stats()
	if stats.TotalErrors != 1 {
		t.Errorf("TotalErrors = %d, want 1", stats.TotalErrors)
	}
	if stats.TotalWritten != 0 {
		t.Errorf("TotalWritten = %d, want 0", stats.TotalWritten)
	}
}
