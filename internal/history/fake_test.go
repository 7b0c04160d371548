package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/afroash/aranet-archive/internal/models"
)

// fakeTransport answers log reads from a script and records every request.
type fakeTransport struct {
	reads    [][]byte
	readErr  error
	writeErr error
	writes   [][]byte
	nreads   int
}

func (f *fakeTransport) Read(ctx context.Context, attr string) ([]byte, error) {
	if attr != LogAttribute {
		return nil, fmt.Errorf("read of unexpected attribute %s", attr)
	}
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.nreads >= len(f.reads) {
		return nil, errors.New("no more scripted reads")
	}
	b := f.reads[f.nreads]
	f.nreads++
	return b, nil
}

func (f *fakeTransport) Write(ctx context.Context, attr string, p []byte) error {
	if attr != ControlAttribute {
		return fmt.Errorf("write to unexpected attribute %s", attr)
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return nil
}

func page(kind models.ParameterKind, h BatchHeader, raws ...int32) []byte {
	return AppendBatch(nil, kind, h, raws)
}

func endPage(kind models.ParameterKind) []byte {
	return AppendBatch(nil, kind, BatchHeader{Interval: 300}, nil)
}

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

func testProtocol() Protocol {
	p := DefaultProtocol()
	p.BusyBackoff = time.Millisecond
	p.MaxBusyRetries = 5
	return p
}

type countingObserver struct {
	mu        sync.Mutex
	pages     map[models.ParameterKind]int
	busy      map[models.ParameterKind]int
	completed map[models.ParameterKind]int
	failed    []models.ParameterKind
	rows      int
	fetches   int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		pages:     make(map[models.ParameterKind]int),
		busy:      make(map[models.ParameterKind]int),
		completed: make(map[models.ParameterKind]int),
	}
}

func (o *countingObserver) PageDecoded(kind models.ParameterKind, samples int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages[kind]++
}

func (o *countingObserver) BusyRetry(kind models.ParameterKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy[kind]++
}

func (o *countingObserver) KindCompleted(kind models.ParameterKind, samples int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed[kind] = samples
}

func (o *countingObserver) KindFailed(kind models.ParameterKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, kind)
}

func (o *countingObserver) FetchCompleted(elapsed time.Duration, rows int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rows = rows
	o.fetches++
}
