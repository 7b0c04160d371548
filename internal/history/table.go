package history

import (
	"fmt"
	"slices"

	"github.com/afroash/aranet-archive/internal/models"
)

type row struct {
	values [4]float64
	set    uint8
}

func slot(kind models.ParameterKind) int {
	if !kind.Valid() {
		panic(fmt.Sprintf("history: unknown parameter kind %d", uint8(kind)))
	}
	return int(kind) - 1
}

const completeMask = 1<<4 - 1

// RecordTable maps timestamps to the values collected for each kind. It is
// owned by a single fetch and is not safe for concurrent use.
type RecordTable struct {
	rows map[int64]*row
}

// NewRecordTable creates an empty table.
func NewRecordTable() *RecordTable {
	return &RecordTable{rows: make(map[int64]*row)}
}

// Set stores v for kind at ts. Writing the same slot twice returns
// ErrDuplicateSample and leaves the first value in place.
func (t *RecordTable) Set(ts int64, kind models.ParameterKind, v float64) error {
	bit := uint8(1) << slot(kind)

	r, ok := t.rows[ts]
	if !ok {
		r = &row{}
		t.rows[ts] = r
	}
	if r.set&bit != 0 {
		return fmt.Errorf("%w: %s at %d", ErrDuplicateSample, kind, ts)
	}
	r.values[slot(kind)] = v
	r.set |= bit
	return nil
}

// Get returns the value of kind at ts, if any.
func (t *RecordTable) Get(ts int64, kind models.ParameterKind) (float64, bool) {
	r, ok := t.rows[ts]
	if !ok {
		return 0, false
	}
	i := slot(kind)
	return r.values[i], r.set&(1<<i) != 0
}

// Complete reports whether every kind has a value at ts.
func (t *RecordTable) Complete(ts int64) bool {
	r, ok := t.rows[ts]
	return ok && r.set == completeMask
}

// Len returns the number of distinct timestamps, complete or not.
func (t *RecordTable) Len() int {
	return len(t.rows)
}

// Timestamps returns every timestamp in ascending order.
func (t *RecordTable) Timestamps() []int64 {
	keys := make([]int64, 0, len(t.rows))
	for ts := range t.rows {
		keys = append(keys, ts)
	}
	slices.Sort(keys)
	return keys
}

func (t *RecordTable) record(ts int64) models.ArchiveRecord {
	r := t.rows[ts]
	return models.ArchiveRecord{
		Timestamp:   ts,
		Temperature: r.values[slot(models.Temperature)],
		Humidity:    r.values[slot(models.Humidity)],
		Pressure:    r.values[slot(models.Pressure)],
		CO2:         r.values[slot(models.CO2)],
	}
}
