package history

import (
	"errors"
	"testing"

	"github.com/afroash/aranet-archive/internal/models"
)

func fullTable(t *testing.T, timestamps ...int64) *RecordTable {
	t.Helper()
	table := NewRecordTable()
	for _, ts := range timestamps {
		for _, kind := range models.Kinds() {
			if err := table.Set(ts, kind, float64(ts%100)+float64(kind)); err != nil {
				t.Fatalf("Set() failed: %v", err)
			}
		}
	}
	return table
}

func TestRecords_Complete(t *testing.T) {
	table := fullTable(t, 900, 300, 600, 1200)
	res := &Result{Table: table}

	var got []int64
	for r := range Records(res) {
		got = append(got, r.Timestamp)
		if r.Temperature != float64(r.Timestamp%100)+1 || r.CO2 != float64(r.Timestamp%100)+4 {
			t.Errorf("record %d has wrong values: %+v", r.Timestamp, r)
		}
	}

	want := []int64{300, 600, 900, 1200}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("records[%d].Timestamp = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRecords_DropsOnlyIncomplete(t *testing.T) {
	table := fullTable(t, 300, 600, 1200)
	for _, kind := range []models.ParameterKind{models.Temperature, models.Humidity, models.CO2} {
		if err := table.Set(900, kind, 1); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}

	var got []int64
	for r := range Records(&Result{Table: table}) {
		got = append(got, r.Timestamp)
	}

	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	for _, ts := range got {
		if ts == 900 {
			t.Error("incomplete row 900 should be dropped")
		}
	}
}

func TestRecords_SingleUse(t *testing.T) {
	seq := Records(&Result{Table: fullTable(t, 300, 600)})

	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}

	if first != 2 {
		t.Errorf("first pass = %d records, want 2", first)
	}
	if second != 0 {
		t.Errorf("second pass = %d records, want 0", second)
	}
}

func TestRecords_EarlyStop(t *testing.T) {
	n := 0
	for range Records(&Result{Table: fullTable(t, 300, 600, 900)}) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
}

func TestRecordTable_Set(t *testing.T) {
	table := NewRecordTable()

	if err := table.Set(300, models.CO2, 612); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := table.Set(300, models.Humidity, 45); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if v, ok := table.Get(300, models.CO2); !ok || v != 612 {
		t.Errorf("Get(co2) = %v, %v; want 612, true", v, ok)
	}
	if _, ok := table.Get(300, models.Pressure); ok {
		t.Error("pressure should not be set")
	}
	if table.Complete(300) {
		t.Error("row with two kinds should be incomplete")
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1", table.Len())
	}
}

func TestRecordTable_DuplicateKeepsFirst(t *testing.T) {
	table := NewRecordTable()
	if err := table.Set(300, models.CO2, 612); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	err := table.Set(300, models.CO2, 999)
	if !errors.Is(err, ErrDuplicateSample) {
		t.Fatalf("second Set() error = %v, want ErrDuplicateSample", err)
	}
	if v, _ := table.Get(300, models.CO2); v != 612 {
		t.Errorf("value after duplicate = %v, want 612", v)
	}
}
