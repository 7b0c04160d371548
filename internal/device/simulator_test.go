package device

import (
	"context"
	"testing"
	"time"

	"github.com/afroash/aranet-archive/internal/history"
	"github.com/afroash/aranet-archive/internal/models"
	"github.com/rs/zerolog"
)

func TestSimulator_FullHistory(t *testing.T) {
	const now = 1738621029
	sim := NewSimulator(SimulatorConfig{
		Readings:    40,
		Interval:    5 * time.Minute,
		SinceUpdate: 100 * time.Second,
		PageSize:    16,
		BusyReads:   1,
		Skew: map[models.ParameterKind]time.Duration{
			models.Humidity: 3 * time.Second,
			models.CO2:      -4 * time.Second,
		},
	}, history.DefaultProtocol())

	proto := history.DefaultProtocol()
	proto.BusyBackoff = time.Millisecond
	clock := func() time.Time { return time.Unix(now, 0) }
	driver := history.NewDriver(sim, proto, zerolog.Nop(), history.WithClock(clock))

	res, err := history.NewAggregator(driver, zerolog.Nop()).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}

	var records []models.ArchiveRecord
	for r := range history.Records(res) {
		records = append(records, r)
	}
	if len(records) != 40 {
		t.Fatalf("got %d records, want 40", len(records))
	}

	last := records[len(records)-1]
	if want := int64(now - 100); last.Timestamp != want {
		t.Errorf("last timestamp = %d, want %d", last.Timestamp, want)
	}
	for i := 1; i < len(records); i++ {
		if d := records[i].Timestamp - records[i-1].Timestamp; d != 300 {
			t.Fatalf("records %d and %d are %d s apart, want 300", i-1, i, d)
		}
	}

	// 40 samples in pages of 16 plus the terminating page, per kind
	if got := sim.Requests(); got != 4*4 {
		t.Errorf("requests = %d, want 16", got)
	}
}

func TestSimulator_RejectsMalformedRequest(t *testing.T) {
	sim := newTestSimulator(5)
	if err := sim.Write(context.Background(), history.ControlAttribute, []byte{0x00, 0x01}); err == nil {
		t.Error("Write() should reject a short request")
	}
	if err := sim.Write(context.Background(), CurrentReadingsAttr, []byte{0x61, 1, 1, 0}); err == nil {
		t.Error("Write() to a read-only attribute should fail")
	}
}
