package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/afroash/aranet-archive/internal/history"
	"github.com/afroash/aranet-archive/internal/models"
)

func newTestSimulator(readings int) *Simulator {
	return NewSimulator(SimulatorConfig{
		Readings:    readings,
		Interval:    5 * time.Minute,
		SinceUpdate: 42 * time.Second,
		PageSize:    16,
	}, history.DefaultProtocol())
}

func TestReadStatus(t *testing.T) {
	sim := newTestSimulator(100)

	status, err := ReadStatus(context.Background(), sim)
	if err != nil {
		t.Fatalf("ReadStatus() failed: %v", err)
	}

	if status.TotalReadings != 100 {
		t.Errorf("TotalReadings = %d, want 100", status.TotalReadings)
	}
	if status.Interval != 5*time.Minute {
		t.Errorf("Interval = %v, want 5m", status.Interval)
	}
	if status.SinceUpdate != 42*time.Second {
		t.Errorf("SinceUpdate = %v, want 42s", status.SinceUpdate)
	}
}

func TestReadCurrent(t *testing.T) {
	sim := newTestSimulator(3)
	sim.SetLog(models.CO2, []int32{600, 610, 612})
	sim.SetLog(models.Temperature, []int32{400, 420, 430})
	sim.SetLog(models.Pressure, []int32{10100, 10110, 10123})
	sim.SetLog(models.Humidity, []int32{40, 41, 45})

	cur, err := ReadCurrent(context.Background(), sim)
	if err != nil {
		t.Fatalf("ReadCurrent() failed: %v", err)
	}

	if cur.CO2 != 612 || cur.Temperature != 21.5 || cur.Pressure != 1012.3 || cur.Humidity != 45 {
		t.Errorf("current = %+v", cur)
	}
	if cur.Ago != 42*time.Second {
		t.Errorf("Ago = %v, want 42s", cur.Ago)
	}
}

func TestReadStatus_Disconnected(t *testing.T) {
	sim := newTestSimulator(10)
	sim.Close()

	if _, err := ReadStatus(context.Background(), sim); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReadStatus() error = %v, want ErrNotConnected", err)
	}
}

func TestReadStatus_ShortValue(t *testing.T) {
	ft := &scriptedConn{reads: [][]byte{{0x01}}}
	if _, err := ReadStatus(context.Background(), ft); err == nil {
		t.Error("ReadStatus() should reject a one byte value")
	}
}

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{ConnectionState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %v, want %v", got, tt.want)
		}
	}
}
