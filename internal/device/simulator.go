package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/afroash/aranet-archive/internal/history"
	"github.com/afroash/aranet-archive/internal/models"
)

// SimulatorConfig shapes the log of a simulated sensor.
type SimulatorConfig struct {
	Readings    int
	Interval    time.Duration
	SinceUpdate time.Duration
	// PageSize caps the samples per page, at most 255.
	PageSize int
	// BusyReads is the number of busy answers before each page.
	BusyReads int
	// Skew shifts the clock of one kind's log, as real devices do by a few
	// seconds per parameter. It must not exceed SinceUpdate.
	Skew map[models.ParameterKind]time.Duration
}

// Simulator is an in-memory Aranet4 that speaks the history protocol. It is
// used for dry runs without hardware and in tests.
type Simulator struct {
	cfg      SimulatorConfig
	logs     map[models.ParameterKind][]int32
	proto    history.Protocol
	mu       sync.Mutex
	pending  []byte
	busyLeft int
	closed   bool
	requests int
}

// NewSimulator creates a simulator filled with a plausible synthetic log.
func NewSimulator(cfg SimulatorConfig, proto history.Protocol) *Simulator {
	if cfg.PageSize <= 0 || cfg.PageSize > 255 {
		cfg.PageSize = 255
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}

	s := &Simulator{
		cfg:   cfg,
		logs:  make(map[models.ParameterKind][]int32),
		proto: proto,
	}
	for _, kind := range models.Kinds() {
		s.logs[kind] = synthetic(kind, cfg.Readings)
	}
	return s
}

func synthetic(kind models.ParameterKind, n int) []int32 {
	raws := make([]int32, n)
	for i := range raws {
		wave := math.Sin(float64(i) / 24)
		switch kind {
		case models.Temperature:
			raws[i] = int32(430 + 40*wave)
		case models.Humidity:
			raws[i] = int32(45 + 10*wave)
		case models.Pressure:
			raws[i] = int32(10130 + 50*wave)
		case models.CO2:
			raws[i] = int32(650 + 250*wave)
		}
	}
	return raws
}

// SetLog replaces the raw log of kind.
func (s *Simulator) SetLog(kind models.ParameterKind, raws []int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[kind] = append([]int32(nil), raws...)
}

// Requests returns how many history requests were written.
func (s *Simulator) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Write accepts a history request on the control attribute.
func (s *Simulator) Write(ctx context.Context, attr string, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrNotConnected
	}
	if attr != history.ControlAttribute {
		return fmt.Errorf("%w: %s is not writable", ErrCharacteristicNotFound, attr)
	}
	if len(p) != 4 || p[0] != s.proto.CommandByte {
		return fmt.Errorf("simulator: malformed request % x", p)
	}
	s.pending = append([]byte(nil), p...)
	s.busyLeft = s.cfg.BusyReads
	s.requests++
	return nil
}

// Read answers a log page or one of the status characteristics.
func (s *Simulator) Read(ctx context.Context, attr string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrNotConnected
	}

	switch attr {
	case history.LogAttribute:
		return s.page()
	case TotalReadingsAttr:
		return binary.LittleEndian.AppendUint16(nil, uint16(s.cfg.Readings)), nil
	case IntervalAttr:
		return binary.LittleEndian.AppendUint16(nil, uint16(s.cfg.Interval/time.Second)), nil
	case SinceUpdateAttr:
		return binary.LittleEndian.AppendUint16(nil, uint16(s.cfg.SinceUpdate/time.Second)), nil
	case CurrentReadingsAttr:
		return s.current(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, attr)
}

func (s *Simulator) page() ([]byte, error) {
	if s.pending == nil {
		return nil, fmt.Errorf("simulator: log read without a request")
	}
	if s.busyLeft > 0 {
		s.busyLeft--
		return []byte{s.proto.BusyStatus}, nil
	}

	kind, ok := models.KindFromWireCode(s.pending[1])
	if !ok {
		return []byte{0xFF}, nil
	}
	start := int(binary.LittleEndian.Uint16(s.pending[2:4]))
	log := s.logs[kind]

	// log index i (1-based) was taken at now - since - (n-i)*interval,
	// which is what elapsed=n and offset=since encode.
	skew := s.cfg.Skew[kind] / time.Second
	h := history.BatchHeader{
		Interval: uint16(s.cfg.Interval / time.Second),
		Elapsed:  uint16(len(log)),
		Offset:   uint16(int64(s.cfg.SinceUpdate/time.Second) - int64(skew)),
		Start:    uint16(start),
	}

	from := max(start-1, 0)
	to := min(from+s.cfg.PageSize, len(log))
	var raws []int32
	if from < to {
		raws = log[from:to]
	}
	h.Count = uint8(len(raws))
	return history.AppendBatch(nil, kind, h, raws), nil
}

func (s *Simulator) current() []byte {
	last := func(kind models.ParameterKind) int32 {
		log := s.logs[kind]
		if len(log) == 0 {
			return 0
		}
		return log[len(log)-1]
	}

	b := make([]byte, 0, models.CurrentReadingLen)
	b = models.EncodeRaw(b, models.CO2, last(models.CO2))
	b = models.EncodeRaw(b, models.Temperature, last(models.Temperature))
	b = models.EncodeRaw(b, models.Pressure, last(models.Pressure))
	b = models.EncodeRaw(b, models.Humidity, last(models.Humidity))
	b = append(b, 100, 1)
	b = binary.LittleEndian.AppendUint16(b, uint16(s.cfg.Interval/time.Second))
	b = binary.LittleEndian.AppendUint16(b, uint16(s.cfg.SinceUpdate/time.Second))
	return b
}

// Close marks the simulated link as dropped.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Reopen restores a closed simulated link.
func (s *Simulator) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
}
