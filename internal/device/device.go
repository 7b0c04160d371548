package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/afroash/aranet-archive/internal/history"
	"github.com/afroash/aranet-archive/internal/models"
)

var (
	ErrNotFound               = errors.New("device not found")
	ErrConnect                = errors.New("device connection failed")
	ErrNotConnected           = errors.New("device not connected")
	ErrCharacteristicNotFound = errors.New("characteristic not found")
)

// GATT characteristics read outside of the history session.
const (
	CurrentReadingsAttr = "f0cd3001-95da-4f4b-9ac8-aa55d312af0c"
	TotalReadingsAttr   = "f0cd2001-95da-4f4b-9ac8-aa55d312af0c"
	IntervalAttr        = "f0cd2002-95da-4f4b-9ac8-aa55d312af0c"
	SinceUpdateAttr     = "f0cd2004-95da-4f4b-9ac8-aa55d312af0c"
)

// Conn is an open connection to one sensor.
type Conn interface {
	history.Transport
	Close() error
}

// ConnectionState represents the current state of a device connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ReadStatus reads the log bookkeeping characteristics.
func ReadStatus(ctx context.Context, t history.Transport) (models.DeviceStatus, error) {
	var status models.DeviceStatus

	total, err := readUint16(ctx, t, TotalReadingsAttr)
	if err != nil {
		return status, fmt.Errorf("total readings: %w", err)
	}
	interval, err := readUint16(ctx, t, IntervalAttr)
	if err != nil {
		return status, fmt.Errorf("interval: %w", err)
	}
	since, err := readUint16(ctx, t, SinceUpdateAttr)
	if err != nil {
		return status, fmt.Errorf("seconds since update: %w", err)
	}

	status.TotalReadings = int(total)
	status.Interval = time.Duration(interval) * time.Second
	status.SinceUpdate = time.Duration(since) * time.Second
	return status, nil
}

// ReadCurrent performs a single read of the current readings characteristic.
func ReadCurrent(ctx context.Context, t history.Transport) (*models.CurrentReading, error) {
	b, err := t.Read(ctx, CurrentReadingsAttr)
	if err != nil {
		return nil, fmt.Errorf("current readings: %w", err)
	}
	return models.ParseCurrentReading(b)
}

func readUint16(ctx context.Context, t history.Transport, attr string) (uint16, error) {
	b, err := t.Read(ctx, attr)
	if err != nil {
		return 0, err
	}
	if len(b) < 2 {
		return 0, fmt.Errorf("expected 2 bytes, got %d", len(b))
	}
	return binary.LittleEndian.Uint16(b), nil
}
