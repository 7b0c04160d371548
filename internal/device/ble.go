package device

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/afroash/aranet-archive/internal/models"
	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"
)

// maxAttrLen is the largest value a GATT attribute can hold.
const maxAttrLen = 512

// BLEConfig selects the adapter and the sensor to connect to.
type BLEConfig struct {
	Adapter     string
	NamePattern string
	ScanTimeout time.Duration
}

// BLETransport is a GATT connection to an Aranet4 over tinygo bluetooth.
type BLETransport struct {
	adapter *bluetooth.Adapter
	device  bluetooth.Device
	chars   map[string]bluetooth.DeviceCharacteristic
	info    *models.DeviceInfo
	state   ConnectionState
	mu      sync.Mutex
	logger  zerolog.Logger
}

// DialBLE scans for the first device whose advertised name matches
// cfg.NamePattern, connects to it and discovers its characteristics.
func DialBLE(ctx context.Context, cfg BLEConfig, logger zerolog.Logger) (*BLETransport, error) {
	pattern, err := regexp.Compile(cfg.NamePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid name pattern %q: %w", cfg.NamePattern, err)
	}

	adapter := newAdapter(cfg.Adapter)
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble enable (%s): %w", cfg.Adapter, err)
	}

	logger.Info().
		Str("pattern", cfg.NamePattern).
		Dur("timeout", cfg.ScanTimeout).
		Msg("Scanning for device")

	result, err := scan(ctx, adapter, pattern, cfg.ScanTimeout)
	if err != nil {
		return nil, err
	}

	info := models.NewDeviceInfo(result.LocalName(), result.Address.String())
	logger = logger.With().Str("device", info.Name).Str("address", info.Address).Logger()
	logger.Info().Int16("rssi", result.RSSI).Msg("Device found, connecting")

	dev, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, info.Address, err)
	}

	chars, err := discover(dev)
	if err != nil {
		_ = dev.Disconnect()
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, info.Address, err)
	}
	logger.Debug().Int("characteristics", len(chars)).Msg("GATT discovery complete")

	info.ConnectedAt = time.Now()
	return &BLETransport{
		adapter: adapter,
		device:  dev,
		chars:   chars,
		info:    info,
		state:   StateConnected,
		logger:  logger,
	}, nil
}

// scan blocks until a matching advertisement is seen or the timeout expires.
func scan(ctx context.Context, adapter *bluetooth.Adapter, pattern *regexp.Regexp, timeout time.Duration) (bluetooth.ScanResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stop := context.AfterFunc(ctx, func() {
		_ = adapter.StopScan()
	})
	defer stop()

	var (
		found bluetooth.ScanResult
		ok    bool
	)
	err := adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
		if ok || !pattern.MatchString(r.LocalName()) {
			return
		}
		found, ok = r, true
		_ = a.StopScan()
	})

	if ok {
		return found, nil
	}
	if err != nil && ctx.Err() == nil {
		return found, fmt.Errorf("ble scan: %w", err)
	}
	return found, fmt.Errorf("%w: no advertisement matching %q", ErrNotFound, pattern.String())
}

func discover(dev bluetooth.Device) (map[string]bluetooth.DeviceCharacteristic, error) {
	services, err := dev.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}

	chars := make(map[string]bluetooth.DeviceCharacteristic)
	for _, svc := range services {
		cs, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("discover characteristics of %s: %w", svc.UUID().String(), err)
		}
		for _, c := range cs {
			chars[strings.ToLower(c.UUID().String())] = c
		}
	}
	return chars, nil
}

// Info describes the connected device.
func (t *BLETransport) Info() *models.DeviceInfo {
	return t.info
}

// State returns the current connection state
func (t *BLETransport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *BLETransport) characteristic(attr string) (bluetooth.DeviceCharacteristic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateConnected {
		return bluetooth.DeviceCharacteristic{}, ErrNotConnected
	}
	c, ok := t.chars[strings.ToLower(attr)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, attr)
	}
	return c, nil
}

// Read returns the current value of attr. GATT reads cannot be interrupted,
// so ctx is only checked before the read starts.
func (t *BLETransport) Read(ctx context.Context, attr string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := t.characteristic(attr)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, maxAttrLen)
	n, err := c.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", attr, err)
	}
	return buf[:n], nil
}

// Write writes p to attr with response.
func (t *BLETransport) Write(ctx context.Context, attr string, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := t.characteristic(attr)
	if err != nil {
		return err
	}

	if _, err := c.Write(p); err != nil {
		return fmt.Errorf("write %s: %w", attr, err)
	}
	return nil
}

// Close disconnects from the device. It is safe to call more than once.
func (t *BLETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateDisconnected {
		return nil
	}
	t.state = StateDisconnected
	t.logger.Info().Dur("session", t.info.SessionAge()).Msg("Disconnecting")
	return t.device.Disconnect()
}
