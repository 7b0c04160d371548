package history

import (
	"context"
	"fmt"
	"time"

	"github.com/afroash/aranet-archive/internal/models"
)

// Attribute identifiers of the history session.
const (
	// ControlAttribute receives history transfer requests.
	ControlAttribute = "f0cd1402-95da-4f4b-9ac8-aa55d312af0c"
	// LogAttribute returns one page of log data per read.
	LogAttribute = "f0cd2005-95da-4f4b-9ac8-aa55d312af0c"
)

// Transport is the connection collaborator the history session runs over.
// Implementations handle their own connection level retries.
type Transport interface {
	Read(ctx context.Context, attr string) ([]byte, error)
	Write(ctx context.Context, attr string, p []byte) error
}

// Protocol holds the device constants that drive pagination. They are
// configurable because they were pinned against hardware, not documentation.
type Protocol struct {
	// CommandByte starts a history transfer.
	CommandByte byte
	// BusyStatus is the status byte of a page that is not ready yet.
	BusyStatus byte
	// BusyBackoff is how long to wait before reading a busy page again.
	BusyBackoff time.Duration
	// MaxBusyRetries bounds consecutive busy answers for one page.
	MaxBusyRetries int
	// FirstIndex is the log index of the oldest sample.
	FirstIndex uint16
}

// DefaultProtocol returns the constants known to work with Aranet4 firmware.
func DefaultProtocol() Protocol {
	return Protocol{
		CommandByte:    0x61,
		BusyStatus:     0x81,
		BusyBackoff:    time.Second,
		MaxBusyRetries: 30,
		FirstIndex:     1,
	}
}

// Validate checks that the protocol can drive a session.
func (p Protocol) Validate() error {
	if p.BusyBackoff <= 0 {
		return fmt.Errorf("busy backoff must be positive, got %v", p.BusyBackoff)
	}
	if p.MaxBusyRetries < 0 {
		return fmt.Errorf("max busy retries cannot be negative, got %d", p.MaxBusyRetries)
	}
	for _, kind := range models.Kinds() {
		if p.BusyStatus == kind.WireCode() {
			return fmt.Errorf("busy status 0x%02x collides with the %s wire code", p.BusyStatus, kind)
		}
	}
	return nil
}

// EncodeRequest builds the history request written to ControlAttribute:
// command byte, kind wire code, little endian start index.
func (p Protocol) EncodeRequest(kind models.ParameterKind, start uint16) []byte {
	return []byte{p.CommandByte, kind.WireCode(), byte(start), byte(start >> 8)}
}
