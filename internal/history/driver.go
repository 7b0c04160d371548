package history

import (
	"context"
	"errors"
	"time"

	"github.com/afroash/aranet-archive/internal/models"
	"github.com/rs/zerolog"
)

// Sample is one decoded, timestamped log value handed to the sink of a
// Driver. Gap samples never reach the sink.
type Sample struct {
	Kind      models.ParameterKind
	Timestamp int64
	Interval  int64
	Raw       int32
}

// Value returns the sample in physical units.
func (s Sample) Value() float64 {
	return models.Physical(s.Kind, s.Raw)
}

// Driver runs the request/response cycle that pages through the log of one
// parameter kind.
type Driver struct {
	transport Transport
	proto     Protocol
	now       func() time.Time
	observer  Observer
	logger    zerolog.Logger
}

// DriverOption customises a Driver.
type DriverOption func(*Driver)

// WithClock replaces the wall clock used to anchor page timestamps.
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) { d.now = now }
}

// WithObserver attaches a progress observer.
func WithObserver(o Observer) DriverOption {
	return func(d *Driver) { d.observer = o }
}

// NewDriver creates a Driver over transport.
func NewDriver(transport Transport, proto Protocol, logger zerolog.Logger, opts ...DriverOption) *Driver {
	d := &Driver{
		transport: transport,
		proto:     proto,
		now:       time.Now,
		observer:  NopObserver{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch pages through the whole history of kind, calling sink for every
// non-gap sample in log order. It returns the number of samples delivered.
//
// Cancellation is checked between pages only. A *TransportError or a context
// error aborts the caller's fetch; a *DecodeError only ends this kind. Errors
// returned by sink are passed through unchanged.
func (d *Driver) Fetch(ctx context.Context, kind models.ParameterKind, sink func(Sample) error) (int, error) {
	start := d.proto.FirstIndex
	delivered := 0

	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		d.logger.Debug().
			Stringer("kind", kind).
			Uint16("start", start).
			Msg("requesting history page")

		if err := d.transport.Write(ctx, ControlAttribute, d.proto.EncodeRequest(kind, start)); err != nil {
			return delivered, &TransportError{Op: "write request", Kind: kind, Err: err}
		}

		batch, now, err := d.readPage(ctx, kind)
		if err != nil {
			return delivered, err
		}
		if batch.Done() {
			return delivered, nil
		}

		d.observer.PageDecoded(kind, len(batch.Samples))

		interval := int64(batch.Header.Interval)
		for _, s := range batch.Samples {
			if s.IsGap() {
				continue
			}
			sample := Sample{
				Kind:      kind,
				Timestamp: Timestamp(batch.Header, now, s.Index),
				Interval:  interval,
				Raw:       s.Raw,
			}
			if err := sink(sample); err != nil {
				return delivered, err
			}
			delivered++
		}

		next := uint32(start) + uint32(batch.Header.Count)
		if next > 0xFFFF {
			return delivered, decodeErrorf(kind, "log index overflow past %d", start)
		}
		start = uint16(next)
	}
}

// readPage reads the log attribute until the device returns something other
// than busy. The returned time is the clock reading taken before the read
// that produced the page.
func (d *Driver) readPage(ctx context.Context, kind models.ParameterKind) (*Batch, int64, error) {
	for busy := 0; ; busy++ {
		now := d.now().Unix()

		buf, err := d.transport.Read(ctx, LogAttribute)
		if err != nil {
			return nil, 0, &TransportError{Op: "read page", Kind: kind, Err: err}
		}

		batch, err := Decode(buf, kind, d.proto.BusyStatus)
		if err == nil {
			return batch, now, nil
		}
		if !errors.Is(err, ErrBusy) {
			return nil, 0, err
		}

		if busy >= d.proto.MaxBusyRetries {
			return nil, 0, &TransportError{Op: "read page", Kind: kind, Err: ErrUnresponsive}
		}

		d.observer.BusyRetry(kind)
		d.logger.Debug().
			Stringer("kind", kind).
			Int("attempt", busy+1).
			Dur("backoff", d.proto.BusyBackoff).
			Msg("device busy, retrying page")

		if err := d.waitBusy(ctx); err != nil {
			return nil, 0, err
		}
	}
}

func (d *Driver) waitBusy(ctx context.Context) error {
	timer := time.NewTimer(d.proto.BusyBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
