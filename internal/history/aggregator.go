package history

import (
	"context"
	"errors"
	"time"

	"github.com/afroash/aranet-archive/internal/models"
	"github.com/rs/zerolog"
)

// Result is the outcome of a full history fetch.
type Result struct {
	Table *RecordTable
	// Samples counts the samples stored per kind.
	Samples map[models.ParameterKind]int
	// Failed lists kinds abandoned because of a decode error.
	Failed []*KindError
}

// Degraded reports whether any kind was abandoned.
func (r *Result) Degraded() bool {
	return len(r.Failed) > 0
}

// Aggregator fetches every parameter kind in turn and merges them onto one
// shared timestamp grid.
type Aggregator struct {
	driver   *Driver
	kinds    []models.ParameterKind
	observer Observer
	logger   zerolog.Logger
}

// NewAggregator creates an Aggregator that fetches kinds in the device's
// canonical order.
func NewAggregator(driver *Driver, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		driver:   driver,
		kinds:    models.Kinds(),
		observer: driver.observer,
		logger:   logger,
	}
}

// phase anchors the shared timestamp grid on the first sample seen.
type phase struct {
	anchor int64
	set    bool
}

// align moves ts onto the grid point nearest to it. The shift is always
// within half an interval of the original timestamp.
func (p *phase) align(ts, interval int64) int64 {
	if !p.set {
		p.anchor = ts
		p.set = true
		return ts
	}
	d := (p.anchor - ts) % interval
	if d < 0 {
		d += interval
	}
	if 2*d >= interval {
		d -= interval
	}
	return ts + d
}

// Fetch runs one history session per kind, strictly one after another. A
// decode error ends only the affected kind and is reported in Result.Failed;
// transport errors, cancellation and duplicate samples abort the fetch.
func (a *Aggregator) Fetch(ctx context.Context) (*Result, error) {
	started := time.Now()
	res := &Result{
		Table:   NewRecordTable(),
		Samples: make(map[models.ParameterKind]int, len(a.kinds)),
	}
	var grid phase

	for _, kind := range a.kinds {
		n, err := a.driver.Fetch(ctx, kind, func(s Sample) error {
			// nearest grid point, not t - t%I + phase: a kind whose clock
			// sits just across a grid line must still pair with its occasion
			ts := grid.align(s.Timestamp, s.Interval)
			return res.Table.Set(ts, s.Kind, s.Value())
		})
		res.Samples[kind] = n

		var decodeErr *DecodeError
		switch {
		case err == nil:
			a.observer.KindCompleted(kind, n)
			a.logger.Info().
				Stringer("kind", kind).
				Int("samples", n).
				Msg("history fetched")
		case errors.As(err, &decodeErr):
			a.observer.KindFailed(kind)
			a.logger.Warn().
				Err(err).
				Stringer("kind", kind).
				Int("samples", n).
				Msg("history decode failed, keeping partial data")
			res.Failed = append(res.Failed, &KindError{Kind: kind, Samples: n, Err: err})
		default:
			return nil, err
		}
	}

	a.observer.FetchCompleted(time.Since(started), res.Table.Len())
	return res, nil
}
