package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/aranet-archive/internal/history"
)

// ErrSessionLost is returned for a log page read on a link that never
// received the history request, i.e. after a redial.
var ErrSessionLost = errors.New("history session lost")

// Dialer opens a new connection to the device.
type Dialer func(ctx context.Context) (Conn, error)

// RetryConfig bounds connection level retries.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RetryTransport retries failed reads and writes with exponential backoff,
// redialling when the link was lost. After MaxAttempts the last error is
// returned, so an unresponsive device never hangs the caller.
type RetryTransport struct {
	dial           Dialer
	cfg            RetryConfig
	conn           Conn
	state          ConnectionState
	mu             sync.Mutex
	currentBackoff time.Duration
	logger         zerolog.Logger

	// dials counts established links; session is the link that carries the
	// current history request (0 when none).
	dials   int
	session int
}

// NewRetryTransport creates a transport that dials lazily on first use.
func NewRetryTransport(dial Dialer, cfg RetryConfig, logger zerolog.Logger) *RetryTransport {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryTransport{
		dial:           dial,
		cfg:            cfg,
		state:          StateDisconnected,
		currentBackoff: cfg.InitialBackoff,
		logger:         logger,
	}
}

// State returns the current connection state
func (r *RetryTransport) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *RetryTransport) setState(state ConnectionState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
	r.logger.Debug().Str("state", state.String()).Msg("Connection state updated")
}

// Conn returns the underlying connection, or nil when disconnected.
func (r *RetryTransport) Conn() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Connect dials the device, retrying until it succeeds or attempts run out.
func (r *RetryTransport) Connect(ctx context.Context) error {
	return r.do(ctx, "connect", func(Conn) error { return nil })
}

// Read implements history.Transport.
func (r *RetryTransport) Read(ctx context.Context, attr string) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "read", func(c Conn) error {
		if attr == history.LogAttribute && !r.inSession() {
			return ErrSessionLost
		}
		b, err := c.Read(ctx, attr)
		out = b
		return err
	})
	return out, err
}

// Write implements history.Transport.
func (r *RetryTransport) Write(ctx context.Context, attr string, p []byte) error {
	return r.do(ctx, "write", func(c Conn) error {
		if err := c.Write(ctx, attr, p); err != nil {
			return err
		}
		if attr == history.ControlAttribute {
			r.mu.Lock()
			r.session = r.dials
			r.mu.Unlock()
		}
		return nil
	})
}

func (r *RetryTransport) inSession() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != 0 && r.session == r.dials
}

func (r *RetryTransport) do(ctx context.Context, op string, fn func(Conn) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := r.ensureConn(ctx)
		if err == nil {
			err = fn(conn)
			if err == nil {
				r.currentBackoff = r.cfg.InitialBackoff
				return nil
			}
			if errors.Is(err, ErrCharacteristicNotFound) || errors.Is(err, ErrSessionLost) {
				return err
			}
			if errors.Is(err, ErrNotConnected) {
				r.drop()
			}
		}
		lastErr = err

		if attempt == r.cfg.MaxAttempts {
			break
		}
		r.logger.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", r.cfg.MaxAttempts).
			Msg("Device operation failed, retrying")

		if err := r.waitBeforeRetry(ctx); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, r.cfg.MaxAttempts, lastErr)
}

func (r *RetryTransport) ensureConn(ctx context.Context) (Conn, error) {
	if conn := r.Conn(); conn != nil {
		return conn, nil
	}

	r.setState(StateConnecting)
	conn, err := r.dial(ctx)
	if err != nil {
		r.setState(StateDisconnected)
		return nil, err
	}

	r.mu.Lock()
	r.conn = conn
	r.state = StateConnected
	r.dials++
	r.mu.Unlock()
	r.logger.Info().Msg("Connected to device")
	return conn, nil
}

func (r *RetryTransport) drop() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.state = StateDisconnected
	r.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// waitBeforeRetry waits with exponential backoff
func (r *RetryTransport) waitBeforeRetry(ctx context.Context) error {
	r.logger.Info().Dur("delay", r.currentBackoff).Msg("Waiting before retry")

	timer := time.NewTimer(r.currentBackoff)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.currentBackoff *= 2
	if r.currentBackoff > r.cfg.MaxBackoff {
		r.currentBackoff = r.cfg.MaxBackoff
	}
	return nil
}

// Close disconnects from the device if connected.
func (r *RetryTransport) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.state = StateDisconnected
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
