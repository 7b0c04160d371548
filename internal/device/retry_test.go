package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/aranet-archive/internal/history"
)

// scriptedConn returns scripted reads and fails the first failures calls.
type scriptedConn struct {
	reads    [][]byte
	failures []error
	calls    int
	closed   bool
}

func (c *scriptedConn) next() error {
	c.calls++
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return err
	}
	return nil
}

func (c *scriptedConn) Read(ctx context.Context, attr string) ([]byte, error) {
	if err := c.next(); err != nil {
		return nil, err
	}
	if len(c.reads) == 0 {
		return nil, errors.New("no scripted reads")
	}
	b := c.reads[0]
	c.reads = c.reads[1:]
	return b, nil
}

func (c *scriptedConn) Write(ctx context.Context, attr string, p []byte) error {
	return c.next()
}

func (c *scriptedConn) Close() error {
	c.closed = true
	return nil
}

func testRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
	}
}

func TestRetryTransport_RetriesTransientErrors(t *testing.T) {
	conn := &scriptedConn{
		reads:    [][]byte{{0x2A}},
		failures: []error{errors.New("timeout"), errors.New("timeout")},
	}
	dials := 0
	rt := NewRetryTransport(func(context.Context) (Conn, error) {
		dials++
		return conn, nil
	}, testRetryConfig(3), zerolog.Nop())

	b, err := rt.Read(context.Background(), IntervalAttr)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(b) != 1 || b[0] != 0x2A {
		t.Errorf("Read() = % x, want 2a", b)
	}
	if dials != 1 {
		t.Errorf("dials = %d, want 1", dials)
	}
	if rt.State() != StateConnected {
		t.Errorf("State() = %v, want connected", rt.State())
	}
}

func TestRetryTransport_GivesUp(t *testing.T) {
	cause := errors.New("link timeout")
	conn := &scriptedConn{failures: []error{cause, cause, cause, cause}}
	rt := NewRetryTransport(func(context.Context) (Conn, error) {
		return conn, nil
	}, testRetryConfig(3), zerolog.Nop())

	err := rt.Write(context.Background(), IntervalAttr, []byte{1})
	if !errors.Is(err, cause) {
		t.Fatalf("Write() error = %v, want wrapped cause", err)
	}
	if conn.calls != 3 {
		t.Errorf("calls = %d, want 3", conn.calls)
	}
}

func TestRetryTransport_RedialsAfterDisconnect(t *testing.T) {
	first := &scriptedConn{failures: []error{ErrNotConnected}}
	second := &scriptedConn{reads: [][]byte{{0x01, 0x00}}}
	conns := []*scriptedConn{first, second}
	rt := NewRetryTransport(func(context.Context) (Conn, error) {
		c := conns[0]
		conns = conns[1:]
		return c, nil
	}, testRetryConfig(3), zerolog.Nop())

	if _, err := rt.Read(context.Background(), TotalReadingsAttr); err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !first.closed {
		t.Error("dropped connection should be closed")
	}
	if rt.Conn() != Conn(second) {
		t.Error("transport should use the redialled connection")
	}
}

func TestRetryTransport_LogReadAfterRedial(t *testing.T) {
	first := &scriptedConn{failures: []error{nil, ErrNotConnected}}
	second := &scriptedConn{reads: [][]byte{{0x01}}}
	conns := []*scriptedConn{first, second}
	dials := 0
	rt := NewRetryTransport(func(context.Context) (Conn, error) {
		dials++
		c := conns[0]
		conns = conns[1:]
		return c, nil
	}, testRetryConfig(3), zerolog.Nop())

	ctx := context.Background()
	if err := rt.Write(ctx, history.ControlAttribute, []byte{0x61, 4, 1, 0}); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	_, err := rt.Read(ctx, history.LogAttribute)
	if !errors.Is(err, ErrSessionLost) {
		t.Fatalf("Read() error = %v, want ErrSessionLost", err)
	}
	if dials != 2 {
		t.Errorf("dials = %d, want 2", dials)
	}
	if second.calls != 0 {
		t.Errorf("log attribute read on the new link %d times, want 0", second.calls)
	}

	// a fresh request on the new link reopens the session
	second.reads = [][]byte{{0x04}}
	if err := rt.Write(ctx, history.ControlAttribute, []byte{0x61, 4, 1, 0}); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if b, err := rt.Read(ctx, history.LogAttribute); err != nil || b[0] != 0x04 {
		t.Errorf("Read() = % x, %v, want 04", b, err)
	}
}

func TestRetryTransport_LogReadWithoutRequest(t *testing.T) {
	conn := &scriptedConn{reads: [][]byte{{0x01}}}
	rt := NewRetryTransport(func(context.Context) (Conn, error) {
		return conn, nil
	}, testRetryConfig(3), zerolog.Nop())

	if _, err := rt.Read(context.Background(), history.LogAttribute); !errors.Is(err, ErrSessionLost) {
		t.Errorf("Read() error = %v, want ErrSessionLost", err)
	}
}

func TestRetryTransport_ConnectFailure(t *testing.T) {
	dials := 0
	rt := NewRetryTransport(func(context.Context) (Conn, error) {
		dials++
		return nil, ErrNotFound
	}, testRetryConfig(2), zerolog.Nop())

	err := rt.Connect(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Connect() error = %v, want ErrNotFound", err)
	}
	if dials != 2 {
		t.Errorf("dials = %d, want 2", dials)
	}
	if rt.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", rt.State())
	}
}

func TestRetryTransport_MissingCharacteristicIsPermanent(t *testing.T) {
	conn := &scriptedConn{failures: []error{ErrCharacteristicNotFound}}
	rt := NewRetryTransport(func(context.Context) (Conn, error) {
		return conn, nil
	}, testRetryConfig(5), zerolog.Nop())

	if _, err := rt.Read(context.Background(), "nope"); !errors.Is(err, ErrCharacteristicNotFound) {
		t.Fatalf("Read() error = %v, want ErrCharacteristicNotFound", err)
	}
	if conn.calls != 1 {
		t.Errorf("calls = %d, want 1", conn.calls)
	}
}

func TestRetryTransport_Cancelled(t *testing.T) {
	conn := &scriptedConn{failures: []error{errors.New("timeout")}}
	rt := NewRetryTransport(func(context.Context) (Conn, error) {
		return conn, nil
	}, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rt.Write(ctx, IntervalAttr, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Write() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestRetryTransport_Close(t *testing.T) {
	conn := &scriptedConn{}
	rt := NewRetryTransport(func(context.Context) (Conn, error) {
		return conn, nil
	}, testRetryConfig(1), zerolog.Nop())

	if err := rt.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if !conn.closed {
		t.Error("underlying connection should be closed")
	}
	if err := rt.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}
