package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/aranet-archive/internal/models"
)

// ErrNotConnected is returned when sending without an open connection.
var ErrNotConnected = errors.New("not connected")

// ConnectionState represents the current state of the connection
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

// UploaderConfig holds configuration for the uploader
type UploaderConfig struct {
	URL                  string
	AuthToken            string
	BatchSize            int
	BufferSize           int
	MaxAttempts          int
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	AckTimeout           time.Duration
}

// Uploader pushes archive records to a remote collector over WebSocket.
// Records are queued in a RecordBuffer and sent as archive messages of at
// most BatchSize records; each message must be acknowledged.
type Uploader struct {
	config UploaderConfig
	buffer *RecordBuffer
	logger zerolog.Logger

	conn       *websocket.Conn
	state      ConnectionState
	stateMutex sync.RWMutex
	writeMutex sync.Mutex

	currentReconnectInterval time.Duration
}

// NewUploader creates an uploader; it does not dial until needed.
func NewUploader(config UploaderConfig, logger zerolog.Logger) *Uploader {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100000
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = time.Second
	}
	if config.MaxReconnectInterval < config.ReconnectInterval {
		config.MaxReconnectInterval = 30 * time.Second
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = 10 * time.Second
	}
	return &Uploader{
		config:                   config,
		buffer:                   NewRecordBuffer(config.BufferSize, false),
		logger:                   logger.With().Str("component", "uploader").Logger(),
		state:                    StateDisconnected,
		currentReconnectInterval: config.ReconnectInterval,
	}
}

func (u *Uploader) setState(state ConnectionState) {
	u.stateMutex.Lock()
	defer u.stateMutex.Unlock()
	u.state = state
	u.logger.Debug().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (u *Uploader) State() ConnectionState {
	u.stateMutex.RLock()
	defer u.stateMutex.RUnlock()
	return u.state
}

func (u *Uploader) IsConnected() bool {
	return u.State() == StateConnected
}

// Buffer exposes the pending record queue.
func (u *Uploader) Buffer() *RecordBuffer {
	return u.buffer
}

// Connect establishes a WebSocket connection to the collector
func (u *Uploader) Connect(ctx context.Context) error {
	u.setState(StateConnecting)
	u.logger.Info().Str("url", u.config.URL).Msg("Connecting to collector...")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+u.config.AuthToken)

	conn, resp, err := dialer.DialContext(ctx, u.config.URL, header)
	if err != nil {
		u.setState(StateDisconnected)
		return fmt.Errorf("dial failed: %w", err)
	}
	defer resp.Body.Close()

	u.stateMutex.Lock()
	u.conn = conn
	u.stateMutex.Unlock()
	u.setState(StateConnected)
	u.currentReconnectInterval = u.config.ReconnectInterval
	u.logger.Info().Msg("Connected to collector")
	return nil
}

// SendBatch sends records as one archive message and waits for the
// collector's acknowledgement.
func (u *Uploader) SendBatch(device string, records []models.ArchiveRecord) error {
	if !u.IsConnected() {
		return ErrNotConnected
	}
	if len(records) == 0 {
		return nil
	}

	msg, err := models.NewMessage(models.MessageTypeArchive, models.ArchiveMessage{
		Device:  device,
		Records: records,
		Count:   len(records),
	})
	if err != nil {
		return fmt.Errorf("failed to create archive message: %w", err)
	}
	if err := u.sendMessage(msg); err != nil {
		return fmt.Errorf("send archive message: %w", err)
	}
	if err := u.awaitAck(); err != nil {
		return err
	}

	u.logger.Debug().Int("count", len(records)).Msg("Sent batch of records")
	return nil
}

func (u *Uploader) sendMessage(msg *models.Message) error {
	u.writeMutex.Lock()
	defer u.writeMutex.Unlock()
	u.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return u.conn.WriteJSON(msg)
}

// awaitAck reads replies until an ack or an error message arrives.
func (u *Uploader) awaitAck() error {
	u.conn.SetReadDeadline(time.Now().Add(u.config.AckTimeout))
	defer u.conn.SetReadDeadline(time.Time{})

	for {
		var msg models.Message
		if err := u.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("await ack: %w", err)
		}
		switch msg.Type {
		case models.MessageTypeAck:
			return nil
		case models.MessageTypeError:
			var errMsg models.ErrorMessage
			if err := msg.UnmarshalPayload(&errMsg); err != nil {
				return fmt.Errorf("collector error: %w", err)
			}
			return fmt.Errorf("collector error %s: %s", errMsg.Code, errMsg.Message)
		default:
			u.logger.Debug().Str("type", string(msg.Type)).Msg("Ignoring message")
		}
	}
}

// Upload queues records and drains the queue in batches. A failed batch stays
// queued; the connection is re-established with exponential backoff until
// MaxAttempts consecutive failures. It returns the number of records sent.
func (u *Uploader) Upload(ctx context.Context, device string, records []models.ArchiveRecord) (int, error) {
	if accepted := u.buffer.PushAll(records); accepted < len(records) {
		u.logger.Warn().
			Int("dropped", len(records)-accepted).
			Str("buffer", u.buffer.String()).
			Msg("Upload buffer full, records dropped")
	}

	sent := 0
	failures := 0
	var lastErr error
	for !u.buffer.IsEmpty() {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if failures > 0 {
			if failures >= u.config.MaxAttempts {
				return sent, fmt.Errorf("upload failed after %d attempts: %w", failures, lastErr)
			}
			u.waitBeforeReconnect(ctx)
			if err := ctx.Err(); err != nil {
				return sent, err
			}
		}

		if !u.IsConnected() {
			if err := u.Connect(ctx); err != nil {
				u.logger.Warn().Err(err).Msg("Connection failed")
				lastErr = err
				failures++
				continue
			}
		}

		batch := u.buffer.Peek(u.config.BatchSize)
		if err := u.SendBatch(device, batch); err != nil {
			u.logger.Warn().Err(err).Int("count", len(batch)).Msg("Batch upload failed")
			u.disconnect()
			lastErr = err
			failures++
			continue
		}
		u.buffer.PopBatch(len(batch))
		sent += len(batch)
		failures = 0
	}

	u.logger.Info().Int("records", sent).Msg("Upload complete")
	return sent, nil
}

// waitBeforeReconnect waits before next reconnection attempt with exponential backoff
func (u *Uploader) waitBeforeReconnect(ctx context.Context) {
	u.logger.Info().Dur("delay", u.currentReconnectInterval).Msg("Waiting before reconnect")
	timer := time.NewTimer(u.currentReconnectInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}
	u.currentReconnectInterval *= 2
	if u.currentReconnectInterval > u.config.MaxReconnectInterval {
		u.currentReconnectInterval = u.config.MaxReconnectInterval
	}
}

// disconnect closes the WebSocket connection
func (u *Uploader) disconnect() {
	u.stateMutex.Lock()
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
	u.state = StateDisconnected
	u.stateMutex.Unlock()
	u.logger.Debug().Msg("Connection disconnected")
}

// Close gracefully shuts down the connection
func (u *Uploader) Close() error {
	u.stateMutex.Lock()
	conn := u.conn
	u.stateMutex.Unlock()

	if conn != nil {
		u.writeMutex.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		u.writeMutex.Unlock()
	}
	u.disconnect()
	return nil
}
