package models

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeArchive MessageType = "archive"
	MessageTypeSummary MessageType = "summary"
	MessageTypeAck     MessageType = "ack"
	MessageTypeError   MessageType = "error"
)

// Message is the envelope for all collector communications
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadJSON,
		Timestamp: time.Now(),
	}, nil
}

// ArchiveMessage is the payload for MessageTypeArchive
type ArchiveMessage struct {
	Device  string          `json:"device"`
	Records []ArchiveRecord `json:"records"`
	Count   int             `json:"count"`
}

// SummaryMessage describes one finished archive run
type SummaryMessage struct {
	Device string    `json:"device"`
	Count  int       `json:"count"`
	First  time.Time `json:"first"`
	Last   time.Time `json:"last"`
}

// NewSummary builds the summary of an ordered record slice.
func NewSummary(device string, records []ArchiveRecord) SummaryMessage {
	s := SummaryMessage{Device: device, Count: len(records)}
	if len(records) > 0 {
		s.First = records[0].Time()
		s.Last = records[len(records)-1].Time()
	}
	return s
}

// AckMessage is the payload for MessageTypeAck
type AckMessage struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// ErrorMessage is the payload for MessageTypeError
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnmarshalPayload unmarshals the message payload into the provided struct
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
