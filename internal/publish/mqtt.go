package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/afroash/aranet-archive/internal/models"
)

// ErrNotConnected is returned when publishing before Connect succeeded.
var ErrNotConnected = errors.New("mqtt client not connected")

// ErrStopped is returned once Close has been called.
var ErrStopped = errors.New("mqtt publisher stopped")

const (
	defaultPublishTimeout = 5 * time.Second
	connectPoll           = 200 * time.Millisecond
)

// Config holds MQTT publisher configuration
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	PublishTimeout time.Duration
}

// MQTTPublisher publishes archive records to an MQTT broker.
type MQTTPublisher struct {
	client mqtt.Client
	config Config
	logger zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMQTTPublisher creates a publisher backed by a paho client. The broker is
// not contacted until Connect.
func NewMQTTPublisher(config Config, logger zerolog.Logger) *MQTTPublisher {
	logger = logger.With().Str("component", "mqtt").Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info().Str("broker", config.Broker).Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	return NewMQTTPublisherWithClient(mqtt.NewClient(opts), config, logger)
}

// NewMQTTPublisherWithClient wraps an existing client (useful for testing)
func NewMQTTPublisherWithClient(client mqtt.Client, config Config, logger zerolog.Logger) *MQTTPublisher {
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaultPublishTimeout
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = "aranet"
	}
	return &MQTTPublisher{
		client: client,
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Connect waits for the initial broker connection, honouring ctx and Close.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}

	if p.client.IsConnected() {
		return nil
	}

	token := p.client.Connect()
	for {
		if token.WaitTimeout(connectPoll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return ErrStopped
		default:
		}
	}
}

// HistoryTopic returns the topic records of device are published to.
func (p *MQTTPublisher) HistoryTopic(device string) string {
	return fmt.Sprintf("%s/%s/history", p.config.TopicPrefix, topicSegment(device))
}

// SummaryTopic returns the retained summary topic of device.
func (p *MQTTPublisher) SummaryTopic(device string) string {
	return fmt.Sprintf("%s/%s/summary", p.config.TopicPrefix, topicSegment(device))
}

// PublishRecords publishes every record as its own JSON message, then a
// retained summary of the run. It returns the number of records published.
func (p *MQTTPublisher) PublishRecords(ctx context.Context, device string, records []models.ArchiveRecord) (int, error) {
	if !p.client.IsConnected() {
		return 0, ErrNotConnected
	}

	topic := p.HistoryTopic(device)
	published := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		data, err := json.Marshal(record)
		if err != nil {
			return published, fmt.Errorf("marshal record: %w", err)
		}
		if err := p.publish(topic, false, data); err != nil {
			return published, err
		}
		published++
	}

	summary, err := json.Marshal(models.NewSummary(device, records))
	if err != nil {
		return published, fmt.Errorf("marshal summary: %w", err)
	}
	if err := p.publish(p.SummaryTopic(device), true, summary); err != nil {
		return published, err
	}

	p.logger.Info().
		Str("topic", topic).
		Int("records", published).
		Msg("Published archive records")
	return published, nil
}

func (p *MQTTPublisher) publish(topic string, retained bool, data []byte) error {
	token := p.client.Publish(topic, p.config.QoS, retained, data)
	if !token.WaitTimeout(p.config.PublishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish")
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker. Safe to call more than once.
func (p *MQTTPublisher) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if p.client.IsConnected() {
			p.client.Disconnect(250)
		}
	})
}

// topicSegment turns a device label into a single MQTT topic level.
func topicSegment(device string) string {
	r := strings.NewReplacer(" ", "_", "/", "_", "+", "_", "#", "_")
	s := r.Replace(strings.TrimSpace(device))
	if s == "" {
		return "unknown"
	}
	return s
}
