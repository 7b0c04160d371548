package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/afroash/aranet-archive/internal/export"
	"github.com/afroash/aranet-archive/internal/history"
)

// Config holds all configuration for the archiver
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Export   ExportConfig   `yaml:"export"`
	Storage  StorageConfig  `yaml:"storage"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Upload   UploadConfig   `yaml:"upload"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Watch    WatchConfig    `yaml:"watch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig selects the Aranet4 and how to reach it
type DeviceConfig struct {
	NamePattern    string          `yaml:"name_pattern"`
	Adapter        string          `yaml:"adapter"`
	ScanTimeout    time.Duration   `yaml:"scan_timeout"`
	ConnectRetries int             `yaml:"connect_retries"`
	RetryBackoff   time.Duration   `yaml:"retry_backoff"`
	MaxBackoff     time.Duration   `yaml:"max_backoff"`
	Simulate       bool            `yaml:"simulate"`
	Simulator      SimulatorConfig `yaml:"simulator"`
}

// SimulatorConfig shapes the synthetic device used when Simulate is set
type SimulatorConfig struct {
	Readings    int           `yaml:"readings"`
	Interval    time.Duration `yaml:"interval"`
	SinceUpdate time.Duration `yaml:"since_update"`
	PageSize    int           `yaml:"page_size"`
}

// ProtocolConfig holds the history transfer constants. They are not fixed by
// any public document, so they can be tuned against real hardware.
type ProtocolConfig struct {
	CommandByte    int           `yaml:"command_byte"`
	BusyStatus     int           `yaml:"busy_status"`
	BusyBackoff    time.Duration `yaml:"busy_backoff"`
	MaxBusyRetries int           `yaml:"max_busy_retries"`
	FirstIndex     int           `yaml:"first_index"`
}

// ExportConfig controls archive files
type ExportConfig struct {
	OutputDir string   `yaml:"output_dir"`
	Formats   []string `yaml:"formats"`
}

// StorageConfig controls the SQLite archive database
type StorageConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Path            string        `yaml:"path"`
	RetentionDays   int           `yaml:"retention_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
}

// MQTTConfig controls publishing to an MQTT broker
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// UploadConfig controls the WebSocket collector uploader
type UploadConfig struct {
	Enabled              bool          `yaml:"enabled"`
	URL                  string        `yaml:"url"`
	AuthToken            string        `yaml:"auth_token"`
	BatchSize            int           `yaml:"batch_size"`
	BufferSize           int           `yaml:"buffer_size"`
	MaxAttempts          int           `yaml:"max_attempts"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
}

// MetricsConfig controls the Prometheus endpoint in watch mode
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// WatchConfig controls periodic archiving
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level    string `yaml:"level"`     // debug, info, warn, error
	Format   string `yaml:"format"`    // json or console
	FilePath string `yaml:"file_path"` // empty = stderr only
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// keys absent from the file keep their defaults; explicit zeros survive
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	config := Config{
		Protocol: ProtocolConfig{MaxBusyRetries: history.DefaultProtocol().MaxBusyRetries},
		MQTT:     MQTTConfig{QoS: 1},
	}
	config.ApplyDefaults()
	return &config
}

// ApplyDefaults sets default values for any unset fields. Fields where zero
// is a meaningful setting (mqtt.qos, protocol.max_busy_retries) are left
// alone; Default seeds them instead.
func (c *Config) ApplyDefaults() {
	if c.Device.NamePattern == "" {
		c.Device.NamePattern = "^Aranet4"
	}
	if c.Device.ScanTimeout == 0 {
		c.Device.ScanTimeout = 30 * time.Second
	}
	if c.Device.ConnectRetries == 0 {
		c.Device.ConnectRetries = 3
	}
	if c.Device.RetryBackoff == 0 {
		c.Device.RetryBackoff = 2 * time.Second
	}
	if c.Device.MaxBackoff == 0 {
		c.Device.MaxBackoff = 30 * time.Second
	}
	if c.Device.Simulator.Readings == 0 {
		c.Device.Simulator.Readings = 2016
	}
	if c.Device.Simulator.Interval == 0 {
		c.Device.Simulator.Interval = 5 * time.Minute
	}
	if c.Device.Simulator.PageSize == 0 {
		c.Device.Simulator.PageSize = 100
	}

	defaults := history.DefaultProtocol()
	if c.Protocol.CommandByte == 0 {
		c.Protocol.CommandByte = int(defaults.CommandByte)
	}
	if c.Protocol.BusyStatus == 0 {
		c.Protocol.BusyStatus = int(defaults.BusyStatus)
	}
	if c.Protocol.BusyBackoff == 0 {
		c.Protocol.BusyBackoff = defaults.BusyBackoff
	}
	if c.Protocol.FirstIndex == 0 {
		c.Protocol.FirstIndex = int(defaults.FirstIndex)
	}

	if c.Export.OutputDir == "" {
		c.Export.OutputDir = "."
	}
	if len(c.Export.Formats) == 0 {
		c.Export.Formats = []string{string(export.FormatCSV)}
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "aranet.db"
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 365
	}
	if c.Storage.CleanupInterval == 0 {
		c.Storage.CleanupInterval = time.Hour
	}
	if c.Storage.BatchSize == 0 {
		c.Storage.BatchSize = 500
	}
	if c.Storage.FlushInterval == 0 {
		c.Storage.FlushInterval = 5 * time.Second
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "aranet-archive"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "aranet"
	}

	if c.Upload.BatchSize == 0 {
		c.Upload.BatchSize = 500
	}
	if c.Upload.BufferSize == 0 {
		c.Upload.BufferSize = 100000
	}
	if c.Upload.MaxAttempts == 0 {
		c.Upload.MaxAttempts = 5
	}
	if c.Upload.ReconnectInterval == 0 {
		c.Upload.ReconnectInterval = time.Second
	}
	if c.Upload.MaxReconnectInterval == 0 {
		c.Upload.MaxReconnectInterval = time.Minute
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9100"
	}
	if c.Watch.Interval == 0 {
		c.Watch.Interval = time.Hour
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables
func (c *Config) OverrideFromEnv() {
	if v := os.Getenv("ARANET_DEVICE_NAME"); v != "" {
		c.Device.NamePattern = v
	}
	if v := os.Getenv("ARANET_OUTPUT_DIR"); v != "" {
		c.Export.OutputDir = v
	}
	if v := os.Getenv("ARANET_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("UPLOAD_URL"); v != "" {
		c.Upload.URL = v
	}
	if v := os.Getenv("UPLOAD_AUTH_TOKEN"); v != "" {
		c.Upload.AuthToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Device.NamePattern == "" && !c.Device.Simulate {
		return fmt.Errorf("device name pattern is required")
	}
	if c.Device.ConnectRetries < 1 {
		return fmt.Errorf("connect retries must be at least 1")
	}
	if c.Device.Simulate {
		if c.Device.Simulator.PageSize < 1 || c.Device.Simulator.PageSize > 255 {
			return fmt.Errorf("simulator page size must be between 1 and 255")
		}
		if c.Device.Simulator.Interval < time.Second {
			return fmt.Errorf("simulator interval must be at least 1 second")
		}
	}

	for name, v := range map[string]int{
		"command byte": c.Protocol.CommandByte,
		"busy status":  c.Protocol.BusyStatus,
	} {
		if v < 0 || v > 0xFF {
			return fmt.Errorf("protocol %s must fit in one byte, got %d", name, v)
		}
	}
	if c.Protocol.FirstIndex < 0 || c.Protocol.FirstIndex > 0xFFFF {
		return fmt.Errorf("protocol first index must fit in 16 bits, got %d", c.Protocol.FirstIndex)
	}
	if err := c.HistoryProtocol().Validate(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}

	if _, err := c.ExportFormats(); err != nil {
		return err
	}

	if c.Storage.Enabled && c.Storage.Path == "" {
		return fmt.Errorf("storage path is required when storage is enabled")
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("retention days cannot be negative")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2")
		}
	}

	if c.Upload.Enabled {
		if !strings.HasPrefix(c.Upload.URL, "ws://") && !strings.HasPrefix(c.Upload.URL, "wss://") {
			return fmt.Errorf("upload URL must start with ws:// or wss://")
		}
		if c.Upload.AuthToken == "" {
			return fmt.Errorf("upload auth token is required when upload is enabled")
		}
		if c.Upload.BufferSize < c.Upload.BatchSize {
			return fmt.Errorf("upload buffer size must be at least the batch size")
		}
	}

	if c.Watch.Interval < time.Minute {
		return fmt.Errorf("watch interval must be at least 1 minute")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// HistoryProtocol converts the protocol section for the history driver.
func (c *Config) HistoryProtocol() history.Protocol {
	return history.Protocol{
		CommandByte:    byte(c.Protocol.CommandByte),
		BusyStatus:     byte(c.Protocol.BusyStatus),
		BusyBackoff:    c.Protocol.BusyBackoff,
		MaxBusyRetries: c.Protocol.MaxBusyRetries,
		FirstIndex:     uint16(c.Protocol.FirstIndex),
	}
}

// ExportFormats parses the configured export formats.
func (c *Config) ExportFormats() ([]export.Format, error) {
	formats := make([]export.Format, 0, len(c.Export.Formats))
	for _, s := range c.Export.Formats {
		f, err := export.ParseFormat(s)
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	return formats, nil
}

// String returns a safe string representation (hides secrets)
func (c *Config) String() string {
	return fmt.Sprintf("Config{Device: %+v, Protocol: %+v, Export: %+v, Storage: %+v, MQTT: [Enabled=%t, Broker=%s, User=%s, Password=%s], Upload: [Enabled=%t, URL=%s, Token=%s], Metrics: %+v, Watch: %+v, Logging: %+v}",
		c.Device,
		c.Protocol,
		c.Export,
		c.Storage,
		c.MQTT.Enabled,
		c.MQTT.Broker,
		c.MQTT.Username,
		maskToken(c.MQTT.Password),
		c.Upload.Enabled,
		c.Upload.URL,
		maskToken(c.Upload.AuthToken),
		c.Metrics,
		c.Watch,
		c.Logging,
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
