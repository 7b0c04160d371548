package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/aranet-archive/internal/client"
	"github.com/afroash/aranet-archive/internal/config"
	"github.com/afroash/aranet-archive/internal/device"
	"github.com/afroash/aranet-archive/internal/export"
	"github.com/afroash/aranet-archive/internal/history"
	"github.com/afroash/aranet-archive/internal/metrics"
	"github.com/afroash/aranet-archive/internal/models"
	"github.com/afroash/aranet-archive/internal/publish"
	"github.com/afroash/aranet-archive/internal/storage"
)

// SimulatorLabel names the simulated device in archives.
const SimulatorLabel = "Aranet4 Simulator"

// Sink names used in logs and metrics.
const (
	SinkFiles  = "files"
	SinkSQLite = "sqlite"
	SinkMQTT   = "mqtt"
	SinkUpload = "upload"
)

type recordPublisher interface {
	Connect(ctx context.Context) error
	PublishRecords(ctx context.Context, device string, records []models.ArchiveRecord) (int, error)
	Close()
}

type recordUploader interface {
	Upload(ctx context.Context, device string, records []models.ArchiveRecord) (int, error)
	Close() error
}

// Report summarises one archive run.
type Report struct {
	Device  string
	Status  models.DeviceStatus
	Records []models.ArchiveRecord
	Failed  []*history.KindError
	Files   []string
}

// App runs archive sessions against one device and fans the records out to
// every configured sink.
type App struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	dial  device.Dialer
	label string

	exporter  *export.Exporter
	store     *storage.SQLiteStore
	writer    *storage.DBWriter
	cleaner   *storage.RetentionCleaner
	publisher recordPublisher
	uploader  recordUploader

	closeOnce sync.Once
}

// Option customises an App.
type Option func(*App)

// WithDialer replaces the device dialer.
func WithDialer(dial device.Dialer, label string) Option {
	return func(a *App) {
		a.dial = dial
		a.label = label
	}
}

// WithClock replaces the wall clock used for page timestamps and file names.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithPublisher replaces the MQTT publisher.
func WithPublisher(p recordPublisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithUploader replaces the collector uploader.
func WithUploader(u recordUploader) Option {
	return func(a *App) { a.uploader = u }
}

// New wires the sinks enabled in cfg. Nothing connects to the device until a
// command runs.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(),
		now:     time.Now,
	}

	if cfg.Device.Simulate {
		a.dial, a.label = simulatorDialer(cfg), SimulatorLabel
	} else {
		a.dial = bleDialer(cfg, logger)
	}

	formats, err := cfg.ExportFormats()
	if err != nil {
		return nil, err
	}
	if len(formats) > 0 {
		a.exporter = export.NewExporter(cfg.Export.OutputDir, formats, logger.With().Str("component", "export").Logger())
	}

	if cfg.MQTT.Enabled {
		a.publisher = publish.NewMQTTPublisher(publish.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		}, logger)
	}

	if cfg.Upload.Enabled {
		a.uploader = client.NewUploader(client.UploaderConfig{
			URL:                  cfg.Upload.URL,
			AuthToken:            cfg.Upload.AuthToken,
			BatchSize:            cfg.Upload.BatchSize,
			BufferSize:           cfg.Upload.BufferSize,
			MaxAttempts:          cfg.Upload.MaxAttempts,
			ReconnectInterval:    cfg.Upload.ReconnectInterval,
			MaxReconnectInterval: cfg.Upload.MaxReconnectInterval,
		}, logger)
	}

	for _, opt := range opts {
		opt(a)
	}

	if cfg.Storage.Enabled {
		if err := a.openStorage(); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) openStorage() error {
	if err := os.MkdirAll(filepath.Dir(a.cfg.Storage.Path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStore(a.cfg.Storage.Path, a.logger)
	if err != nil {
		return fmt.Errorf("open archive database: %w", err)
	}
	a.store = store

	writerConfig := storage.DefaultDBWriterConfig()
	writerConfig.BatchSize = a.cfg.Storage.BatchSize
	writerConfig.FlushPeriod = a.cfg.Storage.FlushInterval
	a.writer = storage.NewDBWriter(store, writerConfig, a.logger)

	a.cleaner = storage.NewRetentionCleaner(store, storage.RetentionCleanerConfig{
		RetentionDays: a.cfg.Storage.RetentionDays,
		CleanupPeriod: a.cfg.Storage.CleanupInterval,
	}, a.logger)
	return nil
}

func bleDialer(cfg *config.Config, logger zerolog.Logger) device.Dialer {
	bleCfg := device.BLEConfig{
		Adapter:     cfg.Device.Adapter,
		NamePattern: cfg.Device.NamePattern,
		ScanTimeout: cfg.Device.ScanTimeout,
	}
	return func(ctx context.Context) (device.Conn, error) {
		return device.DialBLE(ctx, bleCfg, logger.With().Str("component", "ble").Logger())
	}
}

// simulatorDialer hands out one simulator; a redial reopens it.
func simulatorDialer(cfg *config.Config) device.Dialer {
	sim := device.NewSimulator(device.SimulatorConfig{
		Readings:    cfg.Device.Simulator.Readings,
		Interval:    cfg.Device.Simulator.Interval,
		SinceUpdate: cfg.Device.Simulator.SinceUpdate,
		PageSize:    cfg.Device.Simulator.PageSize,
	}, cfg.HistoryProtocol())
	return func(context.Context) (device.Conn, error) {
		sim.Reopen()
		return sim, nil
	}
}

// Metrics returns the collector fed by every run.
func (a *App) Metrics() *metrics.Collector {
	return a.metrics
}

// Store returns the archive database, or nil when storage is disabled.
func (a *App) Store() *storage.SQLiteStore {
	return a.store
}

func (a *App) connect(ctx context.Context) (*device.RetryTransport, string, error) {
	rt := device.NewRetryTransport(a.dial, device.RetryConfig{
		MaxAttempts:    a.cfg.Device.ConnectRetries,
		InitialBackoff: a.cfg.Device.RetryBackoff,
		MaxBackoff:     a.cfg.Device.MaxBackoff,
	}, a.logger.With().Str("component", "device").Logger())

	if err := rt.Connect(ctx); err != nil {
		return nil, "", err
	}

	label := a.label
	if info, ok := rt.Conn().(interface{ Info() *models.DeviceInfo }); ok && info.Info() != nil {
		label = info.Info().Name
	}
	if label == "" {
		label = "Aranet4"
	}
	return rt, label, nil
}

// Archive downloads the full history once and delivers the complete records
// to every enabled sink. Kinds lost to a decode error are listed in
// Report.Failed; the remaining data is still delivered.
func (a *App) Archive(ctx context.Context) (*Report, error) {
	rt, label, err := a.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer rt.Close()

	logger := a.logger.With().Str("device", label).Logger()

	status, err := device.ReadStatus(ctx, rt)
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	logger.Info().
		Int("total_readings", status.TotalReadings).
		Dur("interval", status.Interval).
		Dur("since_update", status.SinceUpdate).
		Time("history_start", status.EstimateHistoryStart(a.now())).
		Msg("Device status")

	driver := history.NewDriver(rt, a.cfg.HistoryProtocol(), logger,
		history.WithClock(a.now),
		history.WithObserver(a.metrics),
	)
	res, err := history.NewAggregator(driver, logger).Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	// the device is free again before the sinks run
	rt.Close()

	report := &Report{
		Device:  label,
		Status:  status,
		Records: slices.Collect(history.Records(res)),
		Failed:  res.Failed,
	}
	if res.Degraded() {
		logger.Warn().Int("failed_kinds", len(res.Failed)).Msg("Archive is missing parameters")
	}
	logger.Info().
		Int("rows", res.Table.Len()).
		Int("records", len(report.Records)).
		Msg("History assembled")

	if err := a.deliver(ctx, report); err != nil {
		return report, err
	}
	a.metrics.ArchiveSucceeded(a.now())
	return report, nil
}

// deliver hands the records to each sink. A failing sink does not stop the
// others; all failures are returned together.
func (a *App) deliver(ctx context.Context, report *Report) error {
	var errs []error
	fail := func(sink string, err error) {
		a.metrics.SinkFailed(sink)
		a.logger.Error().Err(err).Str("sink", sink).Msg("Sink failed")
		errs = append(errs, fmt.Errorf("%s: %w", sink, err))
	}

	if a.exporter != nil {
		paths, err := a.exporter.Export(report.Device, a.now(), report.Records)
		report.Files = paths
		if err != nil {
			fail(SinkFiles, err)
		} else {
			a.metrics.RecordsArchived(SinkFiles, len(report.Records))
		}
	}

	if a.writer != nil {
		queued := a.writer.WriteAll(report.Device, report.Records)
		a.metrics.RecordsArchived(SinkSQLite, queued)
		if queued < len(report.Records) {
			fail(SinkSQLite, fmt.Errorf("write queue full, %d of %d records queued", queued, len(report.Records)))
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Connect(ctx); err != nil {
			fail(SinkMQTT, err)
		} else {
			n, err := a.publisher.PublishRecords(ctx, report.Device, report.Records)
			a.metrics.RecordsArchived(SinkMQTT, n)
			if err != nil {
				fail(SinkMQTT, err)
			}
		}
	}

	if a.uploader != nil {
		n, err := a.uploader.Upload(ctx, report.Device, report.Records)
		a.metrics.RecordsArchived(SinkUpload, n)
		if err != nil {
			fail(SinkUpload, err)
		}
	}

	return errors.Join(errs...)
}

// Current reads the live values once.
func (a *App) Current(ctx context.Context) (*models.CurrentReading, string, error) {
	rt, label, err := a.connect(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("connect: %w", err)
	}
	defer rt.Close()

	reading, err := device.ReadCurrent(ctx, rt)
	if err != nil {
		return nil, label, err
	}
	return reading, label, nil
}

// Watch archives every cfg.Watch.Interval until ctx is cancelled. Failed runs
// are logged and retried on the next tick.
func (a *App) Watch(ctx context.Context) error {
	var wg sync.WaitGroup
	if a.cfg.Metrics.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.metrics.Serve(ctx, a.cfg.Metrics.ListenAddr, a.logger); err != nil {
				a.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}
	if a.cleaner != nil {
		a.cleaner.Start(ctx)
		defer a.cleaner.Wait()
	}
	defer wg.Wait()

	ticker := time.NewTicker(a.cfg.Watch.Interval)
	defer ticker.Stop()

	for {
		if report, err := a.Archive(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Error().Err(err).Msg("Archive run failed")
		} else {
			a.logger.Info().
				Int("records", len(report.Records)).
				Dur("next_in", a.cfg.Watch.Interval).
				Msg("Archive run complete")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close flushes pending database writes, applies retention and releases
// every sink.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.writer != nil {
			a.writer.Stop()
			if stats := a.writer.Stats(); stats.TotalErrors > 0 {
				errs = append(errs, fmt.Errorf("sqlite: %d batch writes failed", stats.TotalErrors))
			}
		}
		// prune once the queue is drained, so late inserts are covered
		if a.cleaner != nil {
			if _, err := a.cleaner.RunNow(); err != nil {
				a.logger.Warn().Err(err).Msg("Retention cleanup failed")
			}
		}
		if a.publisher != nil {
			a.publisher.Close()
		}
		if a.uploader != nil {
			if err := a.uploader.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
