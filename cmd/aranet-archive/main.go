package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/afroash/aranet-archive/internal/app"
	"github.com/afroash/aranet-archive/internal/config"
	"github.com/afroash/aranet-archive/internal/logging"
)

const version = "v0.1.0"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "aranet-archive: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("aranet-archive", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (defaults are used when empty)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: aranet-archive [-config path] [archive|current|watch]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	command := "archive"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args()[1:])
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Info().
		Str("version", version).
		Str("command", command).
		Bool("simulate", cfg.Device.Simulate).
		Msg("Starting aranet-archive")
	logger.Debug().Str("config", cfg.String()).Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	switch command {
	case "archive":
		err = archive(ctx, a, stdout, logger)
	case "current":
		err = current(ctx, a, stdout)
	case "watch":
		err = a.Watch(ctx)
	default:
		err = fmt.Errorf("unknown command %q", command)
	}

	if cerr := a.Close(); cerr != nil {
		logger.Error().Err(cerr).Msg("Shutdown error")
		if err == nil {
			err = cerr
		}
	}
	return err
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	cfg := config.Default()
	cfg.OverrideFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func archive(ctx context.Context, a *app.App, stdout io.Writer, logger zerolog.Logger) error {
	report, err := a.Archive(ctx)
	if report != nil {
		fmt.Fprintf(stdout, "%s: %d records\n", report.Device, len(report.Records))
		if n := len(report.Records); n > 0 {
			fmt.Fprintf(stdout, "  from %s\n  to   %s\n", report.Records[0].Time(), report.Records[n-1].Time())
		}
		for _, path := range report.Files {
			fmt.Fprintf(stdout, "  wrote %s\n", path)
		}
		for _, f := range report.Failed {
			logger.Warn().Err(f).Msg("Parameter missing from archive")
		}
	}
	return err
}

func current(ctx context.Context, a *app.App, stdout io.Writer) error {
	reading, label, err := a.Current(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s\n%s\n", label, reading)
	return nil
}
