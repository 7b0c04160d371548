package export

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/afroash/aranet-archive/internal/models"
	"github.com/rs/zerolog"
)

// Format is an archive file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat validates a format name from configuration.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatParquet:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// FileName builds the archive file name for a device label captured at at.
func FileName(at time.Time, label string, format Format) string {
	return fmt.Sprintf("%s_%s_history.%s", at.Format(time.RFC3339), strings.ReplaceAll(label, " ", "_"), format)
}

// WriteFunc writes records to w in one format and returns the row count.
type WriteFunc func(w io.Writer, records iter.Seq[models.ArchiveRecord]) (int, error)

func writerFor(format Format) WriteFunc {
	switch format {
	case FormatCSV:
		return WriteCSV
	case FormatParquet:
		return WriteParquet
	}
	return nil
}

// Exporter writes archive files into a directory.
type Exporter struct {
	dir     string
	formats []Format
	logger  zerolog.Logger
}

// NewExporter creates an exporter for the given formats.
func NewExporter(dir string, formats []Format, logger zerolog.Logger) *Exporter {
	return &Exporter{
		dir:     dir,
		formats: slices.Clone(formats),
		logger:  logger,
	}
}

// Export writes records once per configured format and returns the paths
// that were written. A failed file is removed; files already written stay.
func (e *Exporter) Export(label string, at time.Time, records []models.ArchiveRecord) ([]string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	var paths []string
	for _, format := range e.formats {
		write := writerFor(format)
		if write == nil {
			return paths, fmt.Errorf("unknown export format %q", format)
		}

		path := filepath.Join(e.dir, FileName(at, label, format))
		n, err := writeFile(path, write, slices.Values(records))
		if err != nil {
			return paths, fmt.Errorf("export %s: %w", format, err)
		}

		e.logger.Info().
			Str("path", path).
			Str("format", string(format)).
			Int("records", n).
			Msg("Archive written")
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, write WriteFunc, records iter.Seq[models.ArchiveRecord]) (n int, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			err = errors.Join(err, os.Remove(path))
		}
	}()

	return write(f, records)
}
