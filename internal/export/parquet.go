package export

import (
	"io"
	"iter"
	"math"

	"github.com/afroash/aranet-archive/internal/models"
	"github.com/parquet-go/parquet-go"
)

// parquetRow is the on-disk schema; all columns are required.
type parquetRow struct {
	Timestamp   int64   `parquet:"timestamp"`
	Temperature float32 `parquet:"temperature"`
	Humidity    int32   `parquet:"humidity"`
	Pressure    float32 `parquet:"pressure"`
	CO2         int32   `parquet:"co2"`
}

const parquetBatch = 1024

// WriteParquet writes records as a zstd compressed Parquet file. Units are
// recorded as key/value metadata.
func WriteParquet(w io.Writer, records iter.Seq[models.ArchiveRecord]) (int, error) {
	opts := []parquet.WriterOption{
		parquet.Compression(&parquet.Zstd),
		parquet.KeyValueMetadata("timestamp_unit", "UNIX time"),
	}
	for _, kind := range columnOrder {
		opts = append(opts, parquet.KeyValueMetadata(kind.Column()+"_unit", kind.Label()))
	}
	pw := parquet.NewGenericWriter[parquetRow](w, opts...)

	n := 0
	batch := make([]parquetRow, 0, parquetBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		written, err := pw.Write(batch)
		n += written
		batch = batch[:0]
		return err
	}

	for r := range records {
		batch = append(batch, parquetRow{
			Timestamp:   r.Timestamp,
			Temperature: float32(r.Temperature),
			Humidity:    int32(math.Round(r.Humidity)),
			Pressure:    float32(r.Pressure),
			CO2:         int32(math.Round(r.CO2)),
		})
		if len(batch) == parquetBatch {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := flush(); err != nil {
		return n, err
	}
	return n, pw.Close()
}
