package export

import (
	"encoding/csv"
	"io"
	"iter"
	"strconv"

	"github.com/afroash/aranet-archive/internal/models"
)

// WriteCSV writes a header row followed by one row per record, with values
// at their display precision.
func WriteCSV(w io.Writer, records iter.Seq[models.ArchiveRecord]) (int, error) {
	cw := csv.NewWriter(w)

	header := []string{"timestamp"}
	for _, kind := range columnOrder {
		header = append(header, kind.Label())
	}
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	n := 0
	row := make([]string, len(header))
	for r := range records {
		row[0] = strconv.FormatInt(r.Timestamp, 10)
		for i, kind := range columnOrder {
			row[i+1] = models.FormatValue(kind, r.Value(kind))
		}
		if err := cw.Write(row); err != nil {
			return n, err
		}
		n++
	}

	cw.Flush()
	return n, cw.Error()
}

// columnOrder is the column order of every export format.
var columnOrder = []models.ParameterKind{models.Temperature, models.Humidity, models.Pressure, models.CO2}
