package models

import (
	"fmt"
	"time"
)

// ArchiveRecord is one complete, phase-aligned logging occasion: every kind
// has a value for Timestamp.
type ArchiveRecord struct {
	Timestamp   int64   `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	CO2         float64 `json:"co2"`
}

// Time returns the record timestamp as a UTC time.
func (r ArchiveRecord) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// Value returns the physical value recorded for kind.
func (r ArchiveRecord) Value(kind ParameterKind) float64 {
	switch kind {
	case Temperature:
		return r.Temperature
	case Humidity:
		return r.Humidity
	case Pressure:
		return r.Pressure
	case CO2:
		return r.CO2
	}
	panic(fmt.Sprintf("models: unknown parameter kind %d", uint8(kind)))
}

// IsValid checks that the values are inside the device's measuring range.
// Out of range records are still exported; this is used for warnings only.
func (r ArchiveRecord) IsValid() bool {
	const (
		minTemp     = -40.0
		maxTemp     = 85.0
		minHumidity = 0.0
		maxHumidity = 100.0
		minPressure = 300.0
		maxPressure = 1100.0
		maxCO2      = 9999.0
	)

	if r.Timestamp <= 0 {
		return false
	}
	if r.Temperature < minTemp || r.Temperature > maxTemp {
		return false
	}
	if r.Humidity < minHumidity || r.Humidity > maxHumidity {
		return false
	}
	if r.Pressure < minPressure || r.Pressure > maxPressure {
		return false
	}
	if r.CO2 < 0 || r.CO2 > maxCO2 {
		return false
	}
	return true
}

func (r ArchiveRecord) String() string {
	return fmt.Sprintf("Timestamp: %s, Temperature: %s°C, Humidity: %s%%, Pressure: %s mbar, CO2: %s ppm",
		r.Time().Format(time.RFC3339),
		FormatValue(Temperature, r.Temperature),
		FormatValue(Humidity, r.Humidity),
		FormatValue(Pressure, r.Pressure),
		FormatValue(CO2, r.CO2),
	)
}
