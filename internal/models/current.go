package models

import (
	"encoding/binary"
	"fmt"
	"time"
)

// CurrentReadingLen is the size of the current readings characteristic.
const CurrentReadingLen = 13

// CurrentReading is the device's latest measurement as exposed by the current
// readings characteristic.
type CurrentReading struct {
	CO2         float64       `json:"co2"`
	Temperature float64       `json:"temperature"`
	Pressure    float64       `json:"pressure"`
	Humidity    float64       `json:"humidity"`
	Battery     uint8         `json:"battery"`
	Status      uint8         `json:"status"`
	Interval    time.Duration `json:"interval"`
	Ago         time.Duration `json:"ago"`
}

// ParseCurrentReading decodes the 13 byte current readings payload:
// co2 u16, temperature i16, pressure u16, humidity u8, battery u8, status u8,
// interval u16, ago u16, all little endian.
func ParseCurrentReading(b []byte) (*CurrentReading, error) {
	if len(b) != CurrentReadingLen {
		return nil, fmt.Errorf("current reading: expected %d bytes, got %d", CurrentReadingLen, len(b))
	}
	return &CurrentReading{
		CO2:         Physical(CO2, DecodeRaw(CO2, b[0:2])),
		Temperature: Physical(Temperature, DecodeRaw(Temperature, b[2:4])),
		Pressure:    Physical(Pressure, DecodeRaw(Pressure, b[4:6])),
		Humidity:    Physical(Humidity, DecodeRaw(Humidity, b[6:7])),
		Battery:     b[7],
		Status:      b[8],
		Interval:    time.Duration(binary.LittleEndian.Uint16(b[9:11])) * time.Second,
		Ago:         time.Duration(binary.LittleEndian.Uint16(b[11:13])) * time.Second,
	}, nil
}

func (c *CurrentReading) String() string {
	return fmt.Sprintf("CO₂: %s ppm\nT: %s°C\nP: %s mbar\nHumidity: %s%%\nBattery: %d%%\nStatus: %d\nInterval: %d s\nAgo: %d s\n",
		FormatValue(CO2, c.CO2),
		FormatValue(Temperature, c.Temperature),
		FormatValue(Pressure, c.Pressure),
		FormatValue(Humidity, c.Humidity),
		c.Battery,
		c.Status,
		int(c.Interval.Seconds()),
		int(c.Ago.Seconds()),
	)
}
