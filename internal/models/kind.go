package models

import (
	"fmt"
	"strconv"
)

// ParameterKind identifies one of the four quantities the device logs
// independently. The set is closed: the wire layout and the scale table below
// are defined for exactly these kinds.
type ParameterKind uint8

const (
	Temperature ParameterKind = iota + 1
	Humidity
	Pressure
	CO2
)

// kindRow is one row of the scale and unit table.
type kindRow struct {
	name      string
	column    string
	label     string
	wireCode  byte
	width     int
	signed    bool
	divisor   float64
	precision int
}

// kindTable is the only place the device encoding of each kind is written
// down. Physical value = raw / divisor.
var kindTable = map[ParameterKind]kindRow{
	Temperature: {name: "temperature", column: "temperature", label: "Temperature (°C)", wireCode: 1, width: 2, signed: true, divisor: 20, precision: 2},
	Humidity:    {name: "humidity", column: "humidity", label: "Humidity (%)", wireCode: 2, width: 1, signed: false, divisor: 1, precision: 0},
	Pressure:    {name: "pressure", column: "pressure", label: "Pressure (mbar)", wireCode: 3, width: 2, signed: false, divisor: 10, precision: 1},
	CO2:         {name: "co2", column: "co2", label: "CO₂ (ppm)", wireCode: 4, width: 2, signed: false, divisor: 1, precision: 0},
}

// Kinds returns every parameter kind in fetch order.
func Kinds() []ParameterKind {
	return []ParameterKind{Temperature, Humidity, Pressure, CO2}
}

func (k ParameterKind) row() kindRow {
	s, ok := kindTable[k]
	if !ok {
		panic(fmt.Sprintf("models: unknown parameter kind %d", uint8(k)))
	}
	return s
}

// Valid reports whether k is one of the four known kinds.
func (k ParameterKind) Valid() bool {
	_, ok := kindTable[k]
	return ok
}

func (k ParameterKind) String() string {
	if s, ok := kindTable[k]; ok {
		return s.name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// WireCode is the byte the device uses for this kind in history commands and
// responses.
func (k ParameterKind) WireCode() byte { return k.row().wireCode }

// Width is the number of bytes one sample occupies on the wire.
func (k ParameterKind) Width() int { return k.row().width }

// Signed reports whether samples are two's complement.
func (k ParameterKind) Signed() bool { return k.row().signed }

// Scale is the factor applied to a raw sample to obtain the physical value.
func (k ParameterKind) Scale() float64 { return 1 / k.row().divisor }

// Label is the human readable column header including the unit.
func (k ParameterKind) Label() string { return k.row().label }

// Column is the machine column name used by the exporters and the database.
func (k ParameterKind) Column() string { return k.row().column }

// Precision is the number of decimals worth displaying.
func (k ParameterKind) Precision() int { return k.row().precision }

// Physical converts a raw integer sample into the physical unit of kind.
func Physical(kind ParameterKind, raw int32) float64 {
	return float64(raw) / kind.row().divisor
}

// DecodeRaw reads one sample of kind from the start of b, honouring the wire
// width and signedness. b must hold at least kind.Width() bytes.
func DecodeRaw(kind ParameterKind, b []byte) int32 {
	s := kind.row()
	if s.width == 1 {
		if s.signed {
			return int32(int8(b[0]))
		}
		return int32(b[0])
	}
	v := uint16(b[0]) | uint16(b[1])<<8
	if s.signed {
		return int32(int16(v))
	}
	return int32(v)
}

// EncodeRaw is the inverse of DecodeRaw. It appends raw in the wire encoding
// of kind to dst.
func EncodeRaw(dst []byte, kind ParameterKind, raw int32) []byte {
	if kind.Width() == 1 {
		return append(dst, byte(raw))
	}
	return append(dst, byte(raw), byte(uint16(raw)>>8))
}

// KindFromWireCode maps a device wire code back to its kind.
func KindFromWireCode(code byte) (ParameterKind, bool) {
	for k, s := range kindTable {
		if s.wireCode == code {
			return k, true
		}
	}
	return 0, false
}

// FormatValue renders v at the display precision of kind.
func FormatValue(kind ParameterKind, v float64) string {
	return strconv.FormatFloat(v, 'f', kind.Precision(), 64)
}
