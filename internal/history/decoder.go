package history

import (
	"encoding/binary"

	"github.com/afroash/aranet-archive/internal/models"
)

// HeaderLen is the size of the fixed part of a log response.
const HeaderLen = 10

// BatchHeader is the fixed header of one log page.
type BatchHeader struct {
	Interval uint16 // seconds between consecutive samples
	Elapsed  uint16 // full intervals covered by earlier pages
	Offset   uint16 // seconds between the oldest sample and the device's now
	Start    uint16 // log index of the first sample in the page
	Count    uint8
}

// RawSample is one undecoded value at a page relative index.
type RawSample struct {
	Index int
	Raw   int32
}

// IsGap reports whether the sample marks a slot where nothing was logged.
// Only a zero after the first position counts.
func (s RawSample) IsGap() bool {
	return s.Index > 0 && s.Raw == 0
}

// Batch is a successfully decoded log page.
type Batch struct {
	Kind    models.ParameterKind
	Header  BatchHeader
	Samples []RawSample
}

// Done reports whether the page signals the end of the kind's history.
func (b *Batch) Done() bool {
	return b.Header.Count == 0
}

// Decode parses one log response for kind. It returns ErrBusy when the device
// has not finished preparing the page and a *DecodeError for anything else
// that is not a well formed page. Gap samples are returned as-is.
func Decode(buf []byte, kind models.ParameterKind, busy byte) (*Batch, error) {
	if len(buf) == 0 {
		return nil, decodeErrorf(kind, "empty response")
	}

	status := buf[0]
	if status == busy {
		return nil, ErrBusy
	}
	if status != kind.WireCode() {
		return nil, decodeErrorf(kind, "unexpected status 0x%02x", status)
	}
	if len(buf) < HeaderLen {
		return nil, decodeErrorf(kind, "short header: %d bytes", len(buf))
	}

	h := BatchHeader{
		Interval: binary.LittleEndian.Uint16(buf[1:3]),
		Elapsed:  binary.LittleEndian.Uint16(buf[3:5]),
		Offset:   binary.LittleEndian.Uint16(buf[5:7]),
		Start:    binary.LittleEndian.Uint16(buf[7:9]),
		Count:    buf[9],
	}

	width := kind.Width()
	need := HeaderLen + int(h.Count)*width
	if len(buf) < need {
		return nil, decodeErrorf(kind, "truncated page: need %d bytes, got %d", need, len(buf))
	}
	if h.Count > 0 && h.Interval == 0 {
		return nil, decodeErrorf(kind, "zero interval with %d samples", h.Count)
	}

	samples := make([]RawSample, h.Count)
	for i := range samples {
		off := HeaderLen + i*width
		samples[i] = RawSample{Index: i, Raw: models.DecodeRaw(kind, buf[off:off+width])}
	}

	return &Batch{Kind: kind, Header: h, Samples: samples}, nil
}

// AppendBatch encodes a successful page for kind and appends it to dst.
// It is the inverse of Decode and is what simulated devices answer with.
func AppendBatch(dst []byte, kind models.ParameterKind, h BatchHeader, raws []int32) []byte {
	dst = append(dst, kind.WireCode())
	dst = binary.LittleEndian.AppendUint16(dst, h.Interval)
	dst = binary.LittleEndian.AppendUint16(dst, h.Elapsed)
	dst = binary.LittleEndian.AppendUint16(dst, h.Offset)
	dst = binary.LittleEndian.AppendUint16(dst, h.Start)
	dst = append(dst, byte(len(raws)))
	for _, raw := range raws {
		dst = models.EncodeRaw(dst, kind, raw)
	}
	return dst
}
