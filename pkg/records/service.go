// Package records decodes the fixed 255 byte meter responses.
package records

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/ekmcrc"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/frames"
)

var (
	ErrRecordSize  = errors.New("response is not 255 bytes")
	ErrUnknownKind = errors.New("unknown record kind")
)

// KindFor maps a generation and request subtype to the layout the meter answers with.
func KindFor(gen frames.Generation, subtype frames.Subtype) Kind {
	if gen != frames.GenerationV4 {
		return KindV3
	}
	if subtype == frames.SubtypeB {
		return KindV4B
	}
	return KindV4A
}

// ValidateRecord checks the trailing CRC of a raw response.
func ValidateRecord(buf []byte) bool {
	if len(buf) != RecordSize {
		return false
	}
	return ekmcrc.ValidateCRC(buf[crcStart:], crcLength)
}

// Decode interprets buf with the field table of kind. buf is never modified.
func Decode(buf []byte, kind Kind) (*Record, error) {
	if len(buf) != RecordSize {
		return nil, fmt.Errorf("%w: got %d", ErrRecordSize, len(buf))
	}
	lay, ok := layouts[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	raw := make([]byte, RecordSize)
	copy(raw, buf)

	rec := &Record{
		Kind:     kind,
		Status:   raw[offsetStatus],
		Firmware: raw[offsetFirmware],
		Address:  frames.Address(raw[offsetAddress : offsetAddress+frames.AddressLength]),
		CRCValid: ValidateRecord(raw),
		Raw:      raw,
	}
	copy(rec.Model[:], raw[offsetModel:offsetModel+2])
	rec.MeterTime, rec.TimeValid = decodeDateTime(raw[lay.dateTime : lay.dateTime+dateTimeSize])
	if lay.hasType {
		rec.MessageType = string(raw[offsetMsgType : offsetMsgType+2])
	}

	rec.Fields = make([]FieldValue, 0, len(lay.fields))
	for _, f := range lay.fields {
		value := FieldValue{
			Field: f,
			Bytes: append([]byte(nil), raw[f.Offset:f.Offset+f.Length]...),
		}
		if f.Encoding == Digits {
			value.Int, value.Numeric = parseDigits(value.Bytes)
		}
		rec.Fields = append(rec.Fields, value)
	}
	return rec, nil
}

// ModelHex renders the model code the way it is stored.
func (r *Record) ModelHex() string {
	return hex.EncodeToString(r.Model[:])
}

// Field looks up a decoded field by name.
func (r *Record) Field(name string) (FieldValue, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldValue{}, false
}

// Int returns a numeric field's value.
func (r *Record) Int(name string) (int64, bool) {
	f, ok := r.Field(name)
	if !ok || !f.Numeric {
		return 0, false
	}
	return f.Int, true
}

// Text returns a field's bytes as a trimmed string.
func (r *Record) Text(name string) (string, bool) {
	f, ok := r.Field(name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(string(f.Bytes)), true
}

// OutputStates reports the two relay outputs of a V4 A record.
// The meter sends '1'..'4': bit 0 of (state - '1') is output 2, bit 1 is output 1.
func (r *Record) OutputStates() (relay1, relay2 bool, ok bool) {
	if r.Kind != KindV4A {
		return false, false, false
	}
	f, found := r.Field("out_state")
	if !found || len(f.Bytes) != 1 {
		return false, false, false
	}
	v := int(f.Bytes[0]) - 0x31
	return v&2 != 0, v&1 != 0, true
}

// RelayOn reports whether relay is closed according to a V4 A record.
func (r *Record) RelayOn(relay frames.Relay) (bool, bool) {
	r1, r2, ok := r.OutputStates()
	if !ok {
		return false, false
	}
	if relay == frames.Relay1 {
		return r1, true
	}
	return r2, true
}

func decodeDateTime(block []byte) (time.Time, bool) {
	var parts [7]int
	for i := range parts {
		v, ok := parseDigits(block[i*2 : i*2+2])
		if !ok {
			return time.Time{}, false
		}
		parts[i] = int(v)
	}
	year, month, day := parts[0]+2000, parts[1], parts[2]
	hour, minute, second := parts[4], parts[5], parts[6]

	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func parseDigits(b []byte) (int64, bool) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, false
	}
	for i, c := range s {
		if (c < '0' || c > '9') && !(i == 0 && (c == '-' || c == '+') && len(s) > 1) {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Layout exposes the field table and date time offset of kind.
func Layout(kind Kind) ([]Field, int, bool) {
	lay, ok := layouts[kind]
	if !ok {
		return nil, 0, false
	}
	fields := make([]Field, len(lay.fields))
	copy(fields, lay.fields)
	return fields, lay.dateTime, true
}
