// Package frames builds the fixed frames exchanged with EKM meters.
// Every builder returns a fresh slice; nothing here is shared between calls.
package frames

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/ekmcrc"
)

// NormalizeAddress left pads a user supplied meter id with zeros to 12 digits.
// Ids longer than 12 characters are truncated to their first 12.
func NormalizeAddress(raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty meter id")
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("meter id %q is not numeric", raw)
		}
	}
	if len(raw) > AddressLength {
		raw = raw[:AddressLength]
	}
	return Address(strings.Repeat("0", AddressLength-len(raw)) + raw), nil
}

// Classify is the single place that decides a meter's generation.
func Classify(addr Address) Generation {
	value, err := strconv.ParseInt(string(addr), 10, 64)
	if err != nil || value < V4Threshold {
		return GenerationV3
	}
	return GenerationV4
}

func (a Address) Generation() Generation {
	return Classify(a)
}

// Request returns the data request for addr. The subtype is only
// encoded for V4 meters.
func Request(addr Address, subtype Subtype) []byte {
	size := RequestV3Size
	if Classify(addr) == GenerationV4 {
		size = RequestV4Size
	}

	frame := make([]byte, 0, size)
	frame = append(frame, requestStart...)
	frame = append(frame, addr...)
	if Classify(addr) == GenerationV4 {
		frame = append(frame, 0x30, byte(subtype))
	}
	return append(frame, requestEnd...)
}

func Close() []byte {
	return clone(closeFrame)
}

func Password() []byte {
	return clone(passwordFrame)
}

// Control returns the output control frame for relay.
func Control(relay Relay, on bool) ([]byte, error) {
	states, ok := controlFrames[relay]
	if !ok {
		return nil, fmt.Errorf("unknown relay %d", relay)
	}
	return clone(states[on]), nil
}

// SetTime builds the set-time frame for t. The date time block is written
// as yy MM dd ww HH mm ss with a 1-based weekday (Sunday = 1). Each CRC
// byte is cut to 7 bits.
func SetTime(t time.Time) []byte {
	frame := make([]byte, 0, SetTimeSize)
	frame = append(frame, setTimePreamble...)
	frame = append(frame, EncodeDateTime(t)...)
	frame = append(frame, setTimeTrailer...)

	crc := ekmcrc.Checksum(frame[1:])
	return append(frame, byte(crc>>8)&0x7f, byte(crc)&0x7f)
}

// EncodeDateTime renders the 14 byte date time block.
func EncodeDateTime(t time.Time) []byte {
	dow := int(t.Weekday()) + 1
	return []byte(fmt.Sprintf("%02d%02d%02d%02d%02d%02d%02d",
		t.Year()%100, int(t.Month()), t.Day(), dow, t.Hour(), t.Minute(), t.Second()))
}

// LocalStandardTime converts t to its location's standard time,
// dropping any daylight saving offset.
func LocalStandardTime(t time.Time) time.Time {
	loc := t.Location()
	_, jan := time.Date(t.Year(), time.January, 1, 12, 0, 0, 0, loc).Zone()
	_, jul := time.Date(t.Year(), time.July, 1, 12, 0, 0, 0, loc).Zone()
	offset := jan
	if jul < offset {
		offset = jul
	}
	return t.In(time.FixedZone("STD", offset))
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
