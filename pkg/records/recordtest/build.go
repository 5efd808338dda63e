// Package recordtest renders well formed meter responses for tests.
package recordtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/ekmcrc"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/frames"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/records"
)

var (
	Model    = [2]byte{0x10, 0x24}
	Firmware = byte(0x15)
	fixedEnd = []byte{0x21, 0x0d, 0x0a, 0x03}
)

// Build renders a 255 byte response of kind with a valid CRC. Digit fields
// default to zeros; values override fields by name and are right aligned.
func Build(kind records.Kind, addr frames.Address, meterTime time.Time, values map[string]string) []byte {
	fields, dateTime, ok := records.Layout(kind)
	if !ok {
		panic(fmt.Sprintf("unknown kind %q", kind))
	}

	buf := make([]byte, records.RecordSize)
	buf[0] = 0x02
	copy(buf[1:3], Model[:])
	buf[3] = Firmware
	copy(buf[4:16], addr)

	for _, f := range fields {
		if f.Encoding == records.Raw {
			continue
		}
		value := strings.Repeat("0", f.Length)
		if v, ok := values[f.Name]; ok {
			if len(v) > f.Length {
				panic(fmt.Sprintf("value %q too long for %s", v, f.Name))
			}
			value = strings.Repeat("0", f.Length-len(v)) + v
		}
		copy(buf[f.Offset:], value)
	}

	copy(buf[dateTime:], frames.EncodeDateTime(meterTime))
	if kind != records.KindV3 {
		msgType := "00"
		if kind == records.KindV4B {
			msgType = "01"
		}
		copy(buf[247:249], msgType)
	}
	copy(buf[249:253], fixedEnd)

	crc := ekmcrc.Checksum(buf[1:253])
	buf[253] = byte(crc >> 8)
	buf[254] = byte(crc)
	return buf
}
