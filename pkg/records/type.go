package records

import (
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/frames"
)

// Kind tags which of the three 255 byte layouts a response uses.
type Kind string

const (
	KindV3  Kind = "V3"
	KindV4A Kind = "V4A"
	KindV4B Kind = "V4B"
)

const RecordSize = 255

// Encoding says how a field's bytes are to be read.
type Encoding uint8

const (
	// Digits are ASCII decimal numbers, optionally signed.
	Digits Encoding = iota
	// Text is printable ASCII that is not a plain number (power factor "C100").
	Text
	// Raw bytes are passed through untouched.
	Raw
)

// Field is one entry of a layout's field table. Offsets are zero based.
type Field struct {
	Name     string
	Offset   int
	Length   int
	Encoding Encoding
}

// FieldValue is a decoded field. Bytes is a copy owned by the value.
type FieldValue struct {
	Field
	Bytes   []byte
	Int     int64
	Numeric bool
}

// Record is a decoded response. Raw holds a private copy of all 255 bytes.
type Record struct {
	Kind        Kind
	Status      byte
	Model       [2]byte
	Firmware    byte
	Address     frames.Address
	MeterTime   time.Time
	TimeValid   bool
	MessageType string
	CRCValid    bool
	Fields      []FieldValue
	Raw         []byte
}

// Common header and trailer positions.
const (
	offsetStatus   = 0
	offsetModel    = 1
	offsetFirmware = 3
	offsetAddress  = 4
	headerSize     = 16

	dateTimeSize   = 14
	offsetMsgType  = 247
	offsetFixedEnd = 249
	offsetCRC      = 253

	// CRC covers everything between the status byte and the CRC itself.
	crcStart  = 1
	crcLength = 252
)

type layout struct {
	dateTime int
	hasType  bool
	fields   []Field
}

var layouts = map[Kind]layout{
	KindV3: {
		dateTime: 172,
		fields: []Field{
			{"total_kwh", 16, 8, Digits},
			{"time1_kwh", 24, 8, Digits},
			{"time2_kwh", 32, 8, Digits},
			{"time3_kwh", 40, 8, Digits},
			{"time4_kwh", 48, 8, Digits},
			{"total_rev_kwh", 56, 8, Digits},
			{"time1_rev_kwh", 64, 8, Digits},
			{"time2_rev_kwh", 72, 8, Digits},
			{"time3_rev_kwh", 80, 8, Digits},
			{"time4_rev_kwh", 88, 8, Digits},
			{"volts1", 96, 4, Digits},
			{"volts2", 100, 4, Digits},
			{"volts3", 104, 4, Digits},
			{"amps1", 108, 5, Digits},
			{"amps2", 113, 5, Digits},
			{"amps3", 118, 5, Digits},
			{"watts1", 123, 7, Digits},
			{"watts2", 130, 7, Digits},
			{"watts3", 137, 7, Digits},
			{"watts_total", 144, 7, Digits},
			{"cos1", 151, 4, Text},
			{"cos2", 155, 4, Text},
			{"cos3", 159, 4, Text},
			{"max_demand", 163, 8, Digits},
			{"demand_period", 171, 1, Digits},
			{"current_transformer", 186, 4, Digits},
			{"pulse_count1", 190, 8, Digits},
			{"pulse_count2", 198, 8, Digits},
			{"pulse_count3", 206, 8, Digits},
			{"pulse_ratio1", 214, 4, Digits},
			{"pulse_ratio2", 218, 4, Digits},
			{"pulse_ratio3", 222, 4, Digits},
			{"pulse_state", 226, 3, Text},
			{"reserved", 229, 20, Raw},
		},
	},
	KindV4A: {
		dateTime: 233,
		hasType:  true,
		fields: []Field{
			{"total_kwh", 16, 8, Digits},
			{"total_kvarh", 24, 8, Digits},
			{"total_rev_kwh", 32, 8, Digits},
			{"total_kwh_l1", 40, 8, Digits},
			{"total_kwh_l2", 48, 8, Digits},
			{"total_kwh_l3", 56, 8, Digits},
			{"reverse_kwh_l1", 64, 8, Digits},
			{"reverse_kwh_l2", 72, 8, Digits},
			{"reverse_kwh_l3", 80, 8, Digits},
			{"resettable_total_kwh", 88, 8, Digits},
			{"resettable_reverse_kwh", 96, 8, Digits},
			{"volts1", 104, 4, Digits},
			{"volts2", 108, 4, Digits},
			{"volts3", 112, 4, Digits},
			{"amps1", 116, 5, Digits},
			{"amps2", 121, 5, Digits},
			{"amps3", 126, 5, Digits},
			{"watts1", 131, 7, Digits},
			{"watts2", 138, 7, Digits},
			{"watts3", 145, 7, Digits},
			{"watts_total", 152, 7, Digits},
			{"cos1", 159, 4, Text},
			{"cos2", 163, 4, Text},
			{"cos3", 167, 4, Text},
			{"var_l1", 171, 7, Digits},
			{"var_l2", 178, 7, Digits},
			{"var_l3", 185, 7, Digits},
			{"var_total", 192, 7, Digits},
			{"frequency", 199, 4, Digits},
			{"pulse_count1", 203, 8, Digits},
			{"pulse_count2", 211, 8, Digits},
			{"pulse_count3", 219, 8, Digits},
			{"pulse_state", 227, 1, Digits},
			{"current_direction", 228, 1, Text},
			{"out_state", 229, 1, Digits},
			{"kwh_decimals", 230, 1, Digits},
			{"reserved", 231, 2, Raw},
		},
	},
	KindV4B: {
		dateTime: 233,
		hasType:  true,
		fields: []Field{
			{"time1_kwh", 16, 8, Digits},
			{"time2_kwh", 24, 8, Digits},
			{"time3_kwh", 32, 8, Digits},
			{"time4_kwh", 40, 8, Digits},
			{"time1_rev_kwh", 48, 8, Digits},
			{"time2_rev_kwh", 56, 8, Digits},
			{"time3_rev_kwh", 64, 8, Digits},
			{"time4_rev_kwh", 72, 8, Digits},
			{"volts1", 80, 4, Digits},
			{"volts2", 84, 4, Digits},
			{"volts3", 88, 4, Digits},
			{"amps1", 92, 5, Digits},
			{"amps2", 97, 5, Digits},
			{"amps3", 102, 5, Digits},
			{"watts1", 107, 7, Digits},
			{"watts2", 114, 7, Digits},
			{"watts3", 121, 7, Digits},
			{"watts_total", 128, 7, Digits},
			{"cos1", 135, 4, Text},
			{"cos2", 139, 4, Text},
			{"cos3", 143, 4, Text},
			{"max_demand", 147, 8, Digits},
			{"demand_period", 155, 1, Digits},
			{"pulse_ratio1", 156, 4, Digits},
			{"pulse_ratio2", 160, 4, Digits},
			{"pulse_ratio3", 164, 4, Digits},
			{"ct_ratio", 168, 4, Digits},
			{"auto_reset_max_demand", 172, 1, Digits},
			{"cf_ratio", 173, 4, Digits},
			{"reserved", 177, 56, Raw},
		},
	},
}
