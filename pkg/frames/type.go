package frames

// Generation is the firmware family of a meter, derived from its address.
type Generation uint8

const (
	GenerationV3 Generation = 3
	GenerationV4 Generation = 4
)

func (g Generation) String() string {
	switch g {
	case GenerationV3:
		return "V3"
	case GenerationV4:
		return "V4"
	default:
		return "unknown"
	}
}

// Address is a meter serial number, always 12 ASCII digits.
type Address string

// Subtype selects which record a V4 meter answers with.
type Subtype byte

const (
	SubtypeA Subtype = 0x30
	SubtypeB Subtype = 0x31
)

func (s Subtype) String() string {
	if s == SubtypeB {
		return "B"
	}
	return "A"
}

// Relay identifies one of the two meter outputs.
type Relay uint8

const (
	Relay1 Relay = 1
	Relay2 Relay = 2
)

const (
	AddressLength = 12

	// Addresses at or above this value belong to V4 meters.
	V4Threshold = 300000000

	ACK byte = 0x06

	RequestV3Size = 17
	RequestV4Size = 19
	ControlSize   = 18
	SetTimeSize   = 27
)

var (
	requestStart = []byte{0x2f, 0x3f}
	requestEnd   = []byte{0x21, 0x0d, 0x0a}

	closeFrame = []byte{0x01, 0x42, 0x30, 0x03, 0x75}

	passwordFrame = []byte{
		0x01, 0x50, 0x31, 0x02, 0x28,
		0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30,
		0x29, 0x03, 0x32, 0x44,
	}

	// "W1<STX>0060(" then date time, ")" and ETX.
	setTimePreamble = []byte{0x01, 0x57, 0x31, 0x02, 0x30, 0x30, 0x36, 0x30, 0x28}
	setTimeTrailer  = []byte{0x29, 0x03}

	// Output control frames carry precomputed CRCs.
	controlFrames = map[Relay]map[bool][]byte{
		Relay1: {
			true:  {0x01, 0x57, 0x31, 0x02, 0x30, 0x30, 0x38, 0x31, 0x28, 0x31, 0x30, 0x30, 0x30, 0x30, 0x29, 0x03, 0x31, 0x61},
			false: {0x01, 0x57, 0x31, 0x02, 0x30, 0x30, 0x38, 0x31, 0x28, 0x30, 0x30, 0x30, 0x30, 0x30, 0x29, 0x03, 0x21, 0x21},
		},
		Relay2: {
			true:  {0x01, 0x57, 0x31, 0x02, 0x30, 0x30, 0x38, 0x32, 0x28, 0x31, 0x30, 0x30, 0x30, 0x30, 0x29, 0x03, 0x25, 0x11},
			false: {0x01, 0x57, 0x31, 0x02, 0x30, 0x30, 0x38, 0x32, 0x28, 0x30, 0x30, 0x30, 0x30, 0x30, 0x29, 0x03, 0x35, 0x51},
		},
	}
)
