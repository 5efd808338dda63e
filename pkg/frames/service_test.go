package frames

import (
	"bytes"
	"testing"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/ekmcrc"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{in: "123", want: "000000000123"},
		{in: "300000001", want: "000300000001"},
		{in: "000000012345", want: "000000012345"},
		{in: " 42 ", want: "000000000042"},
		{in: "1234567890123", want: "123456789012"},
		{in: "", wantErr: true},
		{in: "12a4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeAddress(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  string
		want Generation
	}{
		{"123", GenerationV3},
		{"000299999999", GenerationV3},
		{"000300000000", GenerationV4},
		{"000300001234", GenerationV4},
		{"299999999999", GenerationV4},
		{"999999999999", GenerationV4},
		{"000000000000", GenerationV3},
	}

	for _, tt := range tests {
		addr, err := NormalizeAddress(tt.raw)
		if err != nil {
			t.Fatalf("normalize %q: %v", tt.raw, err)
		}
		if got := Classify(addr); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", addr, got, tt.want)
		}
	}
}

func TestRequest(t *testing.T) {
	v3 := Request("000000012345", SubtypeA)
	wantV3 := append(append([]byte{0x2f, 0x3f}, "000000012345"...), 0x21, 0x0d, 0x0a)
	if !bytes.Equal(v3, wantV3) {
		t.Errorf("V3 request = % x, want % x", v3, wantV3)
	}
	if len(v3) != RequestV3Size {
		t.Errorf("V3 request length %d", len(v3))
	}

	v4b := Request("000300000001", SubtypeB)
	wantV4B := append(append([]byte{0x2f, 0x3f}, "000300000001"...), 0x30, 0x31, 0x21, 0x0d, 0x0a)
	if !bytes.Equal(v4b, wantV4B) {
		t.Errorf("V4 B request = % x, want % x", v4b, wantV4B)
	}

	v4a := Request("000300000001", SubtypeA)
	if v4a[14] != 0x30 || v4a[15] != 0x30 {
		t.Errorf("V4 A subtype bytes = % x", v4a[14:16])
	}
}

func TestRequest_FreshBuffers(t *testing.T) {
	first := Request("000300000001", SubtypeB)
	second := Request("000300000002", SubtypeA)
	if first[13] != '1' || first[15] != 0x31 {
		t.Errorf("first request mutated by second build: % x", first)
	}
	if second[13] != '2' {
		t.Errorf("second request has wrong address: % x", second)
	}
}

func TestControlFramesCarryValidCRC(t *testing.T) {
	for _, relay := range []Relay{Relay1, Relay2} {
		for _, on := range []bool{true, false} {
			frame, err := Control(relay, on)
			if err != nil {
				t.Fatalf("Control(%d, %v): %v", relay, on, err)
			}
			if len(frame) != ControlSize {
				t.Fatalf("control frame length %d", len(frame))
			}
			if !ekmcrc.ValidateCRC(frame[1:], len(frame)-3) {
				t.Errorf("relay %d on=%v: precomputed CRC does not match", relay, on)
			}
		}
	}

	if _, err := Control(Relay(3), true); err == nil {
		t.Error("expected error for unknown relay")
	}
}

func TestPasswordCRC(t *testing.T) {
	pw := Password()
	if len(pw) != 17 {
		t.Fatalf("password length %d", len(pw))
	}
	if !ekmcrc.ValidateCRC(pw[1:], len(pw)-3) {
		t.Error("password CRC does not match")
	}
}

func TestSetTime_MatchesReferenceFrame(t *testing.T) {
	// 2015-09-01 was a Tuesday, weekday 03 on the wire.
	ts := time.Date(2015, 9, 1, 10, 6, 20, 0, time.UTC)
	want := []byte{
		0x01, 0x57, 0x31, 0x02, 0x30, 0x30, 0x36, 0x30, 0x28,
		0x31, 0x35, 0x30, 0x39, 0x30, 0x31, 0x30, 0x33, 0x31, 0x30, 0x30, 0x36, 0x32, 0x30,
		0x29, 0x03, 0x55, 0x62,
	}

	got := SetTime(ts)
	if !bytes.Equal(got, want) {
		t.Errorf("SetTime = % x\nwant      % x", got, want)
	}
}

func TestSetTime_CRCBytesAreSevenBit(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 500; i++ {
		frame := SetTime(start.Add(time.Duration(i) * 97 * time.Minute))
		if len(frame) != SetTimeSize {
			t.Fatalf("set time length %d", len(frame))
		}
		if frame[25]&0x80 != 0 || frame[26]&0x80 != 0 {
			t.Fatalf("CRC byte has top bit set: % x", frame[25:])
		}
	}
}

func TestEncodeDateTime_Weekday(t *testing.T) {
	sunday := time.Date(2024, 6, 2, 23, 59, 58, 0, time.UTC)
	if got := string(EncodeDateTime(sunday)); got != "24060201235958" {
		t.Errorf("sunday encoded as %s", got)
	}
	saturday := time.Date(2024, 6, 8, 1, 2, 3, 0, time.UTC)
	if got := string(EncodeDateTime(saturday)); got != "24060807010203" {
		t.Errorf("saturday encoded as %s", got)
	}
}

func TestLocalStandardTime(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Skipf("zoneinfo unavailable: %v", err)
	}

	summer := time.Date(2024, 7, 15, 14, 0, 0, 0, loc)
	std := LocalStandardTime(summer)
	if std.Hour() != 13 {
		t.Errorf("summer standard hour = %d, want 13", std.Hour())
	}

	winter := time.Date(2024, 1, 15, 14, 0, 0, 0, loc)
	if LocalStandardTime(winter).Hour() != 14 {
		t.Errorf("winter time should be unchanged")
	}
}
