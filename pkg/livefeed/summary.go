package livefeed

import (
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/esmutils"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/records"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/types"
)

// V3 meters report energy with one implied decimal.
const v3KwhDecimals = 1

// Summarize converts a decoded record into its broadcast form.
func Summarize(rec *records.Record, receivedAt time.Time) *types.RecordSummary {
	s := &types.RecordSummary{
		Timestamp:  receivedAt.UTC().Format(time.RFC3339),
		Address:    string(rec.Address),
		Generation: rec.Address.Generation().String(),
		Kind:       string(rec.Kind),
		Model:      rec.ModelHex(),
		Firmware:   int(rec.Firmware),
		CRCValid:   rec.CRCValid,
		Fields:     make(map[string]string, len(rec.Fields)),
	}
	if rec.TimeValid {
		s.MeterTime = rec.MeterTime.Format("2006-01-02 15:04:05")
	}
	for _, f := range rec.Fields {
		if f.Encoding == records.Raw {
			continue
		}
		s.Fields[f.Name] = string(f.Bytes)
	}

	decimals := v3KwhDecimals
	if rec.Kind == records.KindV4A {
		if d, ok := rec.Int("kwh_decimals"); ok {
			decimals = int(d)
		}
	}
	kwh := func(name string) *float64 {
		v, ok := rec.Int(name)
		if !ok {
			return nil
		}
		f := esmutils.ScaleDecimals(v, decimals)
		return &f
	}
	tenths := func(name string) *float64 {
		v, ok := rec.Int(name)
		if !ok {
			return nil
		}
		f := esmutils.TenthsToUnits(v)
		return &f
	}

	s.TotalKWH = kwh("total_kwh")
	s.TotalReverseKWH = kwh("total_rev_kwh")
	s.L1VoltageV = tenths("volts1")
	s.L2VoltageV = tenths("volts2")
	s.L3VoltageV = tenths("volts3")
	s.L1CurrentA = tenths("amps1")
	s.L2CurrentA = tenths("amps2")
	s.L3CurrentA = tenths("amps3")
	if w, ok := rec.Int("watts_total"); ok {
		kw := esmutils.WToKw(w)
		s.TotalPowerKW = &kw
	}
	if hz, ok := rec.Int("frequency"); ok {
		f := esmutils.HundredthsToUnits(hz)
		s.FrequencyHz = &f
	}
	if r1, r2, ok := rec.OutputStates(); ok {
		s.Relay1On = &r1
		s.Relay2On = &r2
	}
	return s
}
