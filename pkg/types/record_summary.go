package types

import "encoding/json"

// RecordSummary is the decoded, scaled view of one meter response that is
// broadcast to live feed clients.
type RecordSummary struct {
	Timestamp string `json:"timestamp"`

	// Identity
	Address    string `json:"address"`
	Generation string `json:"generation"`
	Kind       string `json:"kind"`
	Model      string `json:"model"`
	Firmware   int    `json:"firmware"`
	MeterTime  string `json:"meter_time,omitempty"`
	CRCValid   bool   `json:"crc_valid"`

	// Totals
	TotalKWH        *float64 `json:"total_kwh,omitempty"`
	TotalReverseKWH *float64 `json:"total_reverse_kwh,omitempty"`

	// Electrical info
	L1VoltageV   *float64 `json:"l1_voltage_v,omitempty"`
	L2VoltageV   *float64 `json:"l2_voltage_v,omitempty"`
	L3VoltageV   *float64 `json:"l3_voltage_v,omitempty"`
	L1CurrentA   *float64 `json:"l1_current_a,omitempty"`
	L2CurrentA   *float64 `json:"l2_current_a,omitempty"`
	L3CurrentA   *float64 `json:"l3_current_a,omitempty"`
	TotalPowerKW *float64 `json:"total_power_kw,omitempty"`
	FrequencyHz  *float64 `json:"frequency_hz,omitempty"`

	// Outputs, V4 A records only
	Relay1On *bool `json:"relay1_on,omitempty"`
	Relay2On *bool `json:"relay2_on,omitempty"`

	// Fields holds every non raw field as sent by the meter.
	Fields map[string]string `json:"fields"`
}

func (r *RecordSummary) ToJsonBytes() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}

// RecordSummaryFromJsonBytes returns nil when b is not a summary.
func RecordSummaryFromJsonBytes(b []byte) *RecordSummary {
	var r RecordSummary
	if err := json.Unmarshal(b, &r); err != nil || r.Address == "" {
		return nil
	}
	return &r
}
