package meterdb

import (
	"database/sql"

	"github.com/sirupsen/logrus"
)

// MeterDB is one sqlite database holding meter records and diagnostics.
type MeterDB struct {
	db        *sql.DB
	path      string
	log       logrus.FieldLogger
	dontWrite bool
}

type MeterDbMeter struct {
	Address    string `db:"address"`
	Generation string `db:"generation"`
	FirstSeen  int64  `db:"first_seen"`
	LastSeen   int64  `db:"last_seen"`
}

// MeterDbRawRecord is one 255 byte response as received. MeterTime is zero
// when the meter's clock block could not be decoded; TotalKwh is nil for
// layouts without a total register.
type MeterDbRawRecord struct {
	ID         int64  `db:"id"`
	Kind       string `db:"kind"`
	Address    string `db:"address"`
	ReceivedAt int64  `db:"received_at"`
	MeterTime  int64  `db:"meter_time"`
	Model      string `db:"model"`
	Firmware   uint8  `db:"firmware"`
	CRCValid   bool   `db:"crc_valid"`
	TotalKwh   *int64 `db:"total_kwh"`
	Payload    []byte `db:"payload"`
}

type MeterDbDebugInfo struct {
	Timestamp int64  `db:"timestamp"`
	Info      string `db:"info"`
}

// Aggregate models - one row per meter, record kind and UTC day
type AggregateRecordsDaily struct {
	DayStart      int64  `db:"day_start"`
	Address       string `db:"address"`
	Kind          string `db:"kind"`
	SampleCount   uint32 `db:"sample_count"`
	CRCFailures   uint32 `db:"crc_failures"`
	FirstTime     int64  `db:"first_time"`
	LastTime      int64  `db:"last_time"`
	FirstTotalKwh *int64 `db:"first_total_kwh"`
	LastTotalKwh  *int64 `db:"last_total_kwh"`
}
