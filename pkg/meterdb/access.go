package meterdb

import (
	"database/sql"
	"time"
)

// EnsureMeter registers address, or refreshes its generation and last_seen.
func (m *MeterDB) EnsureMeter(address, generation string, seen time.Time) error {
	if m.dontWrite {
		m.log.Infof("Not registering meter %s (%s): writes disabled", address, generation)
		return nil
	}
	_, err := m.db.Exec(
		"INSERT INTO meters (address, generation, first_seen, last_seen) "+
			"VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(address) DO UPDATE SET generation = excluded.generation, last_seen = excluded.last_seen",
		address,
		generation,
		seen.Unix(),
		seen.Unix(),
	)
	return err
}

func (m *MeterDB) GetMeters() ([]MeterDbMeter, error) {
	rows, err := m.db.Query("SELECT address, generation, first_seen, last_seen FROM meters ORDER BY address")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meters []MeterDbMeter
	for rows.Next() {
		var meter MeterDbMeter
		if err := rows.Scan(&meter.Address, &meter.Generation, &meter.FirstSeen, &meter.LastSeen); err != nil {
			return nil, err
		}
		meters = append(meters, meter)
	}
	return meters, rows.Err()
}

func (m *MeterDB) InsertRawRecord(record *MeterDbRawRecord) error {
	if m.dontWrite {
		m.log.Infof("Not saving %s record of meter %s: writes disabled", record.Kind, record.Address)
		return nil
	}

	var meterTime sql.NullInt64
	if record.MeterTime != 0 {
		meterTime = sql.NullInt64{Int64: record.MeterTime, Valid: true}
	}
	var totalKwh sql.NullInt64
	if record.TotalKwh != nil {
		totalKwh = sql.NullInt64{Int64: *record.TotalKwh, Valid: true}
	}

	res, err := m.db.Exec(
		"INSERT INTO raw_meter_data "+
			"(kind, address, received_at, meter_time, model, firmware, crc_valid, total_kwh, payload) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		record.Kind,
		record.Address,
		record.ReceivedAt,
		meterTime,
		record.Model,
		record.Firmware,
		record.CRCValid,
		totalKwh,
		record.Payload,
	)
	if err != nil {
		return err
	}
	record.ID, _ = res.LastInsertId()

	_, err = m.db.Exec("UPDATE meters SET last_seen = ? WHERE address = ?", record.ReceivedAt, record.Address)
	return err
}

// GetRawRecords returns the records of address received in [from, to).
func (m *MeterDB) GetRawRecords(address string, from, to int64) ([]MeterDbRawRecord, error) {
	rows, err := m.db.Query(
		"SELECT id, kind, address, received_at, meter_time, model, firmware, crc_valid, total_kwh, payload "+
			"FROM raw_meter_data WHERE address = ? AND received_at >= ? AND received_at < ? "+
			"ORDER BY received_at, id",
		address, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MeterDbRawRecord
	for rows.Next() {
		var (
			r         MeterDbRawRecord
			meterTime sql.NullInt64
			totalKwh  sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Address, &r.ReceivedAt, &meterTime, &r.Model, &r.Firmware, &r.CRCValid, &totalKwh, &r.Payload); err != nil {
			return nil, err
		}
		r.MeterTime = meterTime.Int64
		if totalKwh.Valid {
			v := totalKwh.Int64
			r.TotalKwh = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertDebugInfo stores a block of flushed diagnostics.
func (m *MeterDB) InsertDebugInfo(at time.Time, text string) error {
	_, err := m.db.Exec(
		"INSERT INTO debug_info (timestamp, info) VALUES (?, ?)",
		at.Unix(),
		text,
	)
	return err
}

func (m *MeterDB) GetDebugInfo(since int64) ([]MeterDbDebugInfo, error) {
	rows, err := m.db.Query("SELECT timestamp, info FROM debug_info WHERE timestamp >= ? ORDER BY id", since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MeterDbDebugInfo
	for rows.Next() {
		var d MeterDbDebugInfo
		if err := rows.Scan(&d.Timestamp, &d.Info); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
