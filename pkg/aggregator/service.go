package aggregator

import (
	"database/sql"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/meterdb"
	"github.com/sirupsen/logrus"
)

func New(db *meterdb.MeterDB, retentionDays int, log logrus.FieldLogger) *Aggregator {
	return &Aggregator{db: db, retentionDays: retentionDays, log: log}
}

// roundToDayStart returns the Unix timestamp of the start of the day for the given time
func roundToDayStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

// getDayEnd returns the Unix timestamp of the last second of the day (next day start - 1)
func getDayEnd(dayStart int64) int64 {
	return time.Unix(dayStart, 0).UTC().AddDate(0, 0, 1).Unix() - 1
}

func nextDay(dayStart int64) int64 {
	return getDayEnd(dayStart) + 1
}

// aggregateRecordsDaily rolls up the raw records of one day per meter and kind
func (a *Aggregator) aggregateRecordsDaily(dayStart int64) error {
	db := a.db.GetDB()
	dayEnd := getDayEnd(dayStart)

	query := `
		SELECT
			r.address,
			r.kind,
			COUNT(*) AS sample_count,
			SUM(CASE WHEN r.crc_valid = 0 THEN 1 ELSE 0 END) AS crc_failures,
			MIN(r.received_at) AS first_time,
			MAX(r.received_at) AS last_time,
			(SELECT f.total_kwh FROM raw_meter_data f
				WHERE f.address = r.address AND f.kind = r.kind
				AND f.received_at >= ? AND f.received_at <= ? AND f.total_kwh IS NOT NULL
				ORDER BY f.received_at ASC, f.id ASC LIMIT 1) AS first_total_kwh,
			(SELECT l.total_kwh FROM raw_meter_data l
				WHERE l.address = r.address AND l.kind = r.kind
				AND l.received_at >= ? AND l.received_at <= ? AND l.total_kwh IS NOT NULL
				ORDER BY l.received_at DESC, l.id DESC LIMIT 1) AS last_total_kwh
		FROM raw_meter_data r
		WHERE r.received_at >= ? AND r.received_at <= ?
		GROUP BY r.address, r.kind
	`

	rows, err := db.Query(query, dayStart, dayEnd, dayStart, dayEnd, dayStart, dayEnd)
	if err != nil {
		return err
	}

	var aggregates []meterdb.AggregateRecordsDaily
	for rows.Next() {
		agg := meterdb.AggregateRecordsDaily{DayStart: dayStart}
		var firstKwh, lastKwh sql.NullInt64
		if err := rows.Scan(&agg.Address, &agg.Kind, &agg.SampleCount, &agg.CRCFailures,
			&agg.FirstTime, &agg.LastTime, &firstKwh, &lastKwh); err != nil {
			rows.Close()
			return err
		}
		if firstKwh.Valid {
			agg.FirstTotalKwh = &firstKwh.Int64
		}
		if lastKwh.Valid {
			agg.LastTotalKwh = &lastKwh.Int64
		}
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	// Insert or replace the aggregates
	insertQuery := `
		INSERT OR REPLACE INTO aggregate_records_daily
		(day_start, address, kind, sample_count, crc_failures, first_time, last_time, first_total_kwh, last_total_kwh)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, agg := range aggregates {
		_, err := db.Exec(insertQuery, agg.DayStart, agg.Address, agg.Kind, agg.SampleCount, agg.CRCFailures,
			agg.FirstTime, agg.LastTime, nullable(agg.FirstTotalKwh), nullable(agg.LastTotalKwh))
		if err != nil {
			return err
		}
	}
	return nil
}

func nullable(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// firstPendingDay returns the first day that has raw records but no aggregate yet
func (a *Aggregator) firstPendingDay() (int64, bool, error) {
	db := a.db.GetDB()

	var lastAggregated sql.NullInt64
	if err := db.QueryRow("SELECT MAX(day_start) FROM aggregate_records_daily").Scan(&lastAggregated); err != nil {
		return 0, false, err
	}
	if lastAggregated.Valid {
		return nextDay(lastAggregated.Int64), true, nil
	}

	var firstReceived sql.NullInt64
	if err := db.QueryRow("SELECT MIN(received_at) FROM raw_meter_data").Scan(&firstReceived); err != nil {
		return 0, false, err
	}
	if !firstReceived.Valid {
		// No data yet
		return 0, false, nil
	}
	return roundToDayStart(time.Unix(firstReceived.Int64, 0)), true, nil
}

// cleanupOldData removes raw records past retention if their day has been aggregated
func (a *Aggregator) cleanupOldData(now time.Time) error {
	if a.retentionDays <= 0 {
		return nil
	}
	db := a.db.GetDB()

	cutoff := now.UTC().AddDate(0, 0, -a.retentionDays)
	cutoffTimestamp := roundToDayStart(cutoff)

	var lastAggregateDay sql.NullInt64
	if err := db.QueryRow("SELECT MAX(day_start) FROM aggregate_records_daily").Scan(&lastAggregateDay); err != nil {
		return err
	}
	if !lastAggregateDay.Valid {
		// No aggregates yet, don't clean up
		return nil
	}
	// Never delete past the last aggregated day
	if limit := nextDay(lastAggregateDay.Int64); limit < cutoffTimestamp {
		cutoffTimestamp = limit
	}

	res, err := db.Exec("DELETE FROM raw_meter_data WHERE received_at < ?", cutoffTimestamp)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		a.log.Infof("Cleaned up %d raw records older than %s", n, time.Unix(cutoffTimestamp, 0).UTC().Format(time.RFC3339))
	}
	return nil
}

// AggregateAndCleanup rolls up every finished day not yet aggregated and
// then prunes old raw records. It does its work at most once per UTC day.
func (a *Aggregator) AggregateAndCleanup(now time.Time) error {
	today := roundToDayStart(now)
	if a.lastRunDay == today {
		return nil
	}
	if a.db.DontWrite() {
		a.log.Debug("Not writing to database, skipping aggregation and cleanup")
		a.lastRunDay = today
		return nil
	}

	day, ok, err := a.firstPendingDay()
	if err != nil {
		return err
	}
	for ok && day < today {
		a.log.Debugf("Aggregating records for day starting at %s", time.Unix(day, 0).UTC().Format(time.RFC3339))
		if err := a.aggregateRecordsDaily(day); err != nil {
			a.log.Errorf("Error aggregating records: %v", err)
			return err
		}
		day = nextDay(day)
	}

	if err := a.cleanupOldData(now); err != nil {
		a.log.Errorf("Error cleaning up old data: %v", err)
		return err
	}

	a.lastRunDay = today
	return nil
}

// GetDailyAggregates returns the stored aggregates of address, oldest first.
func (a *Aggregator) GetDailyAggregates(address string) ([]meterdb.AggregateRecordsDaily, error) {
	rows, err := a.db.GetDB().Query(`
		SELECT day_start, address, kind, sample_count, crc_failures, first_time, last_time, first_total_kwh, last_total_kwh
		FROM aggregate_records_daily WHERE address = ? ORDER BY day_start, kind`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []meterdb.AggregateRecordsDaily
	for rows.Next() {
		var agg meterdb.AggregateRecordsDaily
		var firstKwh, lastKwh sql.NullInt64
		if err := rows.Scan(&agg.DayStart, &agg.Address, &agg.Kind, &agg.SampleCount, &agg.CRCFailures,
			&agg.FirstTime, &agg.LastTime, &firstKwh, &lastKwh); err != nil {
			return nil, err
		}
		if firstKwh.Valid {
			agg.FirstTotalKwh = &firstKwh.Int64
		}
		if lastKwh.Valid {
			agg.LastTotalKwh = &lastKwh.Int64
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}
