package meterdb

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func openTestDB(t *testing.T) *MeterDB {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	m, err := Open(filepath.Join(t.TempDir(), "meters.db"), log)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open("", logrus.New()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	m := openTestDB(t)
	if err := m.InitializeDatabase(); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}
	var n int
	if err := m.GetDB().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('meters', 'debug_info', 'aggregate_records_daily')").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("found %d of 3 tables", n)
	}
}

func TestEnsureMeter(t *testing.T) {
	m := openTestDB(t)
	first := time.Unix(1700000000, 0)

	if err := m.EnsureMeter("000300001234", "V4", first); err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureMeter("000300001234", "V4", first.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureMeter("000000012345", "V3", first); err != nil {
		t.Fatal(err)
	}

	meters, err := m.GetMeters()
	if err != nil {
		t.Fatal(err)
	}
	if len(meters) != 2 {
		t.Fatalf("got %d meters", len(meters))
	}
	v4 := meters[1]
	if v4.Address != "000300001234" || v4.FirstSeen != first.Unix() || v4.LastSeen != first.Add(time.Hour).Unix() {
		t.Errorf("meter = %+v", v4)
	}
}

func TestInsertRawRecord(t *testing.T) {
	m := openTestDB(t)
	payload := bytes.Repeat([]byte{0x30}, 255)
	kwh := int64(123456)

	records := []*MeterDbRawRecord{
		{Kind: "V4A", Address: "000300001234", ReceivedAt: 100, MeterTime: 99, Model: "1024", Firmware: 0x15, CRCValid: true, TotalKwh: &kwh, Payload: payload},
		{Kind: "V4B", Address: "000300001234", ReceivedAt: 101, Model: "1024", Firmware: 0x15, Payload: payload},
		{Kind: "V4A", Address: "000300009999", ReceivedAt: 100, Model: "1024", Payload: payload},
	}
	for _, r := range records {
		if err := m.InsertRawRecord(r); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		if r.ID == 0 {
			t.Error("id not set")
		}
	}

	got, err := m.GetRawRecords("000300001234", 0, 200)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records", len(got))
	}
	if got[0].TotalKwh == nil || *got[0].TotalKwh != kwh || !got[0].CRCValid || got[0].MeterTime != 99 {
		t.Errorf("first record = %+v", got[0])
	}
	if got[1].TotalKwh != nil || got[1].CRCValid || got[1].MeterTime != 0 {
		t.Errorf("second record = %+v", got[1])
	}
	if !bytes.Equal(got[1].Payload, payload) {
		t.Error("payload changed")
	}
}

func TestDontWrite(t *testing.T) {
	m := openTestDB(t)
	m.SetDontWrite(true)

	if err := m.EnsureMeter("000300001234", "V4", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := m.InsertRawRecord(&MeterDbRawRecord{Kind: "V4A", Address: "000300001234", ReceivedAt: 1, Payload: []byte{1}}); err != nil {
		t.Fatal(err)
	}

	meters, _ := m.GetMeters()
	records, _ := m.GetRawRecords("000300001234", 0, 10)
	if len(meters) != 0 || len(records) != 0 {
		t.Errorf("writes happened: %d meters, %d records", len(meters), len(records))
	}
}

func TestDebugInfo(t *testing.T) {
	m := openTestDB(t)
	at := time.Unix(1700000000, 0)

	if err := m.InsertDebugInfo(at, "level=info msg=\"cycle done\"\n"); err != nil {
		t.Fatal(err)
	}
	infos, err := m.GetDebugInfo(at.Unix())
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Timestamp != at.Unix() {
		t.Errorf("debug info = %+v", infos)
	}
}
