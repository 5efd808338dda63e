package scheduler

import (
	"context"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/frames"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/meterdb"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/records"
	"github.com/sirupsen/logrus"
)

// MeterClient is the handshake side of a poll.
type MeterClient interface {
	FetchV3(addr frames.Address) ([]byte, error)
	FetchV4(addr frames.Address, subtype frames.Subtype) ([]byte, error)
	Close() error
	SendControl(addr frames.Address, relay frames.Relay, on bool) error
	SetMeterTime(addr frames.Address) error
}

// Store persists what was read.
type Store interface {
	EnsureMeter(address, generation string, seen time.Time) error
	InsertRawRecord(record *meterdb.MeterDbRawRecord) error
}

// Observer is told about everything a cycle does. All methods are called
// from the polling goroutine.
type Observer interface {
	RecordReceived(rec *records.Record, receivedAt time.Time)
	FetchFailed(addr frames.Address, kind records.Kind, err error)
	RelaySwitched(addr frames.Address, relay frames.Relay, on bool, err error)
	CycleFinished(end time.Time, d time.Duration)
}

// Maintenance runs after each cycle, between meter interactions.
type Maintenance interface {
	AggregateAndCleanup(now time.Time) error
}

// Flusher hands over the diagnostics of a cycle.
type Flusher interface {
	Flush() error
}

type Options struct {
	// Interval between cycle starts, aligned to the wall clock. 0 runs one cycle.
	Interval time.Duration
	// RepeatCount limits the number of cycles. 0 repeats forever.
	RepeatCount int
	// AToBRatio is the number of cycles per B record fetch. 0 never fetches B.
	AToBRatio int
	// WetMarker is a file whose presence closes the irrigation relay.
	// Empty disables relay control.
	WetMarker string
	// CloseMarker is a file whose presence ends the loop after a cycle.
	CloseMarker     string
	IrrigationRelay frames.Relay
}

type Scheduler struct {
	client MeterClient
	store  Store
	log    logrus.FieldLogger
	opts   Options

	observer    Observer
	maintenance Maintenance
	diag        Flusher

	meters []frames.Address
	// Cycles since the last B fetch, per meter.
	bCount       map[frames.Address]int
	initialCount int
	// Date the meter clocks were last brought up to.
	today date

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type date struct {
	year int
	day  int
}
