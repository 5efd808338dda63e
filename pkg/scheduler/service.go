// Package scheduler runs the poll loop: every cycle it reads each meter in
// turn, stores what it got, keeps the meter clocks set and drives the
// irrigation relay from the wet marker.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/frames"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/meterdb"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/records"
	"github.com/sirupsen/logrus"
)

// New normalizes the meter ids and prepares the B record cadence so that it
// lines up with the wall clock rather than with process start.
func New(meterIDs []string, client MeterClient, store Store, opts Options, log logrus.FieldLogger) (*Scheduler, error) {
	if len(meterIDs) == 0 {
		return nil, fmt.Errorf("at least one meter id is required")
	}
	if opts.IrrigationRelay == 0 {
		opts.IrrigationRelay = frames.Relay2
	}

	s := &Scheduler{
		client: client,
		store:  store,
		log:    log,
		opts:   opts,
		bCount: make(map[frames.Address]int),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, id := range meterIDs {
		addr, err := frames.NormalizeAddress(id)
		if err != nil {
			return nil, fmt.Errorf("meter id %q: %w", id, err)
		}
		s.meters = append(s.meters, addr)
	}

	s.initialCount = InitialCadenceCount(s.now(), opts.Interval, opts.AToBRatio)
	log.Infof("interval = %v; aToBRatio = %d; aDataCount = %d", opts.Interval, opts.AToBRatio, s.initialCount)
	return s, nil
}

func (s *Scheduler) SetObserver(o Observer) {
	s.observer = o
}

func (s *Scheduler) SetMaintenance(m Maintenance) {
	s.maintenance = m
}

func (s *Scheduler) SetDiagnostics(f Flusher) {
	s.diag = f
}

// SetClock replaces the wall clock and the sleep between cycles.
func (s *Scheduler) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	s.now = now
	if sleep != nil {
		s.sleep = sleep
	}
}

// SetCadenceCount overrides the wall clock derived B counter of every meter.
func (s *Scheduler) SetCadenceCount(n int) {
	s.initialCount = n
	s.bCount = make(map[frames.Address]int)
}

func (s *Scheduler) Meters() []frames.Address {
	return append([]frames.Address(nil), s.meters...)
}

// InitialCadenceCount places the counter so that B records are fetched in
// the cycles whose index since the epoch is a multiple of ratio.
func InitialCadenceCount(now time.Time, interval time.Duration, ratio int) int {
	if ratio <= 0 {
		return 0
	}
	minutes := now.Unix() / 60
	intervalMinutes := int64(interval / time.Minute)
	if intervalMinutes <= 0 {
		intervalMinutes = 1
	}
	return int((minutes/intervalMinutes)%int64(ratio)) - 1
}

// UntilNextBoundary is the time from now to the next multiple of interval
// since the epoch.
func UntilNextBoundary(now time.Time, interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return interval - time.Duration(now.UnixNano()%int64(interval))
}

// InitializeMeters sets every meter's clock and registers it for storage.
// Only storage failures are returned.
func (s *Scheduler) InitializeMeters() error {
	now := s.now()
	for _, addr := range s.meters {
		gen := addr.Generation()
		s.log.Infof("Initializing %s meter %s", gen, addr)
		if err := s.client.SetMeterTime(addr); err != nil {
			s.log.Warnf("Could not set time of meter %s: %v", addr, err)
		}
		if err := s.store.EnsureMeter(string(addr), gen.String(), now); err != nil {
			return fmt.Errorf("registering meter %s: %w", addr, err)
		}
	}
	return nil
}

// Run polls until the repeat count is used up, the close marker appears or
// ctx is cancelled. Cycles start on interval boundaries of the wall clock.
func (s *Scheduler) Run(ctx context.Context) error {
	s.today = dateOf(s.now())
	defer s.flush()

	for iteration := 1; ; iteration++ {
		start := s.now()
		s.RunCycle(ctx)
		end := s.now()
		s.log.Infof("Poll cycle %d finished in %v", iteration, end.Sub(start))
		if s.observer != nil {
			s.observer.CycleFinished(end, end.Sub(start))
		}

		if s.maintenance != nil {
			if err := s.maintenance.AggregateAndCleanup(end); err != nil {
				s.log.Errorf("Aggregation failed: %v", err)
			}
		}

		if s.closeRequested() {
			return nil
		}

		if ctx.Err() != nil {
			return nil
		}
		if s.opts.Interval <= 0 {
			s.log.Info("Read meters just once.")
			return nil
		}
		if s.opts.RepeatCount > 0 && iteration >= s.opts.RepeatCount {
			return nil
		}

		s.flush()
		wait := UntilNextBoundary(s.now(), s.opts.Interval)
		s.log.Infof("Sleeping for %v.", wait)
		if err := s.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// RunCycle makes one pass over all meters. A failing meter never stops
// the pass; a cancelled ctx stops it between meters. When the date after
// the pass differs from the date the pass started on, every v.4 meter has
// its clock set.
func (s *Scheduler) RunCycle(ctx context.Context) {
	if s.today == (date{}) {
		s.today = dateOf(s.now())
	}

	for _, addr := range s.meters {
		if ctx.Err() != nil {
			s.log.Info("Stopping cycle early")
			return
		}
		s.log.Infof("Getting data from meter: %s", addr)
		switch addr.Generation() {
		case frames.GenerationV4:
			s.pollV4(addr)
		default:
			s.pollV3(addr)
		}
	}

	if today := dateOf(s.now()); today != s.today {
		s.setMeterTimes(ctx)
		if ctx.Err() == nil {
			s.today = today
		}
	}
}

// setMeterTimes sets the clock of each v.4 meter. V3 meters have none to set.
func (s *Scheduler) setMeterTimes(ctx context.Context) {
	for _, addr := range s.meters {
		if ctx.Err() != nil {
			return
		}
		if addr.Generation() != frames.GenerationV4 {
			continue
		}
		if err := s.client.SetMeterTime(addr); err != nil {
			s.log.Warnf("Daily time set of meter %s failed: %v", addr, err)
		}
	}
}

func (s *Scheduler) pollV3(addr frames.Address) {
	s.log.Debug("The meter is a v.3 meter.")
	raw, err := s.client.FetchV3(addr)
	s.handle(addr, records.KindV3, raw, err)
}

func (s *Scheduler) pollV4(addr frames.Address) {
	s.log.Debug("The meter is a v.4 meter.")

	raw, err := s.client.FetchV4(addr, frames.SubtypeA)
	recA := s.handle(addr, records.KindV4A, raw, err)

	if s.opts.AToBRatio > 0 {
		count, ok := s.bCount[addr]
		if !ok {
			count = s.initialCount
		}
		count++
		if count >= s.opts.AToBRatio {
			raw, err := s.client.FetchV4(addr, frames.SubtypeB)
			if s.handle(addr, records.KindV4B, raw, err) != nil {
				count = 0
			}
		}
		s.bCount[addr] = count
	}

	if err := s.client.Close(); err != nil {
		s.log.Warnf("Could not close session with meter %s: %v", addr, err)
	}

	if recA != nil {
		s.applyRelay(addr, recA)
	}
}

// handle validates, stores and publishes a fetched record. It returns nil
// when nothing was received.
func (s *Scheduler) handle(addr frames.Address, kind records.Kind, raw []byte, fetchErr error) *records.Record {
	if fetchErr != nil {
		s.log.Warnf("Could not get %s record from meter %s: %v", kind, addr, fetchErr)
		if s.observer != nil {
			s.observer.FetchFailed(addr, kind, fetchErr)
		}
		return nil
	}
	receivedAt := s.now()

	rec, err := records.Decode(raw, kind)
	if err != nil {
		s.log.Errorf("Could not decode %s record from meter %s: %v", kind, addr, err)
		if s.observer != nil {
			s.observer.FetchFailed(addr, kind, err)
		}
		return nil
	}

	// Corrupt records are kept; the CRC result only goes to diagnostics.
	if rec.CRCValid {
		s.log.Debugf("%s response crc is valid.", kind)
	} else {
		s.log.Warnf("%s response crc from meter %s is NOT valid.", kind, addr)
	}
	if rec.Address != addr {
		s.log.Warnf("Meter %s answered with address %q", addr, rec.Address)
	}

	row := &meterdb.MeterDbRawRecord{
		Kind:       string(kind),
		Address:    string(rec.Address),
		ReceivedAt: receivedAt.Unix(),
		Model:      rec.ModelHex(),
		Firmware:   rec.Firmware,
		CRCValid:   rec.CRCValid,
		Payload:    rec.Raw,
	}
	if rec.TimeValid {
		row.MeterTime = rec.MeterTime.Unix()
	}
	if kwh, ok := rec.Int("total_kwh"); ok {
		row.TotalKwh = &kwh
	}
	if err := s.store.InsertRawRecord(row); err != nil {
		s.log.Errorf("Could not save %s response to database: %v", kind, err)
	} else {
		s.log.Debugf("Saved %s response to database.", kind)
	}

	if s.observer != nil {
		s.observer.RecordReceived(rec, receivedAt)
	}
	return rec
}

// applyRelay closes the irrigation relay while the wet marker exists and
// opens it otherwise. A command is only sent when the reported state differs.
func (s *Scheduler) applyRelay(addr frames.Address, recA *records.Record) {
	if s.opts.WetMarker == "" {
		return
	}
	relay := s.opts.IrrigationRelay
	current, ok := recA.RelayOn(relay)
	if !ok {
		s.log.Warnf("Record of meter %s carries no output state", addr)
		return
	}
	wet := fileExists(s.opts.WetMarker)
	if current == wet {
		s.log.Debugf("Output %d of meter %s already %s (wet = %v)", relay, addr, onOff(current), wet)
		return
	}

	s.log.Infof("Switching output %d of meter %s %s (wet = %v)", relay, addr, onOff(wet), wet)
	err := s.client.SendControl(addr, relay, wet)
	if err != nil {
		s.log.Warnf("Could not switch output %d of meter %s: %v", relay, addr, err)
	}
	if s.observer != nil {
		s.observer.RelaySwitched(addr, relay, wet, err)
	}
}

func (s *Scheduler) closeRequested() bool {
	if s.opts.CloseMarker == "" || !fileExists(s.opts.CloseMarker) {
		return false
	}
	s.log.Infof("Quitting because %s was seen.", s.opts.CloseMarker)
	if err := os.Remove(s.opts.CloseMarker); err != nil {
		s.log.Warnf("Could not delete %s: %v", s.opts.CloseMarker, err)
	}
	return true
}

func (s *Scheduler) flush() {
	if s.diag == nil {
		return
	}
	if err := s.diag.Flush(); err != nil {
		s.log.Warnf("Could not flush diagnostics: %v", err)
	}
}

func dateOf(t time.Time) date {
	return date{year: t.Year(), day: t.YearDay()}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
