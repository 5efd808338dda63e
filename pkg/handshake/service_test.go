package handshake

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/frames"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/port_reader"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/port_reader/linktest"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/records"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/records/recordtest"
	"github.com/sirupsen/logrus"
)

const (
	v4Addr frames.Address = "000300001234"
	v3Addr frames.Address = "000012345678"
)

var (
	ack = []byte{frames.ACK}
	nak = []byte{0x15}
)

func newTestClient(link *linktest.ScriptedLink) *Client {
	log := logrus.New()
	log.SetOutput(io.Discard)
	tr := port_reader.NewTransport(link, log)
	tr.SetSleepFunc(func(time.Duration) {})
	return NewClient(tr, log)
}

func recordA(addr frames.Address) []byte {
	return recordtest.Build(records.KindV4A, addr, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), nil)
}

func assertWritten(t *testing.T, link *linktest.ScriptedLink, want ...[]byte) {
	t.Helper()
	got := link.Written()
	if len(got) != len(want) {
		t.Fatalf("wrote %d frames, want %d: % x", len(got), len(want), got)
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("frame %d = % x, want % x", i, got[i], want[i])
		}
	}
}

type recordingObserver struct {
	ops  []string
	errs []error
}

func (r *recordingObserver) HandshakeFinished(op string, err error) {
	r.ops = append(r.ops, op)
	r.errs = append(r.errs, err)
}

func TestSendControl_Relay2On(t *testing.T) {
	link := linktest.New()
	link.QueueReply(linktest.Chunk(recordA(v4Addr), 64)...)
	link.QueueReply(ack)
	link.QueueReply(ack)

	c := newTestClient(link)
	if err := c.SendControl(v4Addr, frames.Relay2, true); err != nil {
		t.Fatalf("SendControl failed: %v", err)
	}

	control, _ := frames.Control(frames.Relay2, true)
	assertWritten(t, link,
		frames.Request(v4Addr, frames.SubtypeA),
		frames.Password(),
		control,
		frames.Close(),
	)
	if s := c.LastSession(); s.Phase != PhaseClosed || s.Failed != "" || s.Attempts != 1 {
		t.Errorf("session = %+v", s)
	}
}

func TestSendControl_PasswordRejected(t *testing.T) {
	link := linktest.New()
	link.QueueReply(recordA(v4Addr))
	link.QueueReply(nak)

	c := newTestClient(link)
	err := c.SendControl(v4Addr, frames.Relay1, false)
	if !errors.Is(err, ErrNotAcknowledged) {
		t.Fatalf("expected ErrNotAcknowledged, got %v", err)
	}

	assertWritten(t, link,
		frames.Request(v4Addr, frames.SubtypeA),
		frames.Password(),
		frames.Close(),
	)
	if s := c.LastSession(); s.Failed != PhaseAwaitingAck {
		t.Errorf("failed phase = %s", s.Failed)
	}
}

func TestSendControl_CommandNotAcknowledged(t *testing.T) {
	link := linktest.New()
	link.QueueReply(recordA(v4Addr))
	link.QueueReply(ack)
	link.QueueReply() // silence after the control frame

	c := newTestClient(link)
	err := c.SendControl(v4Addr, frames.Relay2, false)
	if !errors.Is(err, port_reader.ErrReadTimeout) {
		t.Fatalf("expected read timeout, got %v", err)
	}

	control, _ := frames.Control(frames.Relay2, false)
	assertWritten(t, link,
		frames.Request(v4Addr, frames.SubtypeA),
		frames.Password(),
		control,
		frames.Close(),
	)
	if s := c.LastSession(); s.Failed != PhaseAwaitingFinalAck {
		t.Errorf("failed phase = %s", s.Failed)
	}
}

// closeFails passes every frame through except the close frame.
type closeFails struct {
	FrameIO
}

func (c closeFails) WriteFrame(frame []byte) error {
	if bytes.Equal(frame, frames.Close()) {
		return port_reader.ErrWriteTimeout
	}
	return c.FrameIO.WriteFrame(frame)
}

func TestSendControl_AcknowledgedDespiteCloseFailure(t *testing.T) {
	link := linktest.New()
	link.QueueReply(recordA(v4Addr))
	link.QueueReply(ack)
	link.QueueReply(ack)

	log := logrus.New()
	log.SetOutput(io.Discard)
	tr := port_reader.NewTransport(link, log)
	tr.SetSleepFunc(func(time.Duration) {})
	c := NewClient(closeFails{tr}, log)
	obs := &recordingObserver{}
	c.SetObserver(obs)

	if err := c.SendControl(v4Addr, frames.Relay2, true); err != nil {
		t.Fatalf("acknowledged command reported as failed: %v", err)
	}
	if len(obs.errs) != 1 || obs.errs[0] != nil {
		t.Errorf("observer errors = %v", obs.errs)
	}
	if s := c.LastSession(); s.Phase != PhaseDone || s.Failed != "" {
		t.Errorf("session = %+v", s)
	}
}

func TestSendControl_NoResponseStillCloses(t *testing.T) {
	link := linktest.New()
	c := newTestClient(link)

	err := c.SendControl(v4Addr, frames.Relay2, true)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}

	written := link.Written()
	if len(written) != MaxTries+1 {
		t.Fatalf("wrote %d frames, want %d", len(written), MaxTries+1)
	}
	if !bytes.Equal(written[MaxTries], frames.Close()) {
		t.Errorf("last frame = % x, want close", written[MaxTries])
	}
}

func TestSendControl_RejectsV3(t *testing.T) {
	link := linktest.New()
	c := newTestClient(link)

	if err := c.SendControl(v3Addr, frames.Relay2, true); !errors.Is(err, ErrNotV4) {
		t.Fatalf("expected ErrNotV4, got %v", err)
	}
	if n := len(link.Written()); n != 0 {
		t.Errorf("wrote %d frames to a V3 meter", n)
	}
}

func TestSetMeterTime(t *testing.T) {
	link := linktest.New()
	link.QueueReply(recordA(v4Addr))
	link.QueueReply(ack)
	link.QueueReply(ack)

	now := time.Date(2015, 9, 1, 10, 6, 20, 0, time.UTC)
	c := newTestClient(link)
	c.SetClock(func() time.Time { return now })

	if err := c.SetMeterTime(v4Addr); err != nil {
		t.Fatalf("SetMeterTime failed: %v", err)
	}
	assertWritten(t, link,
		frames.Request(v4Addr, frames.SubtypeA),
		frames.Password(),
		frames.SetTime(now),
		frames.Close(),
	)
}

func TestSetMeterTime_V3IsNoop(t *testing.T) {
	link := linktest.New()
	c := newTestClient(link)

	if err := c.SetMeterTime(v3Addr); err != nil {
		t.Fatalf("expected success without action, got %v", err)
	}
	if n := len(link.Written()); n != 0 {
		t.Errorf("wrote %d frames", n)
	}
}

func TestFetchV4_RetriesClearInput(t *testing.T) {
	link := linktest.New()
	link.QueueReply()
	link.QueueReply()
	link.QueueReply(recordA(v4Addr))

	c := newTestClient(link)
	buf, err := c.FetchV4(v4Addr, frames.SubtypeA)
	if err != nil {
		t.Fatalf("FetchV4 failed: %v", err)
	}
	if !bytes.Equal(buf, recordA(v4Addr)) {
		t.Error("record not returned intact")
	}
	if link.Clears != 3 || link.ErrorClears != 3 {
		t.Errorf("clears = %d, error clears = %d; want 3 and 3", link.Clears, link.ErrorClears)
	}
	req := frames.Request(v4Addr, frames.SubtypeA)
	assertWritten(t, link, req, req, req)
}

func TestFetchV4_SucceedsOnLastAttempt(t *testing.T) {
	link := linktest.New()
	for i := 0; i < MaxTries-1; i++ {
		link.QueueReply()
	}
	link.QueueReply(recordtest.Build(records.KindV4B, v4Addr, time.Now().UTC(), nil))

	c := newTestClient(link)
	if _, err := c.FetchV4(v4Addr, frames.SubtypeB); err != nil {
		t.Fatalf("tenth attempt should count: %v", err)
	}
	if s := c.LastSession(); s.Attempts != MaxTries {
		t.Errorf("attempts = %d", s.Attempts)
	}
}

func TestFetchV4_GivesUpAfterMaxTries(t *testing.T) {
	link := linktest.New()
	obs := &recordingObserver{}
	c := newTestClient(link)
	c.SetObserver(obs)

	_, err := c.FetchV4(v4Addr, frames.SubtypeB)
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, port_reader.ErrReadTimeout) {
		t.Fatalf("unexpected error %v", err)
	}
	if n := len(link.Written()); n != MaxTries {
		t.Errorf("wrote %d requests, want %d", n, MaxTries)
	}
	if len(obs.ops) != 1 || obs.ops[0] != "fetch_v4_B" || obs.errs[0] == nil {
		t.Errorf("observer saw %v %v", obs.ops, obs.errs)
	}
}

func TestFetchV3_OnlyClearsErrorFlagAndCloses(t *testing.T) {
	rec := recordtest.Build(records.KindV3, v3Addr, time.Now().UTC(), nil)
	link := linktest.New()
	link.QueueReply()
	link.QueueReply(linktest.Chunk(rec, 1)...)

	c := newTestClient(link)
	buf, err := c.FetchV3(v3Addr)
	if err != nil {
		t.Fatalf("FetchV3 failed: %v", err)
	}
	if !bytes.Equal(buf, rec) {
		t.Error("record not reassembled")
	}
	if link.Clears != 0 || link.ErrorClears != 2 {
		t.Errorf("clears = %d, error clears = %d; want 0 and 2", link.Clears, link.ErrorClears)
	}
	req := frames.Request(v3Addr, frames.SubtypeA)
	assertWritten(t, link, req, req, frames.Close())
}

func TestFetchV3_NoCloseOnFailure(t *testing.T) {
	link := linktest.New()
	c := newTestClient(link)

	if _, err := c.FetchV3(v3Addr); !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	for _, f := range link.Written() {
		if bytes.Equal(f, frames.Close()) {
			t.Fatal("close written after failed V3 fetch")
		}
	}
}

func TestFetch_WriteFailureCountsAsAttempt(t *testing.T) {
	link := linktest.New()
	link.WriteStalls = true
	c := newTestClient(link)

	_, err := c.FetchV4(v4Addr, frames.SubtypeA)
	if !errors.Is(err, port_reader.ErrWriteTimeout) {
		t.Fatalf("expected write timeout, got %v", err)
	}
	if s := c.LastSession(); s.Attempts != MaxTries || s.Failed != PhaseRequestSent {
		t.Errorf("session = %+v", s)
	}
}
