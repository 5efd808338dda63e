// Package handshake implements the exchanges with a meter: plain record
// fetches with bounded retries and the password protected control and
// set-time sequences that V4 meters accept.
package handshake

import (
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/frames"
	"github.com/NotCoffee418/ekm_meter_reader/pkg/records"
	"github.com/sirupsen/logrus"
)

const MaxTries = 10

var (
	ErrNotV4            = errors.New("meter does not accept commands")
	ErrNotAcknowledged  = errors.New("meter did not acknowledge")
	ErrRetriesExhausted = errors.New("no response after retries")
)

func NewClient(io FrameIO, log logrus.FieldLogger) *Client {
	return &Client{
		io:       io,
		log:      log,
		maxTries: MaxTries,
		now:      time.Now,
	}
}

func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// SetClock replaces the time source used for set-time frames.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

// LastSession returns the state the most recent interaction ended in.
func (c *Client) LastSession() Session {
	return c.last
}

// FetchV3 requests the single record of a V3 meter and closes the session
// once it has been received.
func (c *Client) FetchV3(addr frames.Address) ([]byte, error) {
	s := c.begin(addr, "fetch_v3")
	buf, err := c.request(s, frames.SubtypeA, false)
	if err == nil {
		if cerr := c.io.WriteFrame(frames.Close()); cerr != nil {
			c.log.Warnf("Could not close session with meter %s: %v", addr, cerr)
		}
		s.Phase = PhaseClosed
	}
	c.finish(s, err)
	return buf, err
}

// FetchV4 requests the A or B record of a V4 meter. The session is left
// open; the caller closes it after its last fetch for the meter.
func (c *Client) FetchV4(addr frames.Address, subtype frames.Subtype) ([]byte, error) {
	s := c.begin(addr, "fetch_v4_"+subtype.String())
	buf, err := c.request(s, subtype, true)
	c.finish(s, err)
	return buf, err
}

// Close ends whatever session is open on the line.
func (c *Client) Close() error {
	return c.io.WriteFrame(frames.Close())
}

// SendControl switches relay of a V4 meter.
func (c *Client) SendControl(addr frames.Address, relay frames.Relay, on bool) error {
	if addr.Generation() != frames.GenerationV4 {
		c.log.Debugf("Meter %s only knows how to take controls as V4", addr)
		return ErrNotV4
	}
	frame, err := frames.Control(relay, on)
	if err != nil {
		return err
	}
	return c.command(addr, "control", func() []byte { return frame })
}

// SetMeterTime writes the current local standard time to a V4 meter.
// V3 meters are left alone and reported as done.
func (c *Client) SetMeterTime(addr frames.Address) error {
	if addr.Generation() != frames.GenerationV4 {
		c.log.Debugf("Meter %s is not V4, time not set", addr)
		return nil
	}
	return c.command(addr, "set_time", func() []byte {
		now := frames.LocalStandardTime(c.now())
		c.log.Infof("Setting meter %s time to %s", addr, now.Format("2006-01-02 15:04:05"))
		return frames.SetTime(now)
	})
}

func (c *Client) begin(addr frames.Address, op string) *Session {
	c.last = Session{Address: addr, Op: op, Phase: PhaseIdle}
	return &c.last
}

func (c *Client) finish(s *Session, err error) {
	if err != nil {
		s.Failed = s.Phase
		c.log.Warnf("%s with meter %s failed in phase %s: %v", s.Op, s.Address, s.Phase, err)
	}
	if c.observer != nil {
		c.observer.HandshakeFinished(s.Op, err)
	}
}

// request writes the request frame and reads the 255 byte answer, up to
// maxTries times. V4 lines have stale input cleared before each attempt;
// V3 lines only have their error flag reset.
func (c *Client) request(s *Session, subtype frames.Subtype, clearInput bool) ([]byte, error) {
	frame := frames.Request(s.Address, subtype)
	buf := make([]byte, records.RecordSize)

	var errs []error
	for s.Attempts < c.maxTries {
		s.Attempts++
		if clearInput {
			if err := c.io.ClearInput(); err != nil {
				c.log.Warnf("Clearing serial port data had error: %v", err)
			}
		}
		c.io.ClearError()

		c.log.Debugf("Attempt %d of %d to get %s record from meter %s", s.Attempts, c.maxTries, subtype, s.Address)
		s.Phase = PhaseRequestSent
		if err := c.io.WriteFrame(frame); err != nil {
			errs = append(errs, fmt.Errorf("attempt %d: %w", s.Attempts, err))
			continue
		}

		s.Phase = PhaseAwaitingResponse
		if err := c.io.ReadFrame(buf); err != nil {
			errs = append(errs, fmt.Errorf("attempt %d: %w", s.Attempts, err))
			continue
		}

		s.Phase = PhaseResponded
		return buf, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, errors.Join(errs...))
}

// command runs request A, password, ack, build(), ack. The close frame is
// written however far the sequence got. The result is decided by the final
// ack; a close that fails afterwards is only logged.
func (c *Client) command(addr frames.Address, op string, build func() []byte) (err error) {
	s := c.begin(addr, op)
	defer func() { c.finish(s, err) }()
	defer func() {
		if cerr := c.io.WriteFrame(frames.Close()); cerr != nil {
			c.log.Warnf("Could not close session with meter %s: %v", addr, cerr)
			return
		}
		if err == nil {
			s.Phase = PhaseClosed
		}
	}()

	if _, err = c.request(s, frames.SubtypeA, true); err != nil {
		return err
	}

	s.Phase = PhasePasswordSent
	if err = c.io.WriteFrame(frames.Password()); err != nil {
		return fmt.Errorf("writing password: %w", err)
	}
	s.Phase = PhaseAwaitingAck
	if err = c.readAck(); err != nil {
		return fmt.Errorf("password: %w", err)
	}
	s.Phase = PhaseAuthenticated
	c.log.Debug("Got ACK from password")

	s.Phase = PhaseCommandSent
	if err = c.io.WriteFrame(build()); err != nil {
		return fmt.Errorf("writing %s: %w", op, err)
	}
	s.Phase = PhaseAwaitingFinalAck
	if err = c.readAck(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.Phase = PhaseDone
	c.log.Debugf("Got ACK from %s", op)
	return nil
}

func (c *Client) readAck() error {
	ack := make([]byte, 1)
	if err := c.io.ReadFrame(ack); err != nil {
		return err
	}
	if ack[0] != frames.ACK {
		return fmt.Errorf("%w: got 0x%02x", ErrNotAcknowledged, ack[0])
	}
	return nil
}
