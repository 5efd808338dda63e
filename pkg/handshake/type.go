package handshake

import (
	"time"

	"github.com/NotCoffee418/ekm_meter_reader/pkg/frames"
	"github.com/sirupsen/logrus"
)

// FrameIO is the part of the transport a handshake drives.
type FrameIO interface {
	WriteFrame(frame []byte) error
	ReadFrame(buf []byte) error
	ClearInput() error
	ClearError()
}

// Observer is told how each interaction ended.
type Observer interface {
	HandshakeFinished(op string, err error)
}

type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseRequestSent      Phase = "request_sent"
	PhaseAwaitingResponse Phase = "awaiting_response"
	PhaseResponded        Phase = "responded"
	PhasePasswordSent     Phase = "password_sent"
	PhaseAwaitingAck      Phase = "awaiting_ack"
	PhaseAuthenticated    Phase = "authenticated"
	PhaseCommandSent      Phase = "command_sent"
	PhaseAwaitingFinalAck Phase = "awaiting_final_ack"
	PhaseDone             Phase = "done"
	PhaseClosed           Phase = "closed"
)

// Session is the state of one interaction with one meter. It lives for a
// single call and is only kept afterwards for inspection.
type Session struct {
	Address  frames.Address
	Op       string
	Phase    Phase
	Attempts int
	// Failed is the phase the interaction broke off in, if any.
	Failed Phase
}

// Client runs request/response and authenticated command exchanges over a
// single line. It is not safe for concurrent use; the line is half duplex.
type Client struct {
	io       FrameIO
	log      logrus.FieldLogger
	observer Observer
	maxTries int
	now      func() time.Time

	last Session
}
