package port_reader

import (
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Link is the byte level view of a half duplex meter line.
type Link interface {
	Write(p []byte) (int, error)
	// WaitForBytesWritten blocks until queued output is on the wire.
	WaitForBytesWritten(timeout time.Duration) bool
	// WaitForReadyRead blocks until new bytes arrive or timeout elapses.
	WaitForReadyRead(timeout time.Duration) bool
	BytesAvailable() int
	// ReadAll drains everything received so far. A non nil error means
	// the line reported a fault.
	ReadAll() ([]byte, error)
	// Clear discards received but unread bytes.
	Clear() error
	ClearError()
}

// SerialLink adapts a blocking serial port to Link. A pump goroutine moves
// incoming bytes into a buffer so the protocol code can poll for them.
type SerialLink struct {
	device string
	driver string
	port   io.ReadWriteCloser
	log    logrus.FieldLogger

	mu      sync.Mutex
	pending []byte
	err     error
	notify  chan struct{}
	done    chan struct{}
	closed  bool
}

// Transport writes whole frames and reads fixed size responses.
type Transport struct {
	link           Link
	log            logrus.FieldLogger
	bytesPerSecond int64
	sleep          func(time.Duration)
}
