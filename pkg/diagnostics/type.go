package diagnostics

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Mode string

const (
	// ModeBuffered holds entries until the end of the poll cycle.
	ModeBuffered Mode = "buffered"
	// ModeImmediate prints every entry as it is produced.
	ModeImmediate Mode = "immediate"
)

type Options struct {
	Level  string
	Format string
	Mode   Mode
	// Show prints buffered entries when they are flushed.
	Show bool
	// Out receives printed entries. Defaults to stderr.
	Out io.Writer
}

// Sink stores flushed diagnostics, usually the debug_info table.
type Sink interface {
	InsertDebugInfo(at time.Time, text string) error
}

// Diagnostics owns the process logger and the buffer behind it.
type Diagnostics struct {
	Logger *logrus.Logger

	mode Mode
	show bool
	out  io.Writer
	sink Sink

	mu  sync.Mutex
	buf bytes.Buffer
	now func() time.Time
}
