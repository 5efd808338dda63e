// Package diagnostics builds the logger shared by every component and
// decides where its entries end up: straight to the terminal, or held
// per poll cycle and then printed and/or stored.
package diagnostics

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

func New(opts Options) (*Diagnostics, error) {
	if opts.Mode == "" {
		opts.Mode = ModeBuffered
	}
	if opts.Mode != ModeBuffered && opts.Mode != ModeImmediate {
		return nil, fmt.Errorf("unknown diagnostics mode %q", opts.Mode)
	}
	if opts.Out == nil {
		opts.Out = os.Stderr
	}

	d := &Diagnostics{
		Logger: logrus.New(),
		mode:   opts.Mode,
		show:   opts.Show,
		out:    opts.Out,
		now:    time.Now,
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	d.Logger.SetLevel(level)

	if opts.Format == "json" {
		d.Logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		d.Logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   true,
		})
	}

	d.Logger.SetOutput(d.writer())
	if d.mode == ModeBuffered {
		// Fatal entries exit the process before the buffer is ever flushed.
		d.Logger.AddHook(terminalHook{out: d.out})
	}
	return d, nil
}

// SetSink attaches storage for flushed entries. Immediate mode keeps a copy
// of its output from here on so the sink still receives it.
func (d *Diagnostics) SetSink(sink Sink) {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
	d.Logger.SetOutput(d.writer())
}

func (d *Diagnostics) writer() io.Writer {
	if d.mode == ModeBuffered {
		return bufferWriter{d}
	}
	if d.sink != nil {
		return io.MultiWriter(d.out, bufferWriter{d})
	}
	return d.out
}

// Flush hands the held entries to the terminal and the sink, then empties
// the buffer. Called once per poll cycle.
func (d *Diagnostics) Flush() error {
	d.mu.Lock()
	text := d.buf.String()
	d.buf.Reset()
	sink := d.sink
	d.mu.Unlock()

	if text == "" {
		return nil
	}
	if d.mode == ModeBuffered && d.show {
		if _, err := io.WriteString(d.out, text); err != nil {
			return err
		}
	}
	if sink != nil {
		if err := sink.InsertDebugInfo(d.now(), text); err != nil {
			return fmt.Errorf("storing diagnostics: %w", err)
		}
	}
	return nil
}

// Pending reports how many bytes of entries are held.
func (d *Diagnostics) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Len()
}

type bufferWriter struct {
	d *Diagnostics
}

func (w bufferWriter) Write(p []byte) (int, error) {
	w.d.mu.Lock()
	defer w.d.mu.Unlock()
	return w.d.buf.Write(p)
}

// terminalHook prints entries that end the process straight to out.
type terminalHook struct {
	out io.Writer
}

func (h terminalHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel}
}

func (h terminalHook) Fire(entry *logrus.Entry) error {
	line, err := entry.Bytes()
	if err != nil {
		return err
	}
	_, err = h.out.Write(line)
	return err
}
