package diagnostics

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

type memorySink struct {
	entries []string
	err     error
}

func (m *memorySink) InsertDebugInfo(_ time.Time, text string) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, text)
	return nil
}

func TestBuffered_HoldsUntilFlush(t *testing.T) {
	var out bytes.Buffer
	d, err := New(Options{Level: "debug", Mode: ModeBuffered, Show: true, Out: &out})
	if err != nil {
		t.Fatal(err)
	}

	d.Logger.Info("Getting data from meter")
	if out.Len() != 0 {
		t.Fatalf("buffered entry printed early: %q", out.String())
	}
	if d.Pending() == 0 {
		t.Fatal("entry not held")
	}

	if err := d.Flush(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Getting data from meter") {
		t.Errorf("flush did not print entry: %q", out.String())
	}
	if d.Pending() != 0 {
		t.Error("buffer not emptied by flush")
	}
}

func TestBuffered_SilentWithoutShow(t *testing.T) {
	var out bytes.Buffer
	sink := &memorySink{}
	d, _ := New(Options{Mode: ModeBuffered, Out: &out})
	d.SetSink(sink)

	d.Logger.Warn("responseA crc is NOT valid")
	if err := d.Flush(); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output %q", out.String())
	}
	if len(sink.entries) != 1 || !strings.Contains(sink.entries[0], "crc is NOT valid") {
		t.Errorf("sink entries = %q", sink.entries)
	}
}

func TestImmediate_PrintsAtOnce(t *testing.T) {
	var out bytes.Buffer
	sink := &memorySink{}
	d, _ := New(Options{Mode: ModeImmediate, Format: "json", Out: &out})
	d.SetSink(sink)

	d.Logger.Info("hello")
	if !strings.Contains(out.String(), `"msg":"hello"`) {
		t.Fatalf("expected json entry, got %q", out.String())
	}

	if err := d.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(sink.entries) != 1 {
		t.Errorf("sink should receive a copy, got %d entries", len(sink.entries))
	}
	if strings.Count(out.String(), "hello") != 1 {
		t.Error("flush reprinted an immediate entry")
	}
}

func TestLevelFilters(t *testing.T) {
	d, _ := New(Options{Level: "warn", Mode: ModeBuffered})
	d.Logger.Info("ignored")
	if d.Pending() != 0 {
		t.Error("info entry kept at warn level")
	}
}

func TestFlush_SinkError(t *testing.T) {
	d, _ := New(Options{Mode: ModeBuffered})
	d.SetSink(&memorySink{err: errors.New("disk full")})
	d.Logger.Error("x")
	if err := d.Flush(); err == nil {
		t.Error("expected sink error")
	}
}

func TestNew_RejectsUnknownMode(t *testing.T) {
	if _, err := New(Options{Mode: "loud"}); err == nil {
		t.Error("expected error")
	}
}

func TestBuffered_FatalReachesTerminal(t *testing.T) {
	var out bytes.Buffer
	d, err := New(Options{Mode: ModeBuffered, Out: &out})
	if err != nil {
		t.Fatal(err)
	}
	exited := false
	d.Logger.ExitFunc = func(int) { exited = true }

	d.Logger.Errorf("Could not get V4A record from meter")
	if out.Len() != 0 {
		t.Fatalf("error entry printed outside the cycle: %q", out.String())
	}

	d.Logger.Fatalf("No database path given. Use -d or set %s.", "EKMdatabase")
	if !exited {
		t.Fatal("exit func not called")
	}
	if !strings.Contains(out.String(), "No database path given") {
		t.Errorf("fatal entry not printed: %q", out.String())
	}
}

func TestImmediate_FatalPrintedOnce(t *testing.T) {
	var out bytes.Buffer
	d, _ := New(Options{Mode: ModeImmediate, Out: &out})
	d.Logger.ExitFunc = func(int) {}

	d.Logger.Fatal("Failed to open meter line")
	if n := strings.Count(out.String(), "Failed to open meter line"); n != 1 {
		t.Errorf("fatal entry printed %d times: %q", n, out.String())
	}
}
