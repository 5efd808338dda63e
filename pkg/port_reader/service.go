package port_reader

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	jacobsa "github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"
	bugst "go.bug.st/serial"
)

const (
	DriverJacobsa = "jacobsa"
	DriverBugst   = "bugst"

	// 9600 baud with 7E1 framing moves 960 characters a second.
	DefaultBaudRate       = 9600
	DefaultBytesPerSecond = 960

	writeTimeout    = 10 * time.Second
	readyTimeout    = 10 * time.Second
	pollTimeout     = 10 * time.Millisecond
	maxEmptyReads   = 10
	accumulateSlack = 12
)

var (
	ErrShortWrite   = errors.New("frame not fully written")
	ErrWriteTimeout = errors.New("timed out waiting for frame to be written")
	ErrReadTimeout  = errors.New("timed out waiting for response")
	ErrNoData       = errors.New("line signalled ready but returned no data")
	ErrLink         = errors.New("serial line error")
	ErrNotConnected = errors.New("serial port not connected")
)

// OpenSerial opens device at 7E1, no flow control, using the selected driver.
// When the device cannot be opened the ports that do exist are logged.
func OpenSerial(device, driver string, baudRate uint, log logrus.FieldLogger) (*SerialLink, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}

	var (
		port io.ReadWriteCloser
		err  error
	)
	switch driver {
	case "", DriverJacobsa:
		driver = DriverJacobsa
		port, err = jacobsa.Open(jacobsa.OpenOptions{
			PortName:          device,
			BaudRate:          baudRate,
			DataBits:          7,
			StopBits:          1,
			ParityMode:        jacobsa.PARITY_EVEN,
			RTSCTSFlowControl: false,
			MinimumReadSize:   1,
		})
	case DriverBugst:
		port, err = bugst.Open(device, &bugst.Mode{
			BaudRate: int(baudRate),
			DataBits: 7,
			Parity:   bugst.EvenParity,
			StopBits: bugst.OneStopBit,
		})
	default:
		return nil, fmt.Errorf("unknown serial driver %q", driver)
	}
	if err != nil {
		if ports, listErr := AvailablePorts(); listErr == nil {
			log.Infof("Available serial ports are: %v", ports)
		}
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}

	link := &SerialLink{
		device: device,
		driver: driver,
		port:   port,
		log:    log,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go link.pump()

	log.Infof("Connected to meter line on %s (%s, %d baud 7E1)", device, driver, baudRate)
	return link, nil
}

// AvailablePorts lists serial devices known to the OS.
func AvailablePorts() ([]string, error) {
	return bugst.GetPortsList()
}

func (l *SerialLink) pump() {
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)

		select {
		case <-l.done:
			return
		default:
		}

		if n > 0 {
			l.mu.Lock()
			l.pending = append(l.pending, buf[:n]...)
			l.mu.Unlock()
			l.signal()
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			time.Sleep(pollTimeout)
		default:
			l.mu.Lock()
			l.err = err
			l.mu.Unlock()
			l.signal()
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (l *SerialLink) signal() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *SerialLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return 0, ErrNotConnected
	}
	return l.port.Write(p)
}

func (l *SerialLink) WaitForBytesWritten(timeout time.Duration) bool {
	drainer, ok := l.port.(interface{ Drain() error })
	if !ok {
		// Writes on this driver return once the kernel owns the bytes.
		return true
	}

	result := make(chan error, 1)
	go func() { result <- drainer.Drain() }()
	select {
	case err := <-result:
		return err == nil
	case <-time.After(timeout):
		return false
	}
}

func (l *SerialLink) WaitForReadyRead(timeout time.Duration) bool {
	select {
	case <-l.notify:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (l *SerialLink) BytesAvailable() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *SerialLink) ReadAll() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data := l.pending
	l.pending = nil
	return data, l.err
}

func (l *SerialLink) Clear() error {
	l.mu.Lock()
	l.pending = nil
	l.mu.Unlock()

	select {
	case <-l.notify:
	default:
	}

	if resetter, ok := l.port.(interface{ ResetInputBuffer() error }); ok {
		return resetter.ResetInputBuffer()
	}
	return nil
}

func (l *SerialLink) ClearError() {
	l.mu.Lock()
	l.err = nil
	l.mu.Unlock()
}

// Close stops the pump and releases the port.
func (l *SerialLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	err := l.port.Close()
	l.log.Infof("Disconnected from meter line on %s", l.device)
	return err
}

// NewTransport wraps link for frame level I/O at the default line rate.
func NewTransport(link Link, log logrus.FieldLogger) *Transport {
	return &Transport{
		link:           link,
		log:            log,
		bytesPerSecond: DefaultBytesPerSecond,
		sleep:          time.Sleep,
	}
}

// SetBytesPerSecond adjusts the character rate used for adaptive waits.
func (t *Transport) SetBytesPerSecond(bps int64) {
	if bps > 0 {
		t.bytesPerSecond = bps
	}
}

// SetSleepFunc replaces the sleep used between availability polls.
func (t *Transport) SetSleepFunc(sleep func(time.Duration)) {
	t.sleep = sleep
}

func (t *Transport) ClearInput() error {
	return t.link.Clear()
}

func (t *Transport) ClearError() {
	t.link.ClearError()
}

// WriteFrame sends frame and waits for it to leave the port.
func (t *Transport) WriteFrame(frame []byte) error {
	t.log.Debugf("msg is: %s", hex.EncodeToString(frame))

	n, err := t.link.Write(frame)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLink, err)
	}
	t.log.Debugf("%d of %d bytes of msg written", n, len(frame))

	if !t.link.WaitForBytesWritten(writeTimeout) {
		return ErrWriteTimeout
	}
	if n != len(frame) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(frame))
	}
	return nil
}

// ReadFrame fills buf completely from the line. While bytes are still
// arriving it sleeps for roughly the time the missing bytes need at the
// line rate; once arrival stalls it takes whatever is there.
func (t *Transport) ReadFrame(buf []byte) error {
	expected := int64(len(buf))
	var bytesRead int64
	emptyReads := 0

	for bytesRead < expected {
		if !t.link.WaitForReadyRead(readyTimeout) {
			return fmt.Errorf("%w: got %d of %d bytes", ErrReadTimeout, bytesRead, expected)
		}

		remaining := expected - bytesRead
		avail := int64(t.link.BytesAvailable())
		var prevAvail int64
		for avail < remaining && avail > prevAvail {
			wait := time.Duration((remaining-avail+accumulateSlack)*1_000_000/t.bytesPerSecond) * time.Microsecond
			t.log.Debugf("Waiting %v to get %d more bytes", wait, remaining-avail)
			t.sleep(wait)

			prevAvail = avail
			if !t.link.WaitForReadyRead(pollTimeout) {
				t.log.Debug("No new bytes within poll window, continuing")
			}
			avail = int64(t.link.BytesAvailable())
		}

		data, err := t.link.ReadAll()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLink, err)
		}
		if len(data) == 0 {
			emptyReads++
			if emptyReads >= maxEmptyReads {
				return fmt.Errorf("%w after %d attempts", ErrNoData, emptyReads)
			}
			t.log.Debug("Data was ready for reading, but no bytes were read. Try reading again.")
			continue
		}

		n := copy(buf[bytesRead:], data)
		bytesRead += int64(n)
		t.log.Debugf("%d bytes read, %d of %d accumulated: %s", len(data), bytesRead, expected, hex.EncodeToString(buf[:bytesRead]))
	}
	return nil
}
