// Package linktest provides a scripted meter line for protocol tests.
package linktest

import (
	"sync"
	"time"
)

// ScriptedLink replays readiness signals. Each signal makes one chunk of
// bytes available (an empty chunk is a signal without data). Replies queued
// with QueueReply are released by the writes that follow, one per write.
type ScriptedLink struct {
	mu      sync.Mutex
	written [][]byte
	signals [][]byte
	replies [][][]byte
	avail   []byte

	// ReadErr is reported by every ReadAll while set.
	ReadErr error
	// ShortWrite makes Write accept one byte less than offered.
	ShortWrite bool
	// WriteStalls makes WaitForBytesWritten report a timeout.
	WriteStalls bool

	Clears      int
	ErrorClears int
}

func New() *ScriptedLink {
	return &ScriptedLink{}
}

// Signal queues readiness signals that are already on their way.
func (s *ScriptedLink) Signal(chunks ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, chunks...)
}

// QueueReply registers the answer to the next unanswered write. Calling it
// with no chunks makes that write go unanswered.
func (s *ScriptedLink) QueueReply(chunks ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, chunks)
}

// Written returns copies of every frame written so far.
func (s *ScriptedLink) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.written))
	copy(out, s.written)
	return out
}

func (s *ScriptedLink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := make([]byte, len(p))
	copy(frame, p)
	s.written = append(s.written, frame)

	if len(s.replies) > 0 {
		s.signals = append(s.signals, s.replies[0]...)
		s.replies = s.replies[1:]
	}

	if s.ShortWrite && len(p) > 0 {
		return len(p) - 1, nil
	}
	return len(p), nil
}

func (s *ScriptedLink) WaitForBytesWritten(time.Duration) bool {
	return !s.WriteStalls
}

func (s *ScriptedLink) WaitForReadyRead(time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.signals) == 0 {
		return false
	}
	s.avail = append(s.avail, s.signals[0]...)
	s.signals = s.signals[1:]
	return true
}

func (s *ScriptedLink) BytesAvailable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.avail)
}

func (s *ScriptedLink) ReadAll() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.avail
	s.avail = nil
	return data, s.ReadErr
}

func (s *ScriptedLink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avail = nil
	s.Clears++
	return nil
}

func (s *ScriptedLink) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrorClears++
}

// Chunk splits data into pieces of at most size bytes.
func Chunk(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}
