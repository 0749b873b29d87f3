// Package logsink serializes status lines from many workers into one append-only file.
//
// A single goroutine owns the file. Senders hand lines over a bounded channel,
// so the file sees lines in hand-off order and never a partial line.
package logsink

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 100

// ErrClosed is returned by Send once the sink has been closed.
var ErrClosed = errors.New("log sink closed")

// Sink is the single writer of the job log.
type Sink struct {
	lines chan string
	file  *os.File
	now   func() time.Time

	mu     sync.RWMutex
	closed bool

	done     chan struct{}
	closeErr error
}

// Open opens path for appending and starts the writer.
func Open(path string, capacity int) (*Sink, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}

	s := &Sink{
		lines: make(chan string, capacity),
		file:  f,
		now:   time.Now,
		done:  make(chan struct{}),
	}

	go s.run()

	return s, nil
}

// Send hands a line to the writer, blocking while the buffer is full.
func (s *Sink) Send(line string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	s.lines <- line
	return nil
}

func (s *Sink) run() {
	defer close(s.done)

	for line := range s.lines {
		// One Write per line on an unbuffered file: nothing is left in user space.
		record := s.now().UTC().Format(time.RFC3339) + " " + SanitizeForLog(line) + "\n"
		if _, err := s.file.WriteString(record); err != nil {
			zlog.Logger.Err(err).Str("path", s.file.Name()).Msg("failed to write log line")
		}
	}

	s.closeErr = s.file.Close()
}

// Close stops accepting lines, waits for the buffered ones to be written and
// closes the file. It is safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.lines)
	}
	s.mu.Unlock()

	<-s.done
	return s.closeErr
}

// Done is closed when the writer has exited.
func (s *Sink) Done() <-chan struct{} {
	return s.done
}
