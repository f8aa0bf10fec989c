// Package csvlog implements the core's single append-only telemetry sink.
//
// The coordinator writes one CSV row per DATA uplink and per miss-count
// tick; every other component logs through log/slog instead. All writes are
// serialized through one mutex (log_lock in the concurrency model) so the
// Uplink Dispatcher and the Phase task never interleave partial lines.
package csvlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
)

const defaultMaxBytes = 8 << 20 // rotate at 8MiB

// countingWriter tracks bytes written to the underlying file so Sink knows
// when to rotate without asking csv.Writer (which reports none).
type countingWriter struct {
	f int64
	w *os.File
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.f += int64(n)
	return n, err
}

// Sink is a rotating, append-only CSV writer built on encoding/csv. The
// zero value is not usable; construct with Open.
type Sink struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	cw       *countingWriter
	w        *csv.Writer
	maxBytes int64
}

// Open creates or appends to path, failing fast (a fatal error per §7) if
// the file cannot be opened.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv log %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv log %s: %w", path, err)
	}
	cw := &countingWriter{f: info.Size(), w: f}
	return &Sink{path: path, f: f, cw: cw, w: csv.NewWriter(cw), maxBytes: defaultMaxBytes}, nil
}

// WriteRow appends a single CSV row (quoting handled by encoding/csv) and
// rotates the file once it exceeds maxBytes.
func (s *Sink) WriteRow(fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Write(fields); err != nil {
		return fmt.Errorf("write csv log: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush csv log: %w", err)
	}
	if s.cw.f >= s.maxBytes {
		return s.rotateLocked()
	}
	return nil
}

func (s *Sink) rotateLocked() error {
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close csv log for rotation: %w", err)
	}
	rotated := s.path + ".1"
	_ = os.Remove(rotated)
	if err := os.Rename(s.path, rotated); err != nil {
		return fmt.Errorf("rotate csv log: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen csv log after rotation: %w", err)
	}
	s.f = f
	s.cw = &countingWriter{w: f}
	s.w = csv.NewWriter(s.cw)
	return nil
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.f.Close()
}
