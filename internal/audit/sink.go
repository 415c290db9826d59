package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink receives serialized audit records partitioned by UTC calendar day.
// Implementations must make each append atomic at the record level.
type Sink interface {
	// Append writes one JSONL record (without trailing newline) to the
	// segment for the given day ("2006-01-02").
	Append(day string, record []byte) error

	// Close releases any underlying resources.
	Close() error
}

// FileSink writes one append-only JSONL file per UTC day under a directory,
// named audit-<day>.jsonl. It keeps the current segment open and rotates
// when the day changes.
type FileSink struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
}

// NewFileSink creates the directory if needed and returns a sink writing
// daily segments into it.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory %s: %w", dir, err)
	}
	return &FileSink{dir: dir}, nil
}

// Append writes the record to the segment for day, rotating if necessary.
func (s *FileSink) Append(day string, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil || s.day != day {
		if s.file != nil {
			_ = s.file.Close()
		}
		path := filepath.Join(s.dir, "audit-"+day+".jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("audit: open segment %s: %w", path, err)
		}
		s.file = f
		s.day = day
	}

	if _, err := s.file.Write(append(record, '\n')); err != nil {
		return fmt.Errorf("audit: append to segment %s: %w", s.day, err)
	}
	return nil
}

// Close closes the current segment file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.day = ""
	return err
}

// MemorySink collects records in memory, keyed by day. For testing.
type MemorySink struct {
	mu      sync.Mutex
	records map[string][]string
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string][]string)}
}

// Append stores the record under the given day.
func (s *MemorySink) Append(day string, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[day] = append(s.records[day], string(record))
	return nil
}

// Close is a no-op.
func (s *MemorySink) Close() error { return nil }

// Records returns the records appended for a day.
func (s *MemorySink) Records(day string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records[day]))
	copy(out, s.records[day])
	return out
}

// Days returns the number of distinct day segments written.
func (s *MemorySink) Days() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
