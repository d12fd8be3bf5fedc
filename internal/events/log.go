package events

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// LogHeader is written once to a new or empty log
var LogHeader = []string{"Timestamp", "Vehicle Type", "Vehicle ID", "Location ID"}

// logFile is the open log, an *os.File outside tests
type logFile interface {
	io.Writer
	Sync() error
	Close() error
}

// CSVLog is the append-only audit log of counting events
type CSVLog struct {
	mu     sync.Mutex
	path   string
	file   logFile
	writer *csv.Writer
	closed bool
}

// OpenCSVLog opens path for appending and writes the header when the file
// is new or empty
func OpenCSVLog(path string) (*CSVLog, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat event log: %w", err)
	}

	l := &CSVLog{path: path, file: f, writer: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := l.writeSynced(LogHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write log header: %w", err)
		}
	}
	return l, nil
}

// Append writes one event and syncs it to disk before returning
func (l *CSVLog) Append(e CountingEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return os.ErrClosed
	}
	return l.writeSynced(e.Record())
}

func (l *CSVLog) writeSynced(record []string) error {
	err := l.writer.Write(record)
	if err == nil {
		l.writer.Flush()
		err = l.writer.Error()
	}
	if err != nil {
		// csv.Writer keeps its first error; the next record gets a fresh one
		l.writer = csv.NewWriter(l.file)
		return err
	}
	return l.file.Sync()
}

// Path returns the log file path
func (l *CSVLog) Path() string {
	return l.path
}

// Close flushes and closes the log. Further appends fail.
func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.writer.Flush()
	flushErr := l.writer.Error()
	if err := l.file.Close(); err != nil {
		return err
	}
	return flushErr
}
