package record

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ssargent/vitalgap/pkg/fsutil"
)

// LogWriter handles append-only writes of JSON lines
type LogWriter struct {
	file      *os.File
	writer    *bufio.Writer
	syncTimer *time.Timer
	config    LogWriterConfig
	mu        sync.Mutex
	lines     int64 // Lines appended by this writer
	dropped   int64 // Bytes of a torn final line removed on open
}

// NewLogWriter creates a new log writer with the given configuration. When
// appending to an existing file, a final line left without its newline by a
// crashed writer is removed so new lines do not run into it.
func NewLogWriter(config LogWriterConfig) (*LogWriter, error) {
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0750); err != nil {
		return nil, err
	}

	flags := os.O_CREATE | os.O_RDWR | os.O_APPEND
	if config.Truncate {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(config.FilePath, flags, 0644)
	if err != nil {
		return nil, err
	}

	dropped, err := fsutil.TrimPartialLine(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to repair %s: %w", config.FilePath, err)
	}

	if config.BufferSize <= 0 {
		config.BufferSize = 4096
	}

	writer := &LogWriter{
		file:    file,
		writer:  bufio.NewWriterSize(file, config.BufferSize),
		config:  config,
		dropped: dropped,
	}

	if config.FsyncInterval > 0 {
		writer.syncTimer = time.AfterFunc(config.FsyncInterval, func() {
			writer.mu.Lock()
			defer writer.mu.Unlock()
			writer.sync() // Ignore error in timer callback
		})
	}

	return writer, nil
}

// Append marshals v as a single JSON line
func (w *LogWriter) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return os.ErrClosed
	}
	if _, err := w.writer.Write(data); err != nil {
		return err
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return err
	}
	w.lines++

	if w.config.FsyncInterval == 0 {
		return w.sync()
	}
	if w.syncTimer != nil {
		w.syncTimer.Reset(w.config.FsyncInterval)
	}
	return nil
}

// Sync forces a fsync to disk
func (w *LogWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sync()
}

func (w *LogWriter) sync() error {
	if w.file == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close flushes, syncs and closes the file
func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.syncTimer != nil {
		w.syncTimer.Stop()
	}
	if w.file == nil {
		return nil
	}

	err := w.sync()
	if closeErr := w.file.Close(); err == nil {
		err = closeErr
	}
	w.file = nil
	return err
}

// Lines returns the number of lines appended by this writer
func (w *LogWriter) Lines() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

// Dropped returns the size in bytes of the torn final line removed on open
func (w *LogWriter) Dropped() int64 {
	return w.dropped
}

// Path returns the file path
func (w *LogWriter) Path() string {
	return w.config.FilePath
}
