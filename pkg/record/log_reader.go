package record

import (
	"bufio"
	"bytes"
	"io"
	"os"
)

// Line is one non-blank line of a JSONL file.
type Line struct {
	Number  int    // 1-based line number in the file
	Data    []byte // Line content without the trailing newline
	Partial bool   // The file ended before a newline; only the last line can be partial
}

// LogReader provides sequential access to the lines of a JSONL file
type LogReader struct {
	file   *os.File
	reader *bufio.Reader
	line   int
	config LogReaderConfig
}

// NewLogReader opens the file for reading
func NewLogReader(config LogReaderConfig) (*LogReader, error) {
	file, err := os.Open(config.FilePath)
	if err != nil {
		return nil, err
	}

	return &LogReader{
		file:   file,
		reader: bufio.NewReader(file),
		config: config,
	}, nil
}

// ReadNext returns the next non-blank line, or io.EOF
func (r *LogReader) ReadNext() (Line, error) {
	for {
		data, err := r.reader.ReadBytes('\n')
		if len(data) == 0 && err != nil {
			return Line{}, err
		}
		r.line++

		partial := err == io.EOF
		if err != nil && !partial {
			return Line{}, err
		}

		text := bytes.TrimSpace(data)
		if len(text) == 0 {
			if partial {
				return Line{}, io.EOF
			}
			continue
		}
		return Line{Number: r.line, Data: text, Partial: partial}, nil
	}
}

// Close closes the underlying file
func (r *LogReader) Close() error {
	return r.file.Close()
}

// Path returns the file path
func (r *LogReader) Path() string {
	return r.config.FilePath
}
