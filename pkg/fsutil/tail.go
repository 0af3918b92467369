package fsutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const tailChunk = 4096

// lastNewline returns the offset of the last '\n' before end, or -1.
func lastNewline(f *os.File, end int64) (int64, error) {
	buf := make([]byte, tailChunk)
	for end > 0 {
		n := min(int64(len(buf)), end)
		start := end - n
		if _, err := f.ReadAt(buf[:n], start); err != nil && err != io.EOF {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i), nil
		}
		end = start
	}
	return -1, nil
}

// LastLine returns the last complete non-blank line of f without its
// newline, reading backwards from the end. A trailing fragment with no
// newline is ignored. It returns nil when there is no complete line.
func LastLine(f *os.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	end, err := lastNewline(f, info.Size())
	if err != nil {
		return nil, err
	}
	for end >= 0 {
		start, err := lastNewline(f, end)
		if err != nil {
			return nil, err
		}
		line := make([]byte, end-start-1)
		if _, err := f.ReadAt(line, start+1); err != nil && err != io.EOF {
			return nil, err
		}
		if line = bytes.TrimSpace(line); len(line) > 0 {
			return line, nil
		}
		end = start
	}
	return nil, nil
}

// TrimPartialLine truncates a trailing fragment that has no newline, the
// remains of a writer that died mid-append. It returns the number of bytes
// removed.
func TrimPartialLine(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if size == 0 {
		return 0, nil
	}
	nl, err := lastNewline(f, size)
	if err != nil {
		return 0, err
	}
	keep := nl + 1
	if keep == size {
		return 0, nil
	}
	if err := f.Truncate(keep); err != nil {
		return 0, err
	}
	return size - keep, nil
}

// UpdateLocked opens path for reading and appending under its lock file and
// calls fn. The file is synced after fn succeeds.
func UpdateLocked(ctx context.Context, path string, opts Options, fn func(f *os.File) error) error {
	opts = opts.withDefaults()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	lock, err := Lock(ctx, LockPath(path), opts.LockTimeout, opts.LockPoll)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return nil
}

// WriteLine writes line followed by a newline when it lacks one.
func WriteLine(w io.Writer, line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	if len(buf) == 0 || buf[len(buf)-1] != '\n' {
		buf = append(buf, '\n')
	}
	_, err := w.Write(buf)
	return err
}
