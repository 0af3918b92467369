// Package fsutil provides crash-safe writes to files shared between
// independent processes.
//
// Writers serialize on a sibling "<name>.lock" file created with
// O_CREAT|O_EXCL, so the protocol works across processes without advisory
// locking support. Replacement is temp file, fsync, rename; readers never
// observe a partially written file.
package fsutil

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
)

const (
	DefaultRetries     = 20
	DefaultLockTimeout = 5 * time.Second
	DefaultLockPoll    = 50 * time.Millisecond

	maxBackoff  = 800 * time.Millisecond
	baseBackoff = 10 * time.Millisecond
	maxJitter   = 10 * time.Millisecond
)

// ErrLockTimeout is returned when a lock file could not be created in time.
var ErrLockTimeout = errors.New("timed out waiting for lock file")

// Swapped in tests to inject transient failures.
var rename = os.Rename

var tempSeq atomic.Uint64

// Options tunes retry and locking behaviour. Zero fields take defaults.
type Options struct {
	Retries     int
	LockTimeout time.Duration
	LockPoll    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.LockPoll <= 0 {
		o.LockPoll = DefaultLockPoll
	}
	return o
}

// FileLock is a held lock file.
type FileLock struct {
	path string
	f    *os.File
}

// Lock creates path exclusively, polling until timeout or ctx ends.
func Lock(ctx context.Context, path string, timeout, poll time.Duration) (*FileLock, error) {
	if poll <= 0 {
		poll = DefaultLockPoll
	}
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "pid=%d ts=%d\n", os.Getpid(), time.Now().UnixMilli())
			return &FileLock{path: path, f: f}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file %s: %w", path, err)
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, path)
		}
		if err := sleep(ctx, poll); err != nil {
			return nil, err
		}
	}
}

// Unlock releases the lock. It is safe to call more than once.
func (l *FileLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	closeErr := l.f.Close()
	l.f = nil
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file %s: %w", l.path, err)
	}
	return closeErr
}

// LockPath returns the lock file guarding path.
func LockPath(path string) string {
	return path + ".lock"
}

// TempPath returns a unique sibling temp name for path. The name combines the
// process id, a process-wide sequence and a random token, so concurrent
// writers in one or many processes never collide.
func TempPath(path string) string {
	return fmt.Sprintf("%s.tmp.%d.%d.%s", path, os.Getpid(), tempSeq.Add(1), ksuid.New().String())
}

// Backoff returns the delay before retry attempt n (1-based):
// min(800ms, 10ms*2^(n-1)) plus up to 10ms of jitter.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := maxBackoff
	if attempt <= 8 {
		d = min(maxBackoff, baseBackoff<<(attempt-1))
	}
	return d + rand.N(maxJitter)
}

// AtomicWrite replaces path with data. Permission errors, which is how a
// reader holding the destination open surfaces on some platforms, are
// retried with Backoff; any other error aborts immediately.
func AtomicWrite(ctx context.Context, path string, data []byte, opts Options) error {
	opts = opts.withDefaults()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	lock, err := Lock(ctx, LockPath(path), opts.LockTimeout, opts.LockPoll)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		lastErr = writeReplace(path, data)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, fs.ErrPermission) || attempt == opts.Retries {
			break
		}
		if err := sleep(ctx, Backoff(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("atomic write of %s failed: %w", path, lastErr)
}

func writeReplace(path string, data []byte) error {
	tmp := TempPath(path)

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// AppendLine appends line plus a trailing newline to path under its lock and
// fsyncs before returning. A torn fragment left by a crashed writer is
// dropped first so the new line starts on its own.
func AppendLine(ctx context.Context, path string, line []byte, opts Options) error {
	return UpdateLocked(ctx, path, opts, func(f *os.File) error {
		if _, err := TrimPartialLine(f); err != nil {
			return fmt.Errorf("failed to repair %s: %w", path, err)
		}
		if err := WriteLine(f, line); err != nil {
			return fmt.Errorf("failed to append to %s: %w", path, err)
		}
		return nil
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
