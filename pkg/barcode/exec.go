package barcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultCommandTimeout bounds a single zint or dmtxread invocation.
const DefaultCommandTimeout = 3 * time.Second

// ToolConfig locates an external barcode tool.
type ToolConfig struct {
	Path    string        // Executable name or path
	Timeout time.Duration // Per-invocation limit (0 = DefaultCommandTimeout)
	Logger  *zap.Logger
}

type tool struct {
	path    string
	timeout time.Duration
	logger  *zap.Logger
}

func newTool(config ToolConfig, fallback string) tool {
	t := tool{path: config.Path, timeout: config.Timeout, logger: config.Logger}
	if t.path == "" {
		t.path = fallback
	}
	if t.timeout <= 0 {
		t.timeout = DefaultCommandTimeout
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

// run executes the tool and returns stdout. A non-zero exit is returned as
// *exec.ExitError wrapped with the trimmed stderr.
func (t tool) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	t.logger.Debug("barcode tool finished",
		zap.String("tool", t.path),
		zap.Strings("args", args),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	if err != nil {
		if ctx.Err() != nil {
			return stdout.Bytes(), fmt.Errorf("%s: %w", filepath.Base(t.path), ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		return stdout.Bytes(), fmt.Errorf("%s failed: %w: %s", filepath.Base(t.path), err, msg)
	}
	return stdout.Bytes(), nil
}

func tempDir() (string, func(), error) {
	dir, err := os.MkdirTemp("", "vitalgap-barcode-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// Zint renders ECC200 DataMatrix symbols with the zint CLI.
type Zint struct {
	tool
}

// NewZint creates a renderer. An empty path means "zint" on PATH.
func NewZint(config ToolConfig) *Zint {
	return &Zint{tool: newTool(config, "zint")}
}

// Render writes blob to a temp file, asks zint for a binary-mode DataMatrix
// PNG and scales the result to size.
func (z *Zint) Render(ctx context.Context, blob []byte, size int) (image.Image, error) {
	if len(blob) > MaxCapacity {
		return nil, fmt.Errorf("zint: %w: %d > %d bytes", ErrCapacity, len(blob), MaxCapacity)
	}
	dir, cleanup, err := tempDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	in := filepath.Join(dir, "blob.bin")
	out := filepath.Join(dir, "symbol.png")
	if err := os.WriteFile(in, blob, 0600); err != nil {
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}

	// -b 71 selects DataMatrix; --square keeps the symbol square.
	if _, err := z.run(ctx, "-b", "71", "--binary", "--square", "-o", out, "-i", in); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "too long") {
			return nil, fmt.Errorf("zint: %w: %v", ErrCapacity, err)
		}
		return nil, err
	}

	img, err := readPNG(out)
	if err != nil {
		return nil, fmt.Errorf("zint: %w", err)
	}
	return scaleTo(img, size), nil
}

// Dmtx decodes DataMatrix symbols with the dmtxread CLI.
type Dmtx struct {
	tool
}

// NewDmtx creates a decoder. An empty path means "dmtxread" on PATH.
func NewDmtx(config ToolConfig) *Dmtx {
	return &Dmtx{tool: newTool(config, "dmtxread")}
}

// Decode writes img as PNG and returns the first symbol dmtxread finds.
// dmtxread exits non-zero with no output when nothing is found; both cases
// map to ErrNoCode.
func (d *Dmtx) Decode(ctx context.Context, img image.Image) ([]byte, error) {
	dir, cleanup, err := tempDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	in := filepath.Join(dir, "frame.png")
	if err := writePNG(in, img); err != nil {
		return nil, err
	}

	ms := strconv.FormatInt(d.timeout.Milliseconds(), 10)
	out, err := d.run(ctx, "-N", "1", "-m", ms, in)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(out) == 0 {
			return nil, fmt.Errorf("dmtxread: %w", ErrNoCode)
		}
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dmtxread: %w", ErrNoCode)
	}
	return out, nil
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode png: %w", err)
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return f.Close()
}
