package barcode

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dark(c color.Color) bool {
	return color.GrayModel.Convert(c).(color.Gray).Y < 128
}

func TestBuiltin_RoundTrip(t *testing.T) {
	b := NewBuiltin()
	ctx := context.Background()

	for _, n := range []int{1, 2, 3, 37, 300} {
		blob := bytes.Repeat([]byte{0xA5, 0x00, 0xFF, 0x3C, '4', '2'}, n/6+1)[:n]
		img, err := b.Render(ctx, blob, 280)
		require.NoError(t, err, "size %d", n)
		assert.Equal(t, img.Bounds().Dx(), img.Bounds().Dy())
		assert.LessOrEqual(t, img.Bounds().Dx(), 280)

		got, err := b.Decode(ctx, img)
		require.NoError(t, err, "size %d", n)
		assert.Equal(t, blob, got)
	}
}

func TestBuiltin_QuietZone(t *testing.T) {
	img, err := NewBuiltin().Render(context.Background(), []byte("DMC1"), 10)
	require.NoError(t, err)

	bounds := img.Bounds()
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		assert.False(t, dark(img.At(x, bounds.Min.Y)), "top border at x=%d", x)
		assert.False(t, dark(img.At(x, bounds.Max.Y-1)), "bottom border at x=%d", x)
	}
}

func TestBuiltin_Capacity(t *testing.T) {
	b := NewBuiltin()
	_, err := b.Render(context.Background(), make([]byte, MaxCapacity+1), 280)
	assert.ErrorIs(t, err, ErrCapacity)

	blob := bytes.Repeat([]byte{0x9B, 0xE1, 0x07}, 500)
	_, err = b.Render(context.Background(), blob, 280)
	assert.ErrorIs(t, err, ErrCapacity)

	_, err = b.Render(context.Background(), nil, 280)
	assert.Error(t, err)
}

func TestBuiltin_NoCode(t *testing.T) {
	b := NewBuiltin()
	ctx := context.Background()

	blank := image.NewGray(image.Rect(0, 0, 224, 224))
	for i := range blank.Pix {
		blank.Pix[i] = 0xFF
	}
	_, err := b.Decode(ctx, blank)
	assert.ErrorIs(t, err, ErrNoCode)

	_, err = b.Decode(ctx, image.NewGray(image.Rect(0, 0, 300, 200)))
	assert.ErrorIs(t, err, ErrNoCode)
}

func TestBuiltin_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBuiltin()
	_, err := b.Render(ctx, []byte{1}, 280)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = b.Decode(ctx, image.NewGray(image.Rect(0, 0, 10, 10)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScaleTo(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 2))
	src.SetGray(0, 0, color.Gray{Y: 0})
	src.SetGray(1, 0, color.Gray{Y: 255})
	src.SetGray(0, 1, color.Gray{Y: 255})
	src.SetGray(1, 1, color.Gray{Y: 0})

	dst := scaleTo(src, 8)
	assert.Equal(t, 8, dst.Bounds().Dx())
	assert.True(t, dark(dst.At(1, 1)))
	assert.False(t, dark(dst.At(6, 1)))
	assert.True(t, dark(dst.At(6, 6)))
}

func TestOpen(t *testing.T) {
	r, d, err := Open(EngineBuiltin, ToolConfig{}, ToolConfig{})
	require.NoError(t, err)
	assert.IsType(t, &Builtin{}, r)
	assert.IsType(t, &Builtin{}, d)

	r, d, err = Open(EngineDataMatrix, ToolConfig{Path: "/opt/zint"}, ToolConfig{})
	require.NoError(t, err)
	assert.Equal(t, "/opt/zint", r.(*Zint).path)
	assert.Equal(t, "dmtxread", d.(*Dmtx).path)
	assert.Equal(t, DefaultCommandTimeout, d.(*Dmtx).timeout)

	_, _, err = Open("qr", ToolConfig{}, ToolConfig{})
	assert.Error(t, err)
}

// writeScript creates an executable shell stub standing in for a CLI tool.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestZint_Render(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "fixture.png")
	src := image.NewGray(image.Rect(0, 0, 10, 10))
	require.NoError(t, writePNG(fixture, src))
	t.Setenv("ZINT_FIXTURE", fixture)

	// Arguments: -b 71 --binary --square -o OUT -i IN
	script := writeScript(t, `cp "$ZINT_FIXTURE" "$6"`)
	z := NewZint(ToolConfig{Path: script})

	img, err := z.Render(context.Background(), []byte("DMC1payload"), 100)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.True(t, dark(img.At(50, 50)))
}

func TestZint_Capacity(t *testing.T) {
	z := NewZint(ToolConfig{Path: "/does/not/exist"})
	_, err := z.Render(context.Background(), make([]byte, MaxCapacity+1), 100)
	assert.ErrorIs(t, err, ErrCapacity)

	script := writeScript(t, `echo "Error 522: Input too long" >&2; exit 5`)
	z = NewZint(ToolConfig{Path: script})
	_, err = z.Render(context.Background(), []byte("x"), 100)
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestZint_MissingBinary(t *testing.T) {
	z := NewZint(ToolConfig{Path: filepath.Join(t.TempDir(), "zint")})
	_, err := z.Render(context.Background(), []byte("x"), 100)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCapacity))
}

func TestDmtx_Decode(t *testing.T) {
	frame := image.NewGray(image.Rect(0, 0, 4, 4))

	t.Run("symbol found", func(t *testing.T) {
		d := NewDmtx(ToolConfig{Path: writeScript(t, `printf 'DMC1abc'`)})
		got, err := d.Decode(context.Background(), frame)
		require.NoError(t, err)
		assert.Equal(t, []byte("DMC1abc"), got)
	})

	t.Run("nothing found", func(t *testing.T) {
		d := NewDmtx(ToolConfig{Path: writeScript(t, `exit 1`)})
		_, err := d.Decode(context.Background(), frame)
		assert.ErrorIs(t, err, ErrNoCode)
	})

	t.Run("empty output", func(t *testing.T) {
		d := NewDmtx(ToolConfig{Path: writeScript(t, `exit 0`)})
		_, err := d.Decode(context.Background(), frame)
		assert.ErrorIs(t, err, ErrNoCode)
	})

	t.Run("timeout", func(t *testing.T) {
		d := NewDmtx(ToolConfig{Path: writeScript(t, `exec sleep 5`), Timeout: 50e6})
		_, err := d.Decode(context.Background(), frame)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
