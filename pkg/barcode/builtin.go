package barcode

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"

	boombuler "github.com/boombuler/barcode/datamatrix"
	"github.com/makiuchi-d/gozxing"
	zxing "github.com/makiuchi-d/gozxing/datamatrix"
	"golang.org/x/image/draw"
)

// quietZone is the white border, in modules, drawn around every symbol.
const quietZone = 2

// Builtin renders and reads ECC200 DataMatrix symbols in process. The
// encoder only has ASCII mode, where bytes above 127 cost two codewords, so
// blobs travel as base64 text.
type Builtin struct{}

// NewBuiltin returns the in-process engine.
func NewBuiltin() *Builtin { return &Builtin{} }

// Render draws blob with a quiet zone, scaled by the largest whole factor
// that fits in size (at least one pixel per module).
func (b *Builtin) Render(ctx context.Context, blob []byte, size int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, errors.New("datamatrix: empty blob")
	}
	if len(blob) > MaxCapacity {
		return nil, fmt.Errorf("datamatrix: %w: %d > %d bytes", ErrCapacity, len(blob), MaxCapacity)
	}

	symbol, err := boombuler.Encode(base64.StdEncoding.EncodeToString(blob))
	if err != nil {
		return nil, fmt.Errorf("datamatrix: %w: %d bytes: %v", ErrCapacity, len(blob), err)
	}

	sb := symbol.Bounds()
	modules := max(sb.Dx(), sb.Dy()) + 2*quietZone
	canvas := image.NewGray(image.Rect(0, 0, modules, modules))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, sb.Add(image.Pt(quietZone, quietZone)), symbol, sb.Min, draw.Src)

	scale := max(1, size/modules)
	return scaleTo(canvas, modules*scale), nil
}

// Decode reads the first symbol in img. Anything that does not yield a
// symbol carrying base64 text is ErrNoCode.
func (b *Builtin) Decode(ctx context.Context, img image.Image) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bitmap, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("datamatrix: %w: %v", ErrNoCode, err)
	}
	result, err := zxing.NewDataMatrixReader().Decode(bitmap, nil)
	if err != nil {
		return nil, fmt.Errorf("datamatrix: %w: %v", ErrNoCode, err)
	}

	blob, err := base64.StdEncoding.DecodeString(result.GetText())
	if err != nil || len(blob) == 0 {
		return nil, fmt.Errorf("datamatrix: %w: symbol text is not a blob", ErrNoCode)
	}
	return blob, nil
}
