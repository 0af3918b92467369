// Package barcode turns blobs into two-dimensional code images and back.
//
// The pipeline only depends on the Renderer and Decoder interfaces. Zint and
// Dmtx drive the zint and dmtxread command-line tools; Builtin encodes and
// reads DataMatrix in process for hosts without them, loopback runs and tests.
package barcode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// MaxCapacity is the largest blob a 144x144 ECC200 DataMatrix symbol holds
// in binary mode.
const MaxCapacity = 1556

var (
	// ErrCapacity is returned when a blob does not fit in one symbol.
	ErrCapacity = errors.New("blob exceeds symbol capacity")
	// ErrNoCode is returned when no symbol could be read from an image.
	ErrNoCode = errors.New("no code found in image")
)

// Renderer draws blob as a square code image roughly size pixels wide.
type Renderer interface {
	Render(ctx context.Context, blob []byte, size int) (image.Image, error)
}

// Decoder reads the first code found in img.
type Decoder interface {
	Decode(ctx context.Context, img image.Image) ([]byte, error)
}

// scaleTo resizes src to a size x size grayscale image. Codes are made of
// hard-edged modules, so nearest-neighbour keeps them crisp.
func scaleTo(src image.Image, size int) *image.Gray {
	b := src.Bounds()
	if size <= 0 || (b.Dx() == size && b.Dy() == size) {
		size = max(b.Dx(), b.Dy())
	}
	dst := image.NewGray(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// Engine names accepted by Open.
const (
	EngineDataMatrix = "datamatrix"
	EngineBuiltin    = "builtin"
)

// Open returns the renderer and decoder for engine.
func Open(engine string, renderer, decoder ToolConfig) (Renderer, Decoder, error) {
	switch engine {
	case EngineDataMatrix, "":
		return NewZint(renderer), NewDmtx(decoder), nil
	case EngineBuiltin:
		b := NewBuiltin()
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("unknown barcode engine %q", engine)
	}
}
