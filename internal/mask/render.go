package mask

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

// DefaultOverlayColor tints foreground cells.
const DefaultOverlayColor = "#FF3030"

// DefaultOverlayAlpha is the tint weight.
const DefaultOverlayAlpha = 0.45

// Image renders the mask as black background and white foreground, each cell
// scaled to scale x scale pixels.
func (m *Mask) Image(scale int) *image.NRGBA {
	if scale < 1 {
		scale = 1
	}
	cells := image.NewNRGBA(image.Rect(0, 0, m.cols, m.rows))
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			v := uint8(0)
			if m.cells[i*m.cols+j] {
				v = 255
			}
			cells.SetNRGBA(j, i, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	if m.rows == 0 || m.cols == 0 || scale == 1 {
		return cells
	}
	return imaging.Resize(cells, m.cols*scale, m.rows*scale, imaging.NearestNeighbor)
}

// OverlayOptions controls Overlay.
type OverlayOptions struct {
	// Color is a "#RRGGBB" tint for foreground cells.
	Color string

	// Alpha is the tint weight in [0, 1].
	Alpha float64

	// Cell is the side of one mask cell in thumbnail pixels.
	Cell int

	// Grid draws cell boundaries.
	Grid bool
}

// Overlay blends the mask into thumb, a thumbnail of the mask's display level.
func Overlay(thumb image.Image, m *Mask, opts OverlayOptions) (*image.NRGBA, error) {
	if opts.Cell <= 0 {
		return nil, fmt.Errorf("%w: cell size %d", ErrInvalidGeometry, opts.Cell)
	}
	if opts.Color == "" {
		opts.Color = DefaultOverlayColor
	}
	tint, err := colorful.Hex(opts.Color)
	if err != nil {
		return nil, fmt.Errorf("invalid overlay color %q: %w", opts.Color, err)
	}
	alpha := clamp01(opts.Alpha)

	bounds := thumb.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), thumb, bounds.Min, draw.Src)

	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			if !m.At(y/opts.Cell, x/opts.Cell) {
				continue
			}
			base, _ := colorful.MakeColor(out.NRGBAAt(x, y))
			r, g, b := base.BlendRgb(tint, alpha).Clamped().RGB255()
			out.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}

	if opts.Grid {
		tr, tg, tb := tint.RGB255()
		line := color.NRGBA{R: tr, G: tg, B: tb, A: 255}
		w, h := bounds.Dx(), bounds.Dy()
		for x := opts.Cell; x < w && x/opts.Cell <= m.cols; x += opts.Cell {
			for y := 0; y < h; y++ {
				out.SetNRGBA(x, y, line)
			}
		}
		for y := opts.Cell; y < h && y/opts.Cell <= m.rows; y += opts.Cell {
			for x := 0; x < w; x++ {
				out.SetNRGBA(x, y, line)
			}
		}
	}
	return out, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// EncodedImage is a PNG rendering ready for a JSON response.
type EncodedImage struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// EncodePNG encodes img as base64 PNG.
func EncodePNG(img image.Image) (*EncodedImage, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	b := img.Bounds()
	return &EncodedImage{
		Width:       b.Dx(),
		Height:      b.Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}
