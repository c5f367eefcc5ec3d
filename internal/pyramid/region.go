package pyramid

import (
	"image"
	"image/color"
)

// Channels is the number of samples per pixel in a Region (R, G, B).
const Channels = 3

// Region is a decoded pixel buffer with shape (Height, Width, Channels).
//
// Pix holds 8-bit samples in row-major order: the sample for channel c of the
// pixel at (row, col) is Pix[(row*Width+col)*Channels+c].
type Region struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// NewRegion allocates a region with every sample set to fill.
func NewRegion(width, height int, fill uint8) *Region {
	pix := make([]uint8, width*height*Channels)
	if fill != 0 {
		for i := range pix {
			pix[i] = fill
		}
	}
	return &Region{Width: width, Height: height, Channels: Channels, Pix: pix}
}

// RegionFromImage converts any image into a Region, dropping alpha.
func RegionFromImage(img image.Image) *Region {
	b := img.Bounds()
	r := NewRegion(b.Dx(), b.Dy(), 0)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			r.SetRGB(y, x, c.R, c.G, c.B)
		}
	}
	return r
}

// At returns the sample of channel ch at (row, col).
func (r *Region) At(row, col, ch int) uint8 {
	return r.Pix[(row*r.Width+col)*r.Channels+ch]
}

// SetRGB writes one pixel.
func (r *Region) SetRGB(row, col int, red, green, blue uint8) {
	i := (row*r.Width + col) * r.Channels
	r.Pix[i] = red
	r.Pix[i+1] = green
	r.Pix[i+2] = blue
}

// Len returns the number of samples in the region.
func (r *Region) Len() int {
	return len(r.Pix)
}

// Image returns the region as an opaque NRGBA image with origin (0, 0).
func (r *Region) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	for i, j := 0, 0; i < len(r.Pix); i, j = i+r.Channels, j+4 {
		img.Pix[j] = r.Pix[i]
		img.Pix[j+1] = r.Pix[i+1]
		img.Pix[j+2] = r.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
