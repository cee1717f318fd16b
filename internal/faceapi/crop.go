package faceapi

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Default face crop geometry.
const (
	DefaultCropSize    = 160
	DefaultCropPadding = 0.1
)

// CropFace cuts box, grown by padding on every side, out of img and scales it to size x size.
func CropFace(img image.Image, box facematch.BBox, size int, padding float64) image.Image {
	if size <= 0 {
		size = DefaultCropSize
	}
	b := img.Bounds()
	padded := box.Pad(padding, b.Dx(), b.Dy())
	src := image.Rect(
		b.Min.X+int(math.Floor(padded.X1)),
		b.Min.Y+int(math.Floor(padded.Y1)),
		b.Min.X+int(math.Ceil(padded.X2)),
		b.Min.Y+int(math.Ceil(padded.Y2)),
	).Intersect(b)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	if src.Empty() {
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	return dst
}
