// Package camera provides frame sources for recognition sessions.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"time"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

var (
	// ErrSourceUnavailable means the camera cannot be opened or has failed for good.
	ErrSourceUnavailable = errors.New("camera source unavailable")
	// ErrEndOfStream ends a finite replay.
	ErrEndOfStream = errors.New("end of stream")
)

// Frame is one captured image.
type Frame struct {
	Image      image.Image
	Seq        int64
	Name       string
	CapturedAt time.Time
}

// Width returns the frame width in pixels.
func (f Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels.
func (f Frame) Height() int { return f.Image.Bounds().Dy() }

// Stream yields frames until closed. Next blocks until a frame is ready.
type Stream interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Source opens streams. Open fails with ErrSourceUnavailable when the camera cannot be acquired.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// DecodeImage decodes JPEG, PNG, GIF, BMP or WebP data.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}
	return img, format, nil
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
