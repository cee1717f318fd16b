package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// DirectorySource replays the image files of a directory in name order.
type DirectorySource struct {
	Dir      string
	Interval time.Duration // delay between frames
	Loop     bool          // start over after the last file instead of ending
}

// Open lists the directory. It fails with ErrSourceUnavailable when the directory
// is missing or holds no images.
func (s *DirectorySource) Open(ctx context.Context) (Stream, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(s.Dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrSourceUnavailable, s.Dir)
	}
	return &directoryStream{files: files, interval: s.Interval, loop: s.Loop}, nil
}

type directoryStream struct {
	mu       sync.Mutex
	files    []string
	pos      int
	seq      int64
	interval time.Duration
	loop     bool
	closed   bool
}

func (d *directoryStream) Next(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Frame{}, ErrEndOfStream
	}
	if d.pos >= len(d.files) {
		if !d.loop {
			return Frame{}, ErrEndOfStream
		}
		d.pos = 0
	}
	if d.seq > 0 {
		if err := wait(ctx, d.interval); err != nil {
			return Frame{}, err
		}
	}

	path := d.files[d.pos]
	d.pos++
	d.seq++

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the configured directory
	if err != nil {
		return Frame{}, fmt.Errorf("reading frame %s: %w", path, err)
	}
	img, _, err := DecodeImage(data)
	if err != nil {
		return Frame{}, fmt.Errorf("frame %s: %w", path, err)
	}
	return Frame{Image: img, Seq: d.seq, Name: filepath.Base(path), CapturedAt: time.Now()}, nil
}

func (d *directoryStream) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
