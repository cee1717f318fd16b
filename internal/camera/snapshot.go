package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

const defaultMaxFailures = 5

// SnapshotSource polls an HTTP endpoint returning a single still image,
// as exposed by most IP cameras.
type SnapshotSource struct {
	URL         string
	Interval    time.Duration // delay between polls
	MaxFailures int           // consecutive failed polls before the source is declared unavailable
	MaxBytes    int64         // largest accepted snapshot, 0 uses constants.MaxSnapshotSize
	Client      *http.Client
}

// Open fetches one snapshot to verify the camera is reachable.
func (s *SnapshotSource) Open(ctx context.Context) (Stream, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	maxFailures := s.MaxFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	maxBytes := s.MaxBytes
	if maxBytes <= 0 {
		maxBytes = constants.MaxSnapshotSize
	}
	st := &snapshotStream{url: s.URL, interval: s.Interval, maxFailures: maxFailures, maxBytes: maxBytes, client: client}

	first, err := st.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	st.pending = &first
	return st, nil
}

type snapshotStream struct {
	url         string
	interval    time.Duration
	maxFailures int
	maxBytes    int64
	client      *http.Client

	pending  *Frame
	seq      int64
	failures int
	closed   bool
}

func (s *snapshotStream) fetch(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("snapshot error (status %d)", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return Frame{}, fmt.Errorf("snapshot larger than %d bytes", s.maxBytes)
	}
	img, _, err := DecodeImage(body)
	if err != nil {
		return Frame{}, err
	}
	s.seq++
	return Frame{Image: img, Seq: s.seq, Name: fmt.Sprintf("snapshot-%d", s.seq), CapturedAt: time.Now()}, nil
}

// Next returns the next snapshot. A single failed poll is returned as a plain error;
// MaxFailures consecutive failures turn into ErrSourceUnavailable.
func (s *snapshotStream) Next(ctx context.Context) (Frame, error) {
	if s.closed {
		return Frame{}, ErrEndOfStream
	}
	if s.pending != nil {
		f := *s.pending
		s.pending = nil
		return f, nil
	}
	if err := wait(ctx, s.interval); err != nil {
		return Frame{}, err
	}
	f, err := s.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		s.failures++
		if s.failures >= s.maxFailures {
			return Frame{}, fmt.Errorf("%w: %d consecutive failures: %v", ErrSourceUnavailable, s.failures, err)
		}
		return Frame{}, err
	}
	s.failures = 0
	return f, nil
}

func (s *snapshotStream) Close() error {
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}
