package recognition

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// codeMatcher decodes the result from the first vector element:
// a positive value is the recognized identity, 0 is unknown, negative is low confidence.
type codeMatcher struct {
	err error
}

func (m *codeMatcher) Match(ctx context.Context, q []float32) (matcher.Result, error) {
	if m.err != nil {
		return matcher.Result{}, m.err
	}
	switch code := q[0]; {
	case code > 0:
		id := int64(code)
		return matcher.Result{
			Outcome:     database.OutcomeRecognized,
			Identity:    &database.Identity{ID: id, Name: "person", Active: true},
			Confidence:  0.9,
			CandidateID: id,
		}, nil
	case code < 0:
		return matcher.Result{Outcome: database.OutcomeLowConfidence, Confidence: 0.5}, nil
	default:
		return matcher.Result{Outcome: database.OutcomeUnknown, Confidence: 0.1}, nil
	}
}

// faceAt returns a face carrying the identity code, boxed at column x.
func faceAt(code float32, x float64) facematch.Face {
	return facematch.Face{Box: facematch.BBox{X1: x, Y1: 0, X2: x + 10, Y2: 10}, Score: 0.9, Vector: []float32{code, 1}}
}

// scriptAnalyzer returns faces by frame sequence number.
type scriptAnalyzer struct {
	frames map[int64][]facematch.Face
	err    error
}

func (a *scriptAnalyzer) Analyze(ctx context.Context, img image.Image) ([]facematch.Face, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.frames[int64(img.Bounds().Dx())], nil
}

// frame encodes its sequence number in the image width.
func frame(seq int64) camera.Frame {
	return camera.Frame{Image: image.NewGray(image.Rect(0, 0, int(seq), 1)), Seq: seq}
}

type fakeStream struct {
	frames []camera.Frame
	pos    int
	block  bool // block after the last frame instead of ending
	closed atomic.Bool
	clock  *fakeClock
	step   time.Duration
}

func (s *fakeStream) Next(ctx context.Context) (camera.Frame, error) {
	if s.pos < len(s.frames) {
		f := s.frames[s.pos]
		s.pos++
		if s.clock != nil && s.pos > 1 {
			s.clock.Advance(s.step)
		}
		return f, nil
	}
	if s.block {
		<-ctx.Done()
		return camera.Frame{}, ctx.Err()
	}
	return camera.Frame{}, camera.ErrEndOfStream
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeSource struct {
	stream *fakeStream
	err    error
}

func (s *fakeSource) Open(ctx context.Context) (camera.Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.stream, nil
}

type harness struct {
	session *Session
	ledger  *mock.MockLedger
	logs    *mock.MockRecognitionLog
	clock   *fakeClock
	frames  map[int64][]facematch.Face
}

func newHarness(t *testing.T, cooldown time.Duration) *harness {
	t.Helper()
	h := &harness{
		ledger: mock.NewMockLedger(),
		logs:   mock.NewMockRecognitionLog(),
		clock:  newClock(),
		frames: make(map[int64][]facematch.Face),
	}
	h.session = NewSession(
		Config{ActivityID: 10, Session: database.SessionMorning, CameraID: "cam-1", Cooldown: cooldown},
		Deps{
			Source:   &fakeSource{stream: &fakeStream{}},
			Analyzer: &scriptAnalyzer{frames: h.frames},
			Matcher:  &codeMatcher{},
			Marker:   h.ledger,
			Logs:     h.logs,
			Now:      h.clock.Now,
		},
	)
	return h
}

// feed processes frames synchronously, advancing the clock by step before each one.
func (h *harness) feed(step time.Duration, faces ...[]facematch.Face) {
	for i, f := range faces {
		seq := int64(i + 1)
		h.frames[seq] = f
		if i > 0 {
			h.clock.Advance(step)
		}
		h.session.processFrame(context.Background(), frame(seq))
	}
}

func outcomes(events []database.RecognitionEvent) []database.Outcome {
	out := make([]database.Outcome, len(events))
	for i, ev := range events {
		out[i] = ev.Outcome
	}
	return out
}

func equalOutcomes(a, b []database.Outcome) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSession_CooldownSuppressesSecondWrite(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	a := []facematch.Face{faceAt(1, 0)}

	h.feed(time.Second, a, a, a)

	if h.ledger.Calls() != 1 {
		t.Errorf("expected exactly one ledger write attempt, got %d", h.ledger.Calls())
	}
	got := outcomes(h.logs.Events())
	if !equalOutcomes(got, []database.Outcome{database.OutcomeRecognized}) {
		t.Errorf("unexpected events %v", got)
	}
	if h.session.Info().Stats.CooldownSkips != 2 {
		t.Errorf("expected 2 silent cooldown skips, got %+v", h.session.Info().Stats)
	}
}

func TestSession_AfterCooldownDuplicateIsReported(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	a := []facematch.Face{faceAt(1, 0)}

	h.feed(6*time.Second, a, a)

	if h.ledger.Calls() != 2 {
		t.Errorf("expected two ledger attempts, got %d", h.ledger.Calls())
	}
	want := []database.Outcome{database.OutcomeRecognized, database.OutcomeDuplicateSuppressed}
	if got := outcomes(h.logs.Events()); !equalOutcomes(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	records, _ := h.ledger.RecordsForIdentity(context.Background(), 1)
	if len(records) != 1 {
		t.Errorf("expected one attendance row, got %d", len(records))
	}
}

func TestSession_DifferentIdentityBypassesCooldown(t *testing.T) {
	h := newHarness(t, 5*time.Second)

	h.feed(time.Second, []facematch.Face{faceAt(1, 0)}, []facematch.Face{faceAt(2, 0)})

	if h.ledger.Calls() != 2 {
		t.Errorf("expected both identities marked, got %d calls", h.ledger.Calls())
	}
	for _, id := range []int64{1, 2} {
		records, _ := h.ledger.RecordsForIdentity(context.Background(), id)
		if len(records) != 1 || records[0].Session != database.SessionMorning || records[0].ActivityID != 10 {
			t.Errorf("identity %d: unexpected records %+v", id, records)
		}
	}
}

func TestSession_UnknownOutcomes(t *testing.T) {
	h := newHarness(t, 5*time.Second)

	h.feed(time.Second, []facematch.Face{faceAt(1, 0)}, []facematch.Face{faceAt(0, 0)}, []facematch.Face{faceAt(-1, 0)})

	want := []database.Outcome{database.OutcomeRecognized, database.OutcomeUnknown, database.OutcomeLowConfidence}
	if got := outcomes(h.logs.Events()); !equalOutcomes(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if _, _, ok := h.session.cooldown.Last(); !ok {
		t.Error("expected last identity kept while within cooldown")
	}

	h.clock.Advance(10 * time.Second)
	h.frames[4] = []facematch.Face{faceAt(0, 0)}
	h.session.processFrame(context.Background(), frame(4))
	if _, _, ok := h.session.cooldown.Last(); ok {
		t.Error("expected unknown face to clear stale cooldown state")
	}
	for _, ev := range h.logs.Events()[1:] {
		if ev.IdentityID != nil {
			t.Errorf("unknown event should carry no identity, got %d", *ev.IdentityID)
		}
	}
}

func TestSession_LedgerErrorDoesNotStopOrArmCooldown(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	h.ledger.MarkError = database.Transient("mark present", errors.New("connection refused"))
	a := []facematch.Face{faceAt(1, 0)}

	h.feed(time.Second, a)
	h.ledger.MarkError = nil
	h.clock.Advance(time.Second)
	h.frames[2] = a
	h.session.processFrame(context.Background(), frame(2))

	if h.ledger.Calls() != 2 {
		t.Errorf("expected the mark to be retried, got %d calls", h.ledger.Calls())
	}
	stats := h.session.Info().Stats
	if stats.MarkErrors != 1 || stats.Recognized != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestSession_OverlappingDetectionsAreDeduplicated(t *testing.T) {
	h := newHarness(t, 5*time.Second)

	// Two boxes of the same face and one distinct face.
	h.feed(0, []facematch.Face{faceAt(1, 0), faceAt(1, 1), faceAt(2, 50)})

	if h.ledger.Calls() != 2 {
		t.Errorf("expected 2 ledger calls after overlap suppression, got %d", h.ledger.Calls())
	}
	if h.session.Info().Stats.Faces != 2 {
		t.Errorf("expected 2 faces processed, got %d", h.session.Info().Stats.Faces)
	}
}

func TestSession_EventsCarryFrameID(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	events, cancel := h.session.Subscribe()
	defer cancel()

	h.feed(time.Second, []facematch.Face{faceAt(1, 0), faceAt(2, 50)}, []facematch.Face{faceAt(0, 0)})

	got := make([]Event, 0, 3)
	for range 3 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("expected 3 events, got %d", len(got))
		}
	}
	if got[0].FrameID == "" || got[0].FrameID != got[1].FrameID {
		t.Errorf("expected faces of one frame to share a frame ID, got %q and %q", got[0].FrameID, got[1].FrameID)
	}
	if got[2].FrameID == "" || got[2].FrameID == got[0].FrameID {
		t.Errorf("expected a new frame ID for the next frame, got %q", got[2].FrameID)
	}
	if got[2].Frame != 2 {
		t.Errorf("expected frame sequence 2, got %d", got[2].Frame)
	}
}

func TestSession_NoEmbeddingAndAnalyzerErrors(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	h.feed(0, []facematch.Face{{Box: facematch.BBox{X2: 10, Y2: 10}}})

	h.session.deps.Analyzer = &scriptAnalyzer{err: errors.New("server down")}
	h.session.processFrame(context.Background(), frame(2))

	stats := h.session.Info().Stats
	if stats.NoEmbedding != 2 || stats.Frames != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if h.ledger.Calls() != 0 {
		t.Errorf("expected no ledger calls, got %d", h.ledger.Calls())
	}
}

func TestSession_LogFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	h.logs.AppendError = errors.New("disk full")
	events, cancel := h.session.Subscribe()
	defer cancel()

	h.feed(0, []facematch.Face{faceAt(1, 0)})

	select {
	case ev := <-events:
		if ev.Outcome != database.OutcomeRecognized || ev.Name != "person" {
			t.Errorf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected event delivered despite log failure")
	}
}

func TestSession_ResetCooldown(t *testing.T) {
	h := newHarness(t, time.Hour)
	a := []facematch.Face{faceAt(1, 0)}
	h.feed(time.Second, a)
	h.session.ResetCooldown()
	h.frames[2] = a
	h.session.processFrame(context.Background(), frame(2))

	if h.ledger.Calls() != 2 {
		t.Errorf("expected reset to allow a new attempt, got %d calls", h.ledger.Calls())
	}
}

func TestSession_RunToEndOfStream(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	stream := &fakeStream{frames: []camera.Frame{frame(1), frame(2), frame(3)}, clock: h.clock, step: time.Second}
	h.session.deps.Source = &fakeSource{stream: stream}
	a := []facematch.Face{faceAt(1, 0)}
	h.frames[1], h.frames[2], h.frames[3] = a, a, []facematch.Face{faceAt(2, 0)}

	events, _ := h.session.Subscribe()
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	<-h.session.Done()

	if len(got) != 2 {
		t.Errorf("expected 2 events, got %d", len(got))
	}
	if h.session.State() != StateStopped || h.session.Err() != nil {
		t.Errorf("expected clean stop, got %s / %v", h.session.State(), h.session.Err())
	}
	if !stream.closed.Load() {
		t.Error("expected camera to be closed")
	}
	if err := h.session.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestSession_StopReleasesCamera(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	stream := &fakeStream{frames: []camera.Frame{frame(1)}, block: true}
	h.session.deps.Source = &fakeSource{stream: stream}
	h.frames[1] = []facematch.Face{faceAt(1, 0)}

	events, _ := h.session.Subscribe()
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if h.session.State() != StateRunning {
		t.Fatalf("expected RUNNING, got %s", h.session.State())
	}
	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("no event for the first frame")
	}
	h.session.Stop()

	select {
	case <-h.session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
	if !stream.closed.Load() {
		t.Error("expected camera to be closed after Stop")
	}
	if h.session.Info().Stats.Frames != 1 {
		t.Errorf("expected the in-flight frame to complete, got %+v", h.session.Info().Stats)
	}
	if h.ledger.Calls() != 1 {
		t.Errorf("expected one mark, got %d", h.ledger.Calls())
	}
}

func TestSession_CameraUnavailableIsFatal(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	h.session.deps.Source = &fakeSource{err: camera.ErrSourceUnavailable}

	err := h.session.Start(context.Background())
	if !errors.Is(err, camera.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if h.session.State() != StateStopped {
		t.Errorf("expected STOPPED, got %s", h.session.State())
	}
	<-h.session.Done()
}

func TestSession_InvalidConfig(t *testing.T) {
	s := NewSession(Config{ActivityID: 1, Session: "NIGHT"}, Deps{})
	if err := s.Start(context.Background()); !database.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSession_StopIdle(t *testing.T) {
	h := newHarness(t, time.Second)
	h.session.Stop()
	<-h.session.Done()
	if h.session.State() != StateStopped {
		t.Errorf("expected STOPPED, got %s", h.session.State())
	}
	ch, _ := h.session.Subscribe()
	if _, open := <-ch; open {
		t.Error("expected closed channel for a stopped session")
	}
}

func TestManager(t *testing.T) {
	m := NewManager()
	h1 := newHarness(t, time.Second)
	h2 := newHarness(t, time.Second)
	h2.session.deps.Source = &fakeSource{stream: &fakeStream{block: true}}
	m.Add(h1.session)
	m.Add(h2.session)

	if err := h2.session.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if got, ok := m.Get(h2.session.ID()); !ok || got != h2.session {
		t.Fatal("expected session lookup by ID")
	}
	if len(m.List()) != 2 {
		t.Errorf("expected 2 sessions listed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.StopAll(ctx); err != nil {
		t.Fatalf("StopAll error: %v", err)
	}
	stoppedAt := h1.clock.Now()
	if n := m.Prune(stoppedAt); n != 0 {
		t.Errorf("expected sessions stopped at the cutoff to be kept, pruned %d", n)
	}
	if n := m.Prune(stoppedAt.Add(time.Second)); n != 2 {
		t.Errorf("expected 2 pruned sessions, got %d", n)
	}
	if len(m.List()) != 0 {
		t.Errorf("expected no sessions after Prune")
	}
}
