// Package recognition runs the frame loop that turns camera frames into
// deduplicated attendance marks.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

// ErrAlreadyStarted is returned by Start on a session that is not idle.
var ErrAlreadyStarted = errors.New("recognition session already started")

// FaceAnalyzer detects faces in a frame and computes their embeddings.
type FaceAnalyzer interface {
	Analyze(ctx context.Context, frame image.Image) ([]facematch.Face, error)
}

// Matcher resolves an embedding to an identity.
type Matcher interface {
	Match(ctx context.Context, query []float32) (matcher.Result, error)
}

// Marker writes attendance marks.
type Marker interface {
	MarkPresent(ctx context.Context, key database.AttendanceKey, markedBy string) (bool, error)
}

// State is the lifecycle state of a session.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateIdle, StateRunning, StateStopped} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Config describes what a session marks attendance for.
type Config struct {
	ActivityID int64            `json:"activity_id"`
	Session    database.Session `json:"session"`
	// Date of the marks. Zero uses the clock's current date for every mark.
	Date       time.Time     `json:"date,omitzero"`
	CameraID   string        `json:"camera_id"`
	Cooldown   time.Duration `json:"cooldown"`
	OverlapIoU float64       `json:"overlap_iou"` // overlapping detections above this IoU are dropped
}

// Event is a recognition outcome published to listeners.
type Event struct {
	database.RecognitionEvent
	Name    string         `json:"name,omitempty"`
	Frame   int64          `json:"frame"`
	FrameID string         `json:"frame_id"` // shared by every event of one frame
	Box     facematch.BBox `json:"bbox"`
}

// Stats counts what a session has processed.
type Stats struct {
	Frames        int64 `json:"frames"`
	FrameErrors   int64 `json:"frame_errors"`
	Faces         int64 `json:"faces"`
	NoEmbedding   int64 `json:"no_embedding"`
	Recognized    int64 `json:"recognized"`
	Duplicates    int64 `json:"duplicates"`
	Unknown       int64 `json:"unknown"`
	LowConfidence int64 `json:"low_confidence"`
	CooldownSkips int64 `json:"cooldown_skips"`
	MatchErrors   int64 `json:"match_errors"`
	MarkErrors    int64 `json:"mark_errors"`
}

// Info is a point-in-time view of a session.
type Info struct {
	ID        string     `json:"id"`
	State     State      `json:"state"`
	Config    Config     `json:"config"`
	Stats     Stats      `json:"stats"`
	StartedAt time.Time  `json:"started_at,omitzero"`
	StoppedAt time.Time  `json:"stopped_at,omitzero"`
	Error     string     `json:"error,omitempty"`
	LastID    int64      `json:"last_identity_id,omitempty"`
	LastAt    *time.Time `json:"last_identity_at,omitempty"`
}

// Deps are the collaborators of a session. Logs may be nil.
type Deps struct {
	Source   camera.Source
	Analyzer FaceAnalyzer
	Matcher  Matcher
	Marker   Marker
	Logs     database.RecognitionLogStore
	Log      *logger.Logger
	Now      func() time.Time
}

const listenerBuffer = 64

// Session is a single recognition run over one camera. Frames are processed
// one at a time, in arrival order, on a dedicated goroutine.
type Session struct {
	id       string
	cfg      Config
	deps     Deps
	cooldown *Cooldown
	log      *logger.Logger

	state atomic.Int32
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once

	mu        sync.Mutex
	stats     Stats
	startedAt time.Time
	stoppedAt time.Time
	err       error
	listeners map[int]chan Event
	nextSub   int
}

// NewSession creates an idle session.
func NewSession(cfg Config, deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if cfg.OverlapIoU <= 0 {
		cfg.OverlapIoU = 0.5
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		cfg:       cfg,
		deps:      deps,
		cooldown:  NewCooldown(cfg.Cooldown),
		log:       deps.Log.With("component", "recognition", "recognition_session", id, "camera_id", cfg.CameraID),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		listeners: make(map[int]chan Event),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session has stopped and released the camera.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the session, nil for a normal stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start validates the configuration, acquires the camera and launches the frame loop.
// A camera that cannot be opened is fatal and leaves the session STOPPED.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	if err := s.validate(); err != nil {
		s.finish(err)
		close(s.done)
		return err
	}

	stream, err := s.deps.Source.Open(ctx)
	if err != nil {
		err = fmt.Errorf("opening camera: %w", err)
		s.finish(err)
		close(s.done)
		return err
	}

	s.mu.Lock()
	s.startedAt = s.deps.Now()
	s.mu.Unlock()
	s.log.Info("recognition session started", "activity_id", s.cfg.ActivityID, "session", s.cfg.Session)

	go s.run(ctx, stream)
	return nil
}

func (s *Session) validate() error {
	if s.cfg.ActivityID <= 0 {
		return &database.ValidationError{Field: "activity_id", Err: database.ErrInvalidValue}
	}
	if !s.cfg.Session.Valid() {
		return &database.ValidationError{Field: "session", Err: fmt.Errorf("%w: unknown session %q", database.ErrInvalidValue, s.cfg.Session)}
	}
	if s.deps.Source == nil || s.deps.Analyzer == nil || s.deps.Matcher == nil || s.deps.Marker == nil {
		return errors.New("recognition session is missing a collaborator")
	}
	return nil
}

// Stop asks the loop to stop after the frame in flight. It does not wait; use Done.
// Stopping an idle session moves it straight to STOPPED.
func (s *Session) Stop() {
	s.once.Do(func() { close(s.stop) })
	if s.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		s.finish(nil)
		close(s.done)
	}
}

// ResetCooldown forgets the last recognized identity without stopping the session.
func (s *Session) ResetCooldown() {
	s.cooldown.Reset()
	s.log.Info("cooldown reset")
}

// Subscribe registers a listener. Events are dropped for a listener whose buffer is full.
// The channel is closed when the session stops or cancel is called.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, listenerBuffer)
	if s.listeners == nil {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.listeners[id]; ok {
			delete(s.listeners, id)
			close(c)
		}
	}
}

func (s *Session) stoppedBefore(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stoppedAt.Before(cutoff)
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:        s.id,
		State:     s.State(),
		Config:    s.cfg,
		Stats:     s.stats,
		StartedAt: s.startedAt,
		StoppedAt: s.stoppedAt,
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	s.mu.Unlock()

	if id, at, ok := s.cooldown.Last(); ok {
		info.LastID = id
		info.LastAt = &at
	}
	return info
}

// finish records the terminal error, marks the session STOPPED and closes listeners.
func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	s.stoppedAt = s.deps.Now()
	s.state.Store(int32(StateStopped))
	for id, ch := range s.listeners {
		close(ch)
		delete(s.listeners, id)
	}
	s.listeners = nil
}

func (s *Session) run(ctx context.Context, stream camera.Stream) {
	var runErr error
	defer close(s.done)
	defer func() {
		if err := stream.Close(); err != nil {
			s.log.Warn("closing camera failed", "error", err)
		}
		s.finish(runErr)
		if runErr != nil {
			s.log.Error("recognition session failed", "error", runErr)
		} else {
			s.log.Info("recognition session stopped")
		}
	}()

	// Waiting for a frame is interrupted by Stop; processing a frame is not.
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		frame, err := stream.Next(waitCtx)
		switch {
		case err == nil:
		case errors.Is(err, camera.ErrEndOfStream):
			return
		case errors.Is(err, camera.ErrSourceUnavailable):
			runErr = err
			return
		case waitCtx.Err() != nil:
			return
		default:
			s.count(func(st *Stats) { st.FrameErrors++ })
			s.log.Warn("skipping frame", "error", err)
			continue
		}

		s.processFrame(context.WithoutCancel(ctx), frame)
	}
}

func (s *Session) count(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

// processFrame runs detect, match and mark for every face of one frame.
func (s *Session) processFrame(ctx context.Context, frame camera.Frame) {
	s.count(func(st *Stats) { st.Frames++ })
	frameID := uuid.NewString()

	faces, err := s.deps.Analyzer.Analyze(ctx, frame.Image)
	if err != nil {
		s.count(func(st *Stats) { st.NoEmbedding++ })
		s.log.Warn("face analysis failed", "frame", frame.Seq, "frame_id", frameID, "error", err)
		return
	}

	boxes := make([]facematch.BBox, len(faces))
	for i, f := range faces {
		boxes[i] = f.Box
	}
	for _, idx := range facematch.SuppressOverlaps(boxes, s.cfg.OverlapIoU) {
		s.processFace(ctx, frame, frameID, faces[idx])
	}
}

func (s *Session) processFace(ctx context.Context, frame camera.Frame, frameID string, face facematch.Face) {
	s.count(func(st *Stats) { st.Faces++ })
	if len(face.Vector) == 0 {
		s.count(func(st *Stats) { st.NoEmbedding++ })
		return
	}

	res, err := s.deps.Matcher.Match(ctx, face.Vector)
	if err != nil {
		s.count(func(st *Stats) { st.MatchErrors++ })
		s.log.Warn("match failed", "frame", frame.Seq, "frame_id", frameID, "error", err)
		return
	}

	now := s.deps.Now()
	if res.Outcome != database.OutcomeRecognized {
		s.cooldown.ObserveUnknown(now)
		s.emit(ctx, frame, frameID, face, res, res.Outcome)
		return
	}

	identityID := res.IdentityID()
	if !s.cooldown.ShouldMark(identityID, now) {
		s.count(func(st *Stats) { st.CooldownSkips++ })
		return
	}

	key := database.AttendanceKey{
		IdentityID: identityID,
		ActivityID: s.cfg.ActivityID,
		Date:       s.markDate(now),
		Session:    s.cfg.Session,
	}
	marked, err := s.deps.Marker.MarkPresent(ctx, key, database.SourceRecognition)
	if err != nil {
		// The cooldown is left alone so the next sighting retries the mark.
		s.count(func(st *Stats) { st.MarkErrors++ })
		s.log.Error("attendance mark failed", "identity_id", identityID, "frame_id", frameID, "error", err)
		return
	}
	s.cooldown.Record(identityID, now)

	outcome := database.OutcomeRecognized
	if !marked {
		outcome = database.OutcomeDuplicateSuppressed
	}
	s.emit(ctx, frame, frameID, face, res, outcome)
}

func (s *Session) markDate(now time.Time) time.Time {
	if !s.cfg.Date.IsZero() {
		return database.DateOf(s.cfg.Date)
	}
	return database.DateOf(now)
}

func (s *Session) emit(ctx context.Context, frame camera.Frame, frameID string, face facematch.Face, res matcher.Result, outcome database.Outcome) {
	ev := Event{
		RecognitionEvent: database.RecognitionEvent{
			SessionID:  s.id,
			Confidence: res.Confidence,
			Outcome:    outcome,
			CameraID:   s.cfg.CameraID,
			CreatedAt:  s.deps.Now(),
		},
		Frame:   frame.Seq,
		FrameID: frameID,
		Box:     face.Box,
	}
	if res.Identity != nil {
		id := res.Identity.ID
		ev.IdentityID = &id
		ev.Name = res.Identity.Name
	}

	s.count(func(st *Stats) {
		switch outcome {
		case database.OutcomeRecognized:
			st.Recognized++
		case database.OutcomeDuplicateSuppressed:
			st.Duplicates++
		case database.OutcomeLowConfidence:
			st.LowConfidence++
		default:
			st.Unknown++
		}
	})

	if s.deps.Logs != nil {
		if err := s.deps.Logs.AppendEvent(ctx, &ev.RecognitionEvent); err != nil {
			s.log.Warn("writing recognition log failed", "error", err)
		}
	}
	s.log.Debug("recognition event", "outcome", outcome, "identity", ev.Name, "confidence", ev.Confidence)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}
