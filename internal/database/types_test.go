package database

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func TestParseSession(t *testing.T) {
	tests := []struct {
		input   string
		want    Session
		wantErr bool
	}{
		{"MORNING", SessionMorning, false},
		{"Morning", SessionMorning, false},
		{"afternoon", SessionAfternoon, false},
		{"Evening", SessionEvening, false},
		{"Full Day", SessionFullDay, false},
		{"FULL_DAY", SessionFullDay, false},
		{"full-day", SessionFullDay, false},
		{"night", "", true},
		{"", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseSession(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseSession(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
			if err != nil && !IsValidation(err) {
				t.Errorf("expected ValidationError, got %T", err)
			}
			if got != tc.want {
				t.Errorf("ParseSession(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestSessionDisplayName(t *testing.T) {
	if got := SessionFullDay.DisplayName(); got != "Full Day" {
		t.Errorf("expected 'Full Day', got %q", got)
	}
	if got := Session("X").DisplayName(); got != "X" {
		t.Errorf("expected passthrough for unknown session, got %q", got)
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"present", "ABSENT", "Late", "excused"} {
		if _, err := ParseStatus(s); err != nil {
			t.Errorf("ParseStatus(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := ParseStatus("gone"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
}

func TestAttendanceKeyValidate(t *testing.T) {
	date := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		key     AttendanceKey
		wantErr bool
	}{
		{"valid", AttendanceKey{IdentityID: 5, ActivityID: 10, Date: date, Session: SessionMorning}, false},
		{"missing identity", AttendanceKey{ActivityID: 10, Date: date, Session: SessionMorning}, true},
		{"missing activity", AttendanceKey{IdentityID: 5, Date: date, Session: SessionMorning}, true},
		{"zero date", AttendanceKey{IdentityID: 5, ActivityID: 10, Session: SessionMorning}, true},
		{"bad session", AttendanceKey{IdentityID: 5, ActivityID: 10, Date: date, Session: "NIGHT"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	in := time.Date(2025, 3, 4, 23, 30, 0, 0, loc)
	got := DateOf(in)
	want := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DateOf() = %v, want %v", got, want)
	}
}

func TestNormalize(t *testing.T) {
	v, err := Normalize([]float32{3, 4})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("expected [0.6 0.8], got %v", v)
	}

	for _, bad := range [][]float32{nil, {0, 0, 0}, {float32(math.NaN()), 1}} {
		if _, err := Normalize(bad); !errors.Is(err, ErrInvalidVector) {
			t.Errorf("Normalize(%v) expected ErrInvalidVector, got %v", bad, err)
		}
	}
}

func TestDotOfUnitVectors(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite", []float32{0, 1}, []float32{0, -1}, -1.0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Dot(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 0.0001 {
				t.Errorf("Dot() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCosineDistance(t *testing.T) {
	if d := CosineDistance([]float32{2, 0}, []float32{5, 0}); math.Abs(d) > 1e-9 {
		t.Errorf("expected 0 distance for parallel vectors, got %v", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{0, 0}); d != 1.0 {
		t.Errorf("expected distance 1 for zero vector, got %v", d)
	}
	if d := CosineDistance(nil, nil); d != 2.0 {
		t.Errorf("expected 2 for empty input, got %v", d)
	}
}

func TestVectorBytesRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.125}
	b := EncodeVector(in)
	if len(b) != 12 {
		t.Fatalf("expected 12 bytes, got %d", len(b))
	}
	// little-endian 0.25 = 0x3E800000
	if b[0] != 0x00 || b[3] != 0x3E {
		t.Errorf("expected little-endian layout, got % x", b[:4])
	}
	out, err := DecodeVector(b)
	if err != nil {
		t.Fatalf("DecodeVector error: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: expected %v, got %v", i, in[i], out[i])
		}
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated bytes")
	}
}

func TestClipQuality(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0}, {0, 0}, {0.42, 0.42}, {1, 1}, {7, 1}, {math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := ClipQuality(tt.in); got != tt.want {
			t.Errorf("ClipQuality(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPrepareEmbedding(t *testing.T) {
	_, _, err := PrepareEmbedding(3, []float32{1, 0}, 0.5)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if !IsValidation(err) {
		t.Error("expected dimension mismatch to be a validation error")
	}

	v, q, err := PrepareEmbedding(2, []float32{0, 2}, 1.7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v[1] != 1 || q != 1 {
		t.Errorf("expected normalized vector and clipped quality, got %v %v", v, q)
	}
}

func TestTransient(t *testing.T) {
	base := errors.New("connection refused")
	err := Transient("mark present", base)
	if !IsTransient(err) || !errors.Is(err, base) {
		t.Errorf("expected transient wrapper around base error, got %v", err)
	}
	if Transient("x", nil) != nil {
		t.Error("expected nil for nil error")
	}
	ve := DimensionError(3, 2)
	if Transient("x", ve) != ve {
		t.Error("validation errors must pass through unchanged")
	}
}

func TestRecognitionStatsAdd(t *testing.T) {
	var s RecognitionStats
	s.Add(RecognitionEvent{Outcome: OutcomeRecognized, Confidence: 0.9})
	s.Add(RecognitionEvent{Outcome: OutcomeUnknown, Confidence: 0.1})
	s.Add(RecognitionEvent{Outcome: OutcomeDuplicateSuppressed, Confidence: 0.8})

	if s.Total != 3 || s.Recognized != 1 || s.Unknown != 1 || s.Duplicates != 1 {
		t.Errorf("unexpected counts: %+v", s)
	}
	if math.Abs(s.AverageConfidence-0.6) > 1e-9 {
		t.Errorf("expected average 0.6, got %v", s.AverageConfidence)
	}
	if s.MaxConfidence != 0.9 || s.MinConfidence != 0.1 {
		t.Errorf("unexpected min/max: %v/%v", s.MinConfidence, s.MaxConfidence)
	}
}

func TestGalleryIndexCandidates(t *testing.T) {
	gallery := map[int64][]EmbeddingRecord{
		1: {{ID: 10, Vector: []float32{1, 0, 0}}, {ID: 11, Vector: []float32{0.99, 0.1, 0}}},
		2: {{ID: 20, Vector: []float32{0, 1, 0}}},
		3: {{ID: 30, Vector: []float32{0, 0, 1}}},
	}
	idx := NewGalleryIndex()
	if !idx.IsEmpty() {
		t.Fatal("expected new index to be empty")
	}
	idx.Build(gallery)
	if idx.Count() != 4 {
		t.Fatalf("expected 4 indexed embeddings, got %d", idx.Count())
	}

	got, err := idx.Candidates([]float32{1, 0.05, 0}, 1)
	if err != nil {
		t.Fatalf("Candidates error: %v", err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("expected [1], got %v", got)
	}

	path := filepath.Join(t.TempDir(), "gallery.hnsw")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	loaded := NewGalleryIndex()
	ok, err := loaded.Load(path, gallery)
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v; want true, nil", ok, err)
	}
	delete(gallery, 3)
	if ok, _ := NewGalleryIndex().Load(path, gallery); ok {
		t.Error("expected stale index to be rejected")
	}
}
