package enrollment

import (
	"math"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

func TestSizeScore(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
		want  float64
	}{
		{"zero", 0, 0},
		{"negative", -1, 0},
		{"half of minimum", 0.025, 0.5},
		{"at minimum", 0.05, 1},
		{"middle", 0.2, 1},
		{"at maximum", 0.5, 1},
		{"above maximum", 0.75, 0.75},
		{"full frame", 1, 0.5},
		{"beyond frame", 3, 0},
		{"nan", math.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SizeScore(tt.ratio); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("SizeScore(%v) = %v, want %v", tt.ratio, got, tt.want)
			}
		})
	}
}

func TestCenterScore(t *testing.T) {
	if got := CenterScore(0); got != 1 {
		t.Errorf("expected 1 for centered face, got %v", got)
	}
	if got := CenterScore(1); got != 0 {
		t.Errorf("expected 0 at the corner, got %v", got)
	}
	if got := CenterScore(1.4); got != 0 {
		t.Errorf("expected clipping to 0, got %v", got)
	}
}

func TestQualityAlwaysInRange(t *testing.T) {
	weights := []Weights{DefaultWeights, {Size: 1, Center: 1}, {Size: 2, Center: 0}}
	for _, w := range weights {
		for ratio := -0.5; ratio <= 2.0; ratio += 0.05 {
			for offset := -0.5; offset <= 2.0; offset += 0.1 {
				q := w.Score(ratio, offset)
				if q < 0 || q > 1 || math.IsNaN(q) {
					t.Fatalf("Score(%v, %v) with %+v = %v, out of [0, 1]", ratio, offset, w, q)
				}
			}
		}
	}
}

func TestQualityOfBox(t *testing.T) {
	// 200x200 face centered in a 1000x1000 frame: 4% of the area, perfectly centered.
	box := facematch.BBox{X1: 400, Y1: 400, X2: 600, Y2: 600}
	got := DefaultWeights.Quality(box, 1000, 1000)
	want := 0.7*0.8 + 0.3*1.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Quality() = %v, want %v", got, want)
	}

	corner := facematch.BBox{X1: 0, Y1: 0, X2: 300, Y2: 300}
	if q := DefaultWeights.Quality(corner, 1000, 1000); q >= got {
		t.Errorf("expected off-center face to score lower, got %v >= %v", q, got)
	}

	if q := DefaultWeights.Quality(box, 0, 0); q != 0 {
		t.Errorf("expected 0 for an empty frame, got %v", q)
	}
}
