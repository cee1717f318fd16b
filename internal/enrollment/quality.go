package enrollment

import (
	"math"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Face area ratios outside [minAreaRatio, maxAreaRatio] are penalized.
const (
	minAreaRatio = 0.05
	maxAreaRatio = 0.5
)

// Weights balances the size and centering components of the quality score.
type Weights struct {
	Size   float64
	Center float64
}

// DefaultWeights is the 0.7/0.3 size/center split.
var DefaultWeights = Weights{Size: 0.7, Center: 0.3}

// SizeScore ramps linearly to 1 below 5% of the frame, is 1 up to 50% and
// decreases linearly above that. The result is clipped to [0, 1].
func SizeScore(areaRatio float64) float64 {
	switch {
	case math.IsNaN(areaRatio) || areaRatio <= 0:
		return 0
	case areaRatio < minAreaRatio:
		return areaRatio / minAreaRatio
	case areaRatio > maxAreaRatio:
		return database.ClipQuality(1 - (areaRatio - maxAreaRatio))
	default:
		return 1
	}
}

// CenterScore is 1 for a face centered in the frame and 0 at a corner.
func CenterScore(centerOffset float64) float64 {
	return database.ClipQuality(1 - centerOffset)
}

// Score combines size and center scores. The result is always within [0, 1].
func (w Weights) Score(areaRatio, centerOffset float64) float64 {
	return database.ClipQuality(w.Size*SizeScore(areaRatio) + w.Center*CenterScore(centerOffset))
}

// Quality scores a face box inside a frame of the given size.
func (w Weights) Quality(box facematch.BBox, frameWidth, frameHeight int) float64 {
	return w.Score(box.AreaRatio(frameWidth, frameHeight), box.CenterOffset(frameWidth, frameHeight))
}
