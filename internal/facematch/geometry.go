// Package facematch provides face geometry and name helpers shared between the
// enrollment pipeline, the recognition loop, CLI and web handlers.
package facematch

import "math"

// BBox is a face bounding box in pixel corner coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// BBoxFromSlice converts an [x1, y1, x2, y2] slice as returned by the face server.
// ok is false for malformed input.
func BBoxFromSlice(b []float64) (BBox, bool) {
	if len(b) != 4 {
		return BBox{}, false
	}
	box := BBox{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}
	return box, box.Valid()
}

// Valid reports whether the box has a positive area.
func (b BBox) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Width returns the box width.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area, 0 for invalid boxes.
func (b BBox) Area() float64 {
	if !b.Valid() {
		return 0
	}
	return b.Width() * b.Height()
}

// Center returns the box center point.
func (b BBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// AreaRatio returns the share of the frame covered by the box.
func (b BBox) AreaRatio(frameWidth, frameHeight int) float64 {
	if frameWidth <= 0 || frameHeight <= 0 {
		return 0
	}
	return b.Area() / float64(frameWidth*frameHeight)
}

// CenterOffset returns the distance between the box center and the frame center
// divided by half the frame diagonal. 0 is perfectly centered, 1 is a corner.
func (b BBox) CenterOffset(frameWidth, frameHeight int) float64 {
	if frameWidth <= 0 || frameHeight <= 0 {
		return 1
	}
	cx, cy := b.Center()
	fx, fy := float64(frameWidth)/2, float64(frameHeight)/2
	halfDiagonal := math.Hypot(fx, fy)
	return math.Hypot(cx-fx, cy-fy) / halfDiagonal
}

// Pad grows the box by frac of its size on every side and clamps it to the frame.
func (b BBox) Pad(frac float64, frameWidth, frameHeight int) BBox {
	dx, dy := b.Width()*frac, b.Height()*frac
	return BBox{
		X1: math.Max(0, b.X1-dx),
		Y1: math.Max(0, b.Y1-dy),
		X2: math.Min(float64(frameWidth), b.X2+dx),
		Y2: math.Min(float64(frameHeight), b.Y2+dy),
	}
}

// ComputeIoU calculates Intersection over Union between two bounding boxes.
func ComputeIoU(a, b BBox) float64 {
	// Calculate intersection.
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// LargestIndex returns the index of the box with the largest area, -1 for none.
func LargestIndex(boxes []BBox) int {
	best, bestArea := -1, 0.0
	for i, b := range boxes {
		if a := b.Area(); a > bestArea {
			best, bestArea = i, a
		}
	}
	return best
}

// SuppressOverlaps returns the indexes of boxes to keep after dropping any box that overlaps
// an earlier kept box by at least iouThreshold. Callers order boxes by preference.
func SuppressOverlaps(boxes []BBox, iouThreshold float64) []int {
	var keep []int
	for i, b := range boxes {
		overlaps := false
		for _, k := range keep {
			if ComputeIoU(b, boxes[k]) >= iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			keep = append(keep, i)
		}
	}
	return keep
}

// Face is one detected face in a frame together with its embedding.
type Face struct {
	Box    BBox      `json:"bbox"`
	Score  float64   `json:"det_score"`
	Vector []float32 `json:"-"`
}
