package faceapi

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// SampleFromImage localizes the largest face of an encoded photo and returns it as an
// enrollment sample: the embedding from the detection, the box and frame size used for
// quality scoring, and the padded crop the pipeline embeds when the detection carried
// no usable vector. A photo without a face yields an empty sample, which the pipeline
// reports as having no embedding.
func (c *Client) SampleFromImage(ctx context.Context, label string, data []byte) (enrollment.Sample, error) {
	img, _, err := camera.DecodeImage(data)
	if err != nil {
		return enrollment.Sample{}, fmt.Errorf("sample %s: %w", label, err)
	}
	b := img.Bounds()
	sample := enrollment.Sample{Label: label, FrameWidth: b.Dx(), FrameHeight: b.Dy()}

	resp, err := c.DetectFaces(ctx, data)
	if err != nil {
		return enrollment.Sample{}, fmt.Errorf("detecting faces in %s: %w", label, err)
	}
	faces := c.Faces(resp)
	boxes := make([]facematch.BBox, len(faces))
	for i, f := range faces {
		boxes[i] = f.Box
	}
	idx := facematch.LargestIndex(boxes)
	if idx < 0 {
		return sample, nil
	}
	sample.Box = faces[idx].Box
	sample.Vector = faces[idx].Vector
	sample.Face = CropFace(img, sample.Box, DefaultCropSize, DefaultCropPadding)
	return sample, nil
}
