// Package faceapi is the client of the face detection and embedding server.
package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

const defaultURL = "http://localhost:8000"

// ErrNoEmbedding means the server found no face, or returned no vector, for an image.
var ErrNoEmbedding = errors.New("no face embedding available")

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Client talks to the face server.
type Client struct {
	baseURL string
	dim     int
	client  *http.Client
}

// NewClient creates a face server client. dim, when positive, is the expected
// embedding dimension; faces with a different one are dropped.
func NewClient(baseURL string, dim int) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dim:     dim,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// postMultipartImage posts the image as the "file" form field and returns the response body.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	switch {
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "image/png"
	case data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38:
		return "image/gif"
	case data[0] == 0x42 && data[1] == 0x4D:
		return "image/bmp"
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	}
	return "application/octet-stream"
}

// DetectFaces detects faces in encoded image data and computes their embeddings.
func (c *Client) DetectFaces(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &faceResp, nil
}

// Faces converts a response into faces with valid boxes and, when a dimension
// was configured, embeddings of that dimension. Faces are ordered by detection score.
func (c *Client) Faces(resp *FaceResponse) []facematch.Face {
	faces := make([]facematch.Face, 0, len(resp.Faces))
	for _, d := range resp.Faces {
		box, ok := facematch.BBoxFromSlice(d.BBox)
		if !ok {
			continue
		}
		vector := d.Embedding
		if c.dim > 0 && len(vector) != c.dim {
			vector = nil
		}
		faces = append(faces, facematch.Face{Box: box, Score: d.DetScore, Vector: vector})
	}
	sortByScore(faces)
	return faces
}

func sortByScore(faces []facematch.Face) {
	sort.SliceStable(faces, func(i, j int) bool { return faces[i].Score > faces[j].Score })
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Analyze detects every face of a frame. It satisfies the recognition session's analyzer.
func (c *Client) Analyze(ctx context.Context, frame image.Image) ([]facematch.Face, error) {
	data, err := encodeJPEG(frame)
	if err != nil {
		return nil, err
	}
	resp, err := c.DetectFaces(ctx, data)
	if err != nil {
		return nil, err
	}
	return c.Faces(resp), nil
}

// Embed returns the embedding of the most prominent face of a cropped face image.
func (c *Client) Embed(ctx context.Context, face image.Image) ([]float32, error) {
	faces, err := c.Analyze(ctx, face)
	if err != nil {
		return nil, err
	}
	boxes := make([]facematch.BBox, len(faces))
	for i, f := range faces {
		boxes[i] = f.Box
	}
	idx := facematch.LargestIndex(boxes)
	if idx < 0 || len(faces[idx].Vector) == 0 {
		return nil, ErrNoEmbedding
	}
	return faces[idx].Vector, nil
}
