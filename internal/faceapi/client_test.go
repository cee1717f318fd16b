package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

func faceServer(t *testing.T, resp FaceResponse) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/embed/face" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file field: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file.Close()
		if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" && ct != "image/png" {
			t.Errorf("unexpected part content type %q", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	return img
}

func pngData(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestAnalyze(t *testing.T) {
	srv, _ := faceServer(t, FaceResponse{
		FacesCount: 3,
		Faces: []FaceDetection{
			{FaceIndex: 0, Dim: 3, Embedding: []float32{1, 0, 0}, BBox: []float64{10, 10, 50, 50}, DetScore: 0.7},
			{FaceIndex: 1, Dim: 3, Embedding: []float32{0, 1, 0}, BBox: []float64{60, 10, 90, 40}, DetScore: 0.95},
			{FaceIndex: 2, Dim: 3, Embedding: []float32{0, 0, 1}, BBox: []float64{5, 5}, DetScore: 0.99},
		},
		Model: "buffalo_l",
	})

	faces, err := NewClient(srv.URL, 3).Analyze(context.Background(), testImage(100, 80))
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected malformed box dropped, got %d faces", len(faces))
	}
	if faces[0].Score != 0.95 || faces[0].Box != (facematch.BBox{X1: 60, Y1: 10, X2: 90, Y2: 40}) {
		t.Errorf("expected highest score first, got %+v", faces[0])
	}
}

func TestAnalyze_DimensionFilter(t *testing.T) {
	srv, _ := faceServer(t, FaceResponse{
		FacesCount: 1,
		Faces:      []FaceDetection{{Embedding: []float32{1, 0}, BBox: []float64{0, 0, 10, 10}, DetScore: 0.9}},
	})
	faces, err := NewClient(srv.URL, 512).Analyze(context.Background(), testImage(20, 20))
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if len(faces) != 1 || faces[0].Vector != nil {
		t.Errorf("expected face kept without a mismatched vector, got %+v", faces)
	}
}

func TestEmbed(t *testing.T) {
	tests := []struct {
		name    string
		resp    FaceResponse
		want    []float32
		wantErr error
	}{
		{
			name: "largest face wins",
			resp: FaceResponse{FacesCount: 2, Faces: []FaceDetection{
				{Embedding: []float32{1, 0}, BBox: []float64{0, 0, 10, 10}, DetScore: 0.99},
				{Embedding: []float32{0, 1}, BBox: []float64{0, 0, 100, 100}, DetScore: 0.6},
			}},
			want: []float32{0, 1},
		},
		{
			name:    "no face",
			resp:    FaceResponse{},
			wantErr: ErrNoEmbedding,
		},
		{
			name:    "face without vector",
			resp:    FaceResponse{FacesCount: 1, Faces: []FaceDetection{{BBox: []float64{0, 0, 10, 10}}}},
			wantErr: ErrNoEmbedding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := faceServer(t, tt.resp)
			got, err := NewClient(srv.URL, 0).Embed(context.Background(), testImage(160, 160))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Embed error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && (len(got) != len(tt.want) || got[1] != tt.want[1]) {
				t.Errorf("Embed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).DetectFaces(context.Background(), []byte("data"))
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestSampleFromImage(t *testing.T) {
	srv, calls := faceServer(t, FaceResponse{FacesCount: 2, Faces: []FaceDetection{
		{Embedding: []float32{1, 0}, BBox: []float64{10, 10, 30, 30}, DetScore: 0.9},
		{Embedding: []float32{0, 1}, BBox: []float64{40, 20, 80, 60}, DetScore: 0.8},
	}})
	data := pngData(t, testImage(100, 80))

	sample, err := NewClient(srv.URL, 0).SampleFromImage(context.Background(), "alice.png", data)
	if err != nil {
		t.Fatalf("SampleFromImage error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected one detection call, got %d", calls.Load())
	}
	if sample.FrameWidth != 100 || sample.FrameHeight != 80 {
		t.Errorf("unexpected frame size %dx%d", sample.FrameWidth, sample.FrameHeight)
	}
	if sample.Box.X1 != 40 || sample.Face == nil {
		t.Errorf("expected largest face cropped, got box %+v", sample.Box)
	}
	if b := sample.Face.Bounds(); b.Dx() != DefaultCropSize || b.Dy() != DefaultCropSize {
		t.Errorf("expected %dx%d crop, got %v", DefaultCropSize, DefaultCropSize, b)
	}
	if len(sample.Vector) != 2 || sample.Vector[1] != 1 {
		t.Errorf("expected the detection embedding of the largest face, got %v", sample.Vector)
	}
}

func TestSampleFromImage_WrongDimensionKeepsCropOnly(t *testing.T) {
	srv, calls := faceServer(t, FaceResponse{FacesCount: 1, Faces: []FaceDetection{
		{Embedding: []float32{1, 0}, BBox: []float64{10, 10, 50, 50}, DetScore: 0.9},
	}})
	data := pngData(t, testImage(100, 80))

	sample, err := NewClient(srv.URL, 3).SampleFromImage(context.Background(), "bob.png", data)
	if err != nil {
		t.Fatalf("SampleFromImage error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected one detection call, got %d", calls.Load())
	}
	if sample.Vector != nil || sample.Face == nil {
		t.Errorf("expected crop without vector, got vector %v", sample.Vector)
	}
}

func TestCropFace(t *testing.T) {
	img := testImage(100, 100)
	crop := CropFace(img, facematch.BBox{X1: 90, Y1: 90, X2: 120, Y2: 120}, 64, 0.1)
	if b := crop.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Errorf("expected 64x64 crop, got %v", b)
	}
	empty := CropFace(img, facematch.BBox{X1: 200, Y1: 200, X2: 210, Y2: 210}, 0, 0)
	if b := empty.Bounds(); b.Dx() != DefaultCropSize {
		t.Errorf("expected default size for out-of-frame box, got %v", b)
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBP"), "image/webp"},
		{"short", []byte{1, 2}, "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMIMEType(tt.data); got != tt.want {
				t.Errorf("detectMIMEType() = %q, want %q", got, tt.want)
			}
		})
	}
}
