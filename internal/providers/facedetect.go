package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	scanerrors "github.com/facetrace/facetrace/internal/errors"
	"github.com/facetrace/facetrace/internal/models"
)

// DetectedFace is one face found in an image: bounding box, detection
// confidence and a unit-norm embedding.
type DetectedFace struct {
	BBox           [4]float64
	DetectionScore float64
	Embedding      []float32
}

// FaceDetectionProvider extracts faces and embeddings from image files.
type FaceDetectionProvider interface {
	// InitModel loads the named model. Called once before the first Detect.
	InitModel(ctx context.Context, name string) error
	// Detect returns every face found in the image at path.
	Detect(ctx context.Context, path string) ([]DetectedFace, error)
}

// FaceWorkerClient talks to the face detection sidecar, a local process that
// owns the GPU/CPU model. The sidecar keeps the model resident; this client
// just ships bytes.
type FaceWorkerClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewFaceWorkerClient creates a client for the sidecar at baseURL.
func NewFaceWorkerClient(baseURL string, timeout time.Duration) *FaceWorkerClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &FaceWorkerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// InitModel asks the sidecar to load a model by name.
func (c *FaceWorkerClient) InitModel(ctx context.Context, name string) error {
	body, err := json.Marshal(map[string]string{"model": name})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/init", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return scanerrors.New(scanerrors.ErrorTypeConnection, "face_init", ServiceFaceWorker, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return scanerrors.New(scanerrors.ErrorTypeTransient, "face_init", ServiceFaceWorker,
			fmt.Errorf("face worker init returned %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}
	c.model = name
	return nil
}

type faceWorkerResponse struct {
	Faces []struct {
		BBox      [4]float64 `json:"bbox"`
		Score     float64    `json:"score"`
		Embedding []float32  `json:"embedding"`
	} `json:"faces"`
}

// Detect uploads the image file and returns the faces the sidecar found.
// Embeddings are normalized here so downstream cosine math can assume unit
// vectors regardless of the model build.
func (c *FaceWorkerClient) Detect(ctx context.Context, path string) ([]DetectedFace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, scanerrors.Input("face_detect", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, scanerrors.Input("face_detect", err)
	}
	if c.model != "" {
		_ = mw.WriteField("model", c.model)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, scanerrors.New(scanerrors.ErrorTypeConnection, "face_detect", ServiceFaceWorker, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, scanerrors.New(scanerrors.ErrorTypeTransient, "face_detect", ServiceFaceWorker,
			fmt.Errorf("face worker returned %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}

	var decoded faceWorkerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, scanerrors.Permanent("face_detect", ServiceFaceWorker, err)
	}

	faces := make([]DetectedFace, 0, len(decoded.Faces))
	for _, raw := range decoded.Faces {
		if len(raw.Embedding) != models.EmbeddingDim {
			return nil, scanerrors.Permanent("face_detect", ServiceFaceWorker,
				fmt.Errorf("embedding dimension %d, want %d", len(raw.Embedding), models.EmbeddingDim))
		}
		models.Normalize(raw.Embedding)
		faces = append(faces, DetectedFace{
			BBox:           raw.BBox,
			DetectionScore: raw.Score,
			Embedding:      raw.Embedding,
		})
	}
	return faces, nil
}
