package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/facetrace/facetrace/internal/models"
)

func tempImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "face.jpg")
	if err := os.WriteFile(path, []byte("jpegbytes"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func embeddingJSON(dim int, scale float32) string {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = scale
	}
	data, _ := json.Marshal(vec)
	return string(data)
}

func TestDetectNormalizesEmbeddings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart parse: %v", err)
		}
		if _, _, err := r.FormFile("image"); err != nil {
			t.Errorf("image part missing: %v", err)
		}
		fmt.Fprintf(w, `{"faces":[{"bbox":[1,2,3,4],"score":0.97,"embedding":%s}]}`,
			embeddingJSON(models.EmbeddingDim, 2.0))
	}))
	t.Cleanup(srv.Close)

	c := NewFaceWorkerClient(srv.URL, 5*time.Second)
	faces, err := c.Detect(context.Background(), tempImage(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(faces) != 1 {
		t.Fatalf("got %d faces, want 1", len(faces))
	}
	if faces[0].DetectionScore != 0.97 {
		t.Fatalf("score = %v", faces[0].DetectionScore)
	}

	var norm float64
	for _, x := range faces[0].Embedding {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-3 {
		t.Fatalf("embedding norm = %v, want 1", math.Sqrt(norm))
	}
}

func TestDetectRejectsWrongDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"faces":[{"bbox":[0,0,0,0],"score":0.9,"embedding":%s}]}`, embeddingJSON(128, 1))
	}))
	t.Cleanup(srv.Close)

	c := NewFaceWorkerClient(srv.URL, 5*time.Second)
	if _, err := c.Detect(context.Background(), tempImage(t)); err == nil {
		t.Fatal("a wrong-width embedding must be rejected")
	}
}

func TestDetectNoFaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"faces":[]}`)
	}))
	t.Cleanup(srv.Close)

	c := NewFaceWorkerClient(srv.URL, 5*time.Second)
	faces, err := c.Detect(context.Background(), tempImage(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(faces) != 0 {
		t.Fatalf("got %d faces, want 0", len(faces))
	}
}

func TestInitModelSendsName(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/init" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		got = body["model"]
	}))
	t.Cleanup(srv.Close)

	c := NewFaceWorkerClient(srv.URL, 5*time.Second)
	if err := c.InitModel(context.Background(), "buffalo_l"); err != nil {
		t.Fatal(err)
	}
	if got != "buffalo_l" {
		t.Fatalf("model = %q", got)
	}
}

func TestInitModelPropagatesSidecarErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := NewFaceWorkerClient(srv.URL, 5*time.Second)
	if err := c.InitModel(context.Background(), "buffalo_l"); err == nil {
		t.Fatal("expected error for sidecar 500")
	}
}
