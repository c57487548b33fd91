package ingest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/facetrace/facetrace/internal/models"
)

func serveBytes(t *testing.T, contentType string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchWritesTempFile(t *testing.T) {
	body := []byte("jpegbytes")
	srv := serveBytes(t, "image/jpeg", body)
	d := NewDownloader(1<<20, 5*time.Second, t.TempDir())

	path, reason, err := d.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if reason != "" {
		t.Fatalf("reason = %q, want empty on success", reason)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("downloaded %q, want %q", got, body)
	}
}

func TestFetchRejectsNonImageContentType(t *testing.T) {
	srv := serveBytes(t, "text/html", []byte("<html></html>"))
	d := NewDownloader(1<<20, 5*time.Second, t.TempDir())

	_, reason, err := d.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for html response")
	}
	if reason != models.ReasonBadContent {
		t.Fatalf("reason = %q, want %q", reason, models.ReasonBadContent)
	}
}

func TestFetchAllowsOctetStream(t *testing.T) {
	srv := serveBytes(t, "application/octet-stream", []byte("raw"))
	d := NewDownloader(1<<20, 5*time.Second, t.TempDir())

	if _, _, err := d.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	srv := serveBytes(t, "image/png", bytes.Repeat([]byte("x"), 2048))
	tmp := t.TempDir()
	d := NewDownloader(1024, 5*time.Second, tmp)

	_, reason, err := d.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for oversized body")
	}
	if reason != models.ReasonOversized {
		t.Fatalf("reason = %q, want %q", reason, models.ReasonOversized)
	}

	// No temp file may survive a rejected download.
	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("found %d leftover files", len(entries))
	}
}

func TestFetchAcceptsBodyExactlyAtCap(t *testing.T) {
	srv := serveBytes(t, "image/png", bytes.Repeat([]byte("x"), 1024))
	d := NewDownloader(1024, 5*time.Second, t.TempDir())

	if _, _, err := d.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}
}

func TestFetchClassifiesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	d := NewDownloader(1<<20, 5*time.Second, t.TempDir())

	_, reason, err := d.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if reason != models.ReasonDownloadError {
		t.Fatalf("reason = %q, want %q", reason, models.ReasonDownloadError)
	}
}

func TestPurgeTempRemovesOnlyOldDownloadFiles(t *testing.T) {
	tmp := t.TempDir()
	d := NewDownloader(1<<20, 5*time.Second, tmp)

	old := filepath.Join(tmp, "facetrace-dl-old")
	if err := os.WriteFile(old, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}

	fresh := filepath.Join(tmp, "facetrace-dl-fresh")
	if err := os.WriteFile(fresh, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	unrelated := filepath.Join(tmp, "keep.txt")
	if err := os.WriteFile(unrelated, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(unrelated, stale, stale); err != nil {
		t.Fatal(err)
	}

	if n := d.PurgeTemp(24 * time.Hour); n != 1 {
		t.Fatalf("purged %d files, want 1", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("old download file should be gone")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh download file should survive")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatal("unrelated file should survive")
	}
}
