// Package ingest turns pending discovered images into face embeddings:
// download with caps, face detection, status mapping. Failures are recorded
// on the image row and never escape the stage.
package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	scanerrors "github.com/facetrace/facetrace/internal/errors"
	"github.com/facetrace/facetrace/internal/models"
)

// Downloader fetches image bytes into temp files under a hard size cap.
type Downloader struct {
	client   *http.Client
	maxBytes int64
	tempDir  string
}

// NewDownloader creates a downloader. Files land in tempDir and are the
// caller's to remove.
func NewDownloader(maxBytes int64, timeout time.Duration, tempDir string) *Downloader {
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Downloader{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		tempDir:  tempDir,
	}
}

// Fetch streams the URL into a temp file. The returned reason code is set
// whenever err is non-nil and classifies the failure for the image row.
func (d *Downloader) Fetch(ctx context.Context, sourceURL string) (path string, reason string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", models.ReasonDownloadError, scanerrors.Input("download_image", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", models.ReasonDownloadError, scanerrors.New(scanerrors.ErrorTypeConnection, "download_image", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", models.ReasonDownloadError, scanerrors.New(scanerrors.ErrorTypeTransient, "download_image", "",
			fmt.Errorf("download returned %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "image/") && !strings.HasPrefix(ct, "application/octet-stream") {
		return "", models.ReasonBadContent, scanerrors.Input("download_image",
			fmt.Errorf("content type %q is not an image", ct))
	}
	if resp.ContentLength > d.maxBytes {
		return "", models.ReasonOversized, scanerrors.Input("download_image",
			fmt.Errorf("content length %d exceeds cap %d", resp.ContentLength, d.maxBytes))
	}

	f, err := os.CreateTemp(d.tempDir, "facetrace-dl-*")
	if err != nil {
		return "", models.ReasonDownloadError, err
	}
	// Read one byte past the cap to distinguish "exactly at" from "over".
	n, err := io.Copy(f, io.LimitReader(resp.Body, d.maxBytes+1))
	closeErr := f.Close()
	if err != nil || closeErr != nil {
		os.Remove(f.Name())
		if err == nil {
			err = closeErr
		}
		return "", models.ReasonDownloadError, scanerrors.New(scanerrors.ErrorTypeConnection, "download_image", "", err)
	}
	if n > d.maxBytes {
		os.Remove(f.Name())
		return "", models.ReasonOversized, scanerrors.Input("download_image",
			fmt.Errorf("body exceeds cap %d", d.maxBytes))
	}
	return f.Name(), "", nil
}

// PurgeTemp removes leftover download files older than maxAge. Returns the
// number removed.
func (d *Downloader) PurgeTemp(maxAge time.Duration) int {
	entries, err := os.ReadDir(d.tempDir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "facetrace-dl-") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(d.tempDir+string(os.PathSeparator)+e.Name()) == nil {
			removed++
		}
	}
	return removed
}
