package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestObjectKeyFormat(t *testing.T) {
	at := time.UnixMilli(1757000000123).UTC()
	got := ObjectKey("c1", "m1", "screenshot", at, "png")
	want := "evidence/c1/m1/screenshot_1757000000123.png"
	if got != want {
		t.Fatalf("key = %s, want %s", got, want)
	}

	// A leading dot on the extension is not doubled.
	if k := ObjectKey("c1", "m1", "screenshot", at, ".png"); k != want {
		t.Fatalf("key = %s, want %s", k, want)
	}
}

func TestFSObjectStorePut(t *testing.T) {
	root := t.TempDir()
	s := NewFSObjectStore(root)

	key := "evidence/c1/m1/screenshot_1.png"
	if err := s.Put(context.Background(), key, []byte("pngbytes")); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(root, "evidence", "c1", "m1", "screenshot_1.png"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "pngbytes" {
		t.Fatalf("stored %q", got)
	}
}

type fakeCapturer struct {
	data []byte
	err  error
}

func (f *fakeCapturer) Capture(ctx context.Context, pageURL string) ([]byte, string, error) {
	return f.data, "png", f.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []string
	digests []string
}

func (f *fakeRecorder) InsertEvidence(matchID, objectKey string, sizeBytes int64, sha256Hex string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, objectKey)
	f.digests = append(f.digests, sha256Hex)
	return nil
}

func TestServiceCapturesAndRecords(t *testing.T) {
	root := t.TempDir()
	data := []byte("screenshot-bytes")
	recorder := &fakeRecorder{}
	svc := NewService(NewFSObjectStore(root), &fakeCapturer{data: data}, recorder, 8)

	if err := svc.EnqueueScreenshot(context.Background(), "c1", "m1", "https://example.com/p"); err != nil {
		t.Fatal(err)
	}
	svc.Shutdown()

	if len(recorder.records) != 1 {
		t.Fatalf("recorded %d uploads, want 1", len(recorder.records))
	}
	digest := sha256.Sum256(data)
	if recorder.digests[0] != hex.EncodeToString(digest[:]) {
		t.Fatal("recorded digest does not match the stored bytes")
	}
	got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(recorder.records[0])))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Fatal("stored bytes differ from the capture")
	}
}

func TestServiceNilCapturerSkips(t *testing.T) {
	recorder := &fakeRecorder{}
	svc := NewService(NewFSObjectStore(t.TempDir()), nil, recorder, 8)

	if err := svc.EnqueueScreenshot(context.Background(), "c1", "m1", "https://example.com/p"); err != nil {
		t.Fatal(err)
	}
	svc.Shutdown()

	if len(recorder.records) != 0 {
		t.Fatal("nothing should be recorded without a capturer")
	}
}

func TestServiceEmptyPageURLSkips(t *testing.T) {
	recorder := &fakeRecorder{}
	svc := NewService(NewFSObjectStore(t.TempDir()), &fakeCapturer{data: []byte("x")}, recorder, 8)

	if err := svc.EnqueueScreenshot(context.Background(), "c1", "m1", ""); err != nil {
		t.Fatal(err)
	}
	svc.Shutdown()

	if len(recorder.records) != 0 {
		t.Fatal("no capture should run without a page URL")
	}
}

func TestServiceCaptureFailureRecordsNothing(t *testing.T) {
	recorder := &fakeRecorder{}
	svc := NewService(NewFSObjectStore(t.TempDir()),
		&fakeCapturer{err: errors.New("render timeout")}, recorder, 8)

	if err := svc.EnqueueScreenshot(context.Background(), "c1", "m1", "https://example.com/p"); err != nil {
		t.Fatal(err)
	}
	svc.Shutdown()

	if len(recorder.records) != 0 {
		t.Fatal("failed captures must not be recorded")
	}
}

func TestServiceDrainsQueueOnShutdown(t *testing.T) {
	recorder := &fakeRecorder{}
	svc := NewService(NewFSObjectStore(t.TempDir()), &fakeCapturer{data: []byte("x")}, recorder, 16)

	for i := 0; i < 5; i++ {
		url := fmt.Sprintf("https://example.com/p/%d", i)
		if err := svc.EnqueueScreenshot(context.Background(), "c1", fmt.Sprintf("m%d", i), url); err != nil {
			t.Fatal(err)
		}
	}
	svc.Shutdown()

	if len(recorder.records) != 5 {
		t.Fatalf("recorded %d uploads, want all 5 before shutdown returns", len(recorder.records))
	}
}
