// Package evidence captures and stores proof artifacts for gated matches:
// page screenshots keyed into an object store, each upload recorded with its
// size and SHA-256 digest.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ObjectKey builds the canonical storage key for an evidence artifact.
func ObjectKey(contributorID, matchID, evidenceType string, at time.Time, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("evidence/%s/%s/%s_%d%s", contributorID, matchID, evidenceType, at.UnixMilli(), ext)
}

// ObjectStore persists evidence blobs by key.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
}

// FSObjectStore keeps evidence blobs under a root directory, one file per
// key. Suits single-node deployments where the data dir is the durable
// store.
type FSObjectStore struct {
	root string
}

// NewFSObjectStore creates a filesystem-backed object store rooted at root.
func NewFSObjectStore(root string) *FSObjectStore {
	return &FSObjectStore{root: root}
}

// Put writes the blob to root/key, creating parent directories.
func (s *FSObjectStore) Put(ctx context.Context, key string, data []byte) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Capturer renders a page URL to an image. Implemented by an external
// screenshot collaborator.
type Capturer interface {
	Capture(ctx context.Context, pageURL string) (data []byte, ext string, err error)
}

// Recorder is the slice of the store evidence uploads are recorded through.
type Recorder interface {
	InsertEvidence(matchID, objectKey string, sizeBytes int64, sha256Hex string) error
}

type task struct {
	contributorID string
	matchID       string
	pageURL       string
}

// Service runs screenshot capture off the scan path: matches enqueue tasks,
// a single worker captures, uploads and records. Enqueue never blocks the
// matcher; a full queue drops the task with a warning.
type Service struct {
	objects  ObjectStore
	capturer Capturer
	recorder Recorder

	tasks chan task
	done  chan struct{}
}

// NewService starts the evidence worker. capturer may be nil; tasks are then
// dropped at enqueue time.
func NewService(objects ObjectStore, capturer Capturer, recorder Recorder, queueDepth int) *Service {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	s := &Service{
		objects:  objects,
		capturer: capturer,
		recorder: recorder,
		tasks:    make(chan task, queueDepth),
		done:     make(chan struct{}),
	}
	go s.worker()
	return s
}

// EnqueueScreenshot queues a capture task for a match's page URL.
func (s *Service) EnqueueScreenshot(ctx context.Context, contributorID, matchID, pageURL string) error {
	if s.capturer == nil {
		log.Debug().Str("match", matchID).Msg("No screenshot capturer configured, evidence skipped")
		return nil
	}
	if pageURL == "" {
		return nil
	}
	select {
	case s.tasks <- task{contributorID: contributorID, matchID: matchID, pageURL: pageURL}:
		return nil
	default:
		log.Warn().Str("match", matchID).Msg("Evidence queue full, screenshot task dropped")
		return nil
	}
}

// Shutdown stops accepting tasks and drains the queue.
func (s *Service) Shutdown() {
	close(s.tasks)
	<-s.done
}

func (s *Service) worker() {
	defer close(s.done)
	for t := range s.tasks {
		s.capture(t)
	}
}

func (s *Service) capture(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	data, ext, err := s.capturer.Capture(ctx, t.pageURL)
	if err != nil {
		log.Warn().Err(err).Str("match", t.matchID).Str("url", t.pageURL).Msg("Screenshot capture failed")
		return
	}

	key := ObjectKey(t.contributorID, t.matchID, "screenshot", time.Now(), ext)
	if err := s.objects.Put(ctx, key, data); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Evidence upload failed")
		return
	}

	digest := sha256.Sum256(data)
	if err := s.recorder.InsertEvidence(t.matchID, key, int64(len(data)), hex.EncodeToString(digest[:])); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to record evidence upload")
	}
}
