package discovery

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/facetrace/facetrace/internal/models"
)

// URLCheckSource probes a fixed list of URLs and emits the ones that still
// serve image content. Used to re-verify previously reported pages.
type URLCheckSource struct {
	client *http.Client
}

// NewURLCheckSource creates a URL checker with the given timeout.
func NewURLCheckSource(timeout time.Duration) *URLCheckSource {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &URLCheckSource{client: &http.Client{Timeout: timeout}}
}

func (s *URLCheckSource) SourceType() SourceType { return TypeURLCheck }
func (s *URLCheckSource) SourceName() string     { return "url_check" }

// Discover probes each URL with a HEAD request. Unreachable or non-image
// URLs are skipped with a log line; they are not errors.
func (s *URLCheckSource) Discover(ctx context.Context, dctx Context) (Result, error) {
	var res Result
	now := time.Now()
	for _, u := range dctx.URLs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if !s.servesImage(ctx, u) {
			continue
		}
		res.Images = append(res.Images, models.DiscoveredImage{
			SourceURL:    u,
			PageURL:      u,
			SourceName:   "url_check",
			Status:       models.ImagePending,
			DiscoveredAt: now,
		})
		if dctx.Limit > 0 && len(res.Images) >= dctx.Limit {
			break
		}
	}
	countDiscovered(s, len(res.Images))
	return res, nil
}

func (s *URLCheckSource) servesImage(ctx context.Context, u string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", u).Msg("URL check probe failed")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	ct := resp.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "image/") || ct == "" || strings.HasPrefix(ct, "text/html")
}
