package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	scanerrors "github.com/facetrace/facetrace/internal/errors"
	"github.com/facetrace/facetrace/internal/models"
	"github.com/facetrace/facetrace/internal/resilience"
)

// ReverseImageSource queries a reverse-image search API with a contributor's
// reference photos. Each reference key is one search; results across all
// references are merged and deduplicated downstream.
type ReverseImageSource struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	limiters *resilience.LimiterRegistry
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig
	resolver ReferenceResolver
}

// ReferenceResolver turns a reference image storage key into a publicly
// fetchable URL the search API can pull.
type ReferenceResolver interface {
	ResolveURL(key string) (string, error)
}

// NewReverseImageSource creates the reverse-image search source.
func NewReverseImageSource(baseURL, apiKey string, timeout time.Duration, resolver ReferenceResolver,
	limiters *resilience.LimiterRegistry, breakers *resilience.BreakerRegistry) *ReverseImageSource {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ReverseImageSource{
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		limiters: limiters,
		breaker:  breakers.For("reverse_image"),
		retry:    resilience.DefaultRetryConfig(),
		resolver: resolver,
	}
}

func (s *ReverseImageSource) SourceType() SourceType { return TypeReverseImage }
func (s *ReverseImageSource) SourceName() string     { return "reverse_image" }

type reverseImagePage struct {
	Results struct {
		Matches []struct {
			ImageURL string `json:"image_url"`
			Backlinks []struct {
				URL       string `json:"url"`
				Backlink  string `json:"backlink"`
				CrawlDate string `json:"crawl_date"`
			} `json:"backlinks"`
		} `json:"matches"`
	} `json:"results"`
}

// Discover searches each reference key in turn until the per-pass limit is
// hit. A failed search for one reference does not abort the others.
func (s *ReverseImageSource) Discover(ctx context.Context, dctx Context) (Result, error) {
	limit := dctx.Limit
	if limit <= 0 {
		limit = 50
	}

	var res Result
	var lastErr error
	for _, key := range dctx.ReferenceKeys {
		if len(res.Images) >= limit {
			break
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		imgs, err := s.search(ctx, key, limit-len(res.Images))
		if err != nil {
			lastErr = err
			continue
		}
		res.Images = append(res.Images, imgs...)
	}
	countDiscovered(s, len(res.Images))
	if len(res.Images) == 0 && lastErr != nil {
		return res, lastErr
	}
	return res, nil
}

func (s *ReverseImageSource) search(ctx context.Context, referenceKey string, limit int) ([]models.DiscoveredImage, error) {
	refURL, err := s.resolver.ResolveURL(referenceKey)
	if err != nil {
		return nil, scanerrors.Input("reverse_search", err)
	}

	var page reverseImagePage
	err = s.breaker.Execute(func() error {
		return resilience.Retry(ctx, s.retry, func() error {
			if err := s.limiters.Acquire(ctx, "reverse_image", 1); err != nil {
				return err
			}
			return s.getJSON(ctx, refURL, limit, &page)
		})
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []models.DiscoveredImage
	for _, m := range page.Results.Matches {
		if m.ImageURL == "" {
			continue
		}
		img := models.DiscoveredImage{
			SourceURL:    m.ImageURL,
			SourceName:   "reverse_image",
			Status:       models.ImagePending,
			DiscoveredAt: now,
		}
		if len(m.Backlinks) > 0 {
			img.PageURL = m.Backlinks[0].Backlink
		}
		out = append(out, img)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *ReverseImageSource) getJSON(ctx context.Context, refURL string, limit int, out *reverseImagePage) error {
	q := url.Values{}
	q.Set("image_url", refURL)
	q.Set("limit", fmt.Sprint(limit))
	u := s.baseURL + "/search?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return scanerrors.New(scanerrors.ErrorTypeConnection, "reverse_search", "reverse_image", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return scanerrors.New(scanerrors.ErrorTypeTransient, "reverse_search", "reverse_image",
			fmt.Errorf("search API returned %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return scanerrors.Permanent("reverse_search", "reverse_image", err)
	}
	return nil
}
