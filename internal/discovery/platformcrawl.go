package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	scanerrors "github.com/facetrace/facetrace/internal/errors"
	"github.com/facetrace/facetrace/internal/models"
	"github.com/facetrace/facetrace/internal/resilience"
)

// tagDone marks a tag whose model pages are fully crawled; the cursor map
// keeps the sentinel so restarts skip the tag.
const tagDone = "done"

// PlatformCrawlSource walks a platform's public image API: the general feed
// first, then per-tag listings, resuming from the cursors of the previous
// run.
type PlatformCrawlSource struct {
	name     string
	baseURL  string
	client   *http.Client
	limiters *resilience.LimiterRegistry
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig
}

// NewPlatformCrawlSource creates a crawler for one platform API.
func NewPlatformCrawlSource(name, baseURL string, timeout time.Duration,
	limiters *resilience.LimiterRegistry, breakers *resilience.BreakerRegistry) *PlatformCrawlSource {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &PlatformCrawlSource{
		name:     name,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		limiters: limiters,
		breaker:  breakers.For("crawl_" + name),
		retry:    resilience.DefaultRetryConfig(),
	}
}

func (s *PlatformCrawlSource) SourceType() SourceType { return TypePlatformCrawl }
func (s *PlatformCrawlSource) SourceName() string     { return s.name }

type crawlPage struct {
	Items []struct {
		URL      string `json:"url"`
		PostID   int64  `json:"postId"`
		Username string `json:"username"`
		Name     string `json:"name"`
	} `json:"items"`
	Metadata struct {
		NextCursor string `json:"nextCursor"`
	} `json:"metadata"`
}

// Discover fetches one feed page, then one page per unexhausted tag, until
// the limit is reached. Returned cursors resume exactly where this pass
// stopped.
func (s *PlatformCrawlSource) Discover(ctx context.Context, dctx Context) (Result, error) {
	limit := dctx.Limit
	if limit <= 0 {
		limit = 100
	}

	res := Result{
		ModelCursors: map[string]string{},
		TagsTotal:    len(dctx.SearchTerms),
	}
	for k, v := range dctx.TagCursors {
		res.ModelCursors[k] = v
	}

	// General feed page.
	page, err := s.fetchPage(ctx, "", dctx.Cursor, limit)
	if err != nil {
		return res, err
	}
	res.Images = append(res.Images, s.toImages(page)...)
	res.NextCursor = page.Metadata.NextCursor

	// One page per tag, skipping tags already crawled to the end.
	exhausted := 0
	for _, tag := range dctx.SearchTerms {
		cursor := res.ModelCursors[tag]
		if cursor == tagDone {
			exhausted++
			continue
		}
		if len(res.Images) >= limit {
			break
		}
		page, err := s.fetchPage(ctx, tag, cursor, limit-len(res.Images))
		if err != nil {
			// A single tag failing does not abort the pass; its cursor
			// stays put for the next run.
			continue
		}
		res.Images = append(res.Images, s.toImages(page)...)
		if page.Metadata.NextCursor == "" {
			res.ModelCursors[tag] = tagDone
			exhausted++
		} else {
			res.ModelCursors[tag] = page.Metadata.NextCursor
		}
	}
	res.TagsExhausted = res.TagsTotal > 0 && exhausted == res.TagsTotal

	countDiscovered(s, len(res.Images))
	return res, nil
}

func (s *PlatformCrawlSource) fetchPage(ctx context.Context, tag, cursor string, limit int) (crawlPage, error) {
	var page crawlPage
	err := s.breaker.Execute(func() error {
		return resilience.Retry(ctx, s.retry, func() error {
			if err := s.limiters.Acquire(ctx, "crawl_"+s.name, 1); err != nil {
				return err
			}
			return s.getJSON(ctx, tag, cursor, limit, &page)
		})
	})
	return page, err
}

func (s *PlatformCrawlSource) getJSON(ctx context.Context, tag, cursor string, limit int, out *crawlPage) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(min(limit, 200)))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if tag != "" {
		q.Set("tags", tag)
	}
	u := s.baseURL + "/images?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return scanerrors.New(scanerrors.ErrorTypeConnection, "crawl_page", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return scanerrors.New(scanerrors.ErrorTypeTransient, "crawl_page", s.name,
			fmt.Errorf("platform returned %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return scanerrors.Permanent("crawl_page", s.name, err)
	}
	return nil
}

func (s *PlatformCrawlSource) toImages(page crawlPage) []models.DiscoveredImage {
	now := time.Now()
	out := make([]models.DiscoveredImage, 0, len(page.Items))
	for _, item := range page.Items {
		if item.URL == "" {
			continue
		}
		img := models.DiscoveredImage{
			SourceURL:    item.URL,
			PageTitle:    item.Name,
			Platform:     s.name,
			SourceName:   s.name,
			Status:       models.ImagePending,
			DiscoveredAt: now,
		}
		if item.PostID > 0 {
			img.PageURL = fmt.Sprintf("https://%s.com/posts/%d", s.name, item.PostID)
		}
		out = append(out, img)
	}
	return out
}
