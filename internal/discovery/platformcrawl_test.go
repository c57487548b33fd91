package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/facetrace/facetrace/internal/resilience"
)

func crawlFixture(t *testing.T, handler http.HandlerFunc) *PlatformCrawlSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPlatformCrawlSource("civitai", srv.URL, 5*time.Second,
		resilience.NewLimiterRegistry(), resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig()))
}

func pageJSON(nextCursor string, urls ...string) string {
	items := ""
	for i, u := range urls {
		if i > 0 {
			items += ","
		}
		items += fmt.Sprintf(`{"url":%q,"postId":%d,"username":"u","name":"img"}`, u, i+1)
	}
	return fmt.Sprintf(`{"items":[%s],"metadata":{"nextCursor":%q}}`, items, nextCursor)
}

func TestCrawlFeedAndTags(t *testing.T) {
	src := crawlFixture(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("tags") {
		case "":
			fmt.Fprint(w, pageJSON("feed-2", "https://cdn/a.jpg", "https://cdn/b.jpg"))
		case "portrait":
			fmt.Fprint(w, pageJSON("", "https://cdn/c.jpg"))
		default:
			t.Errorf("unexpected tag %q", r.URL.Query().Get("tags"))
		}
	})

	res, err := src.Discover(context.Background(), Context{
		Platform:    "civitai",
		SearchTerms: []string{"portrait", "selfie"},
		TagCursors:  map[string]string{"selfie": "done"},
		Limit:       50,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Images) != 3 {
		t.Fatalf("discovered %d images, want 3", len(res.Images))
	}
	if res.NextCursor != "feed-2" {
		t.Fatalf("feed cursor = %q, want feed-2", res.NextCursor)
	}
	if res.ModelCursors["portrait"] != "done" {
		t.Fatalf("portrait cursor = %q; an empty next cursor exhausts the tag", res.ModelCursors["portrait"])
	}
	if !res.TagsExhausted {
		t.Fatal("all tags are done, TagsExhausted should be set")
	}
	if res.Images[0].Platform != "civitai" || res.Images[0].SourceURL != "https://cdn/a.jpg" {
		t.Fatalf("first image = %+v", res.Images[0])
	}
	if res.Images[0].PageURL == "" {
		t.Fatal("post id should produce a page URL")
	}
}

func TestCrawlTagCursorResumes(t *testing.T) {
	var gotCursor string
	src := crawlFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tags") == "portrait" {
			gotCursor = r.URL.Query().Get("cursor")
			fmt.Fprint(w, pageJSON("portrait-3", "https://cdn/d.jpg"))
			return
		}
		fmt.Fprint(w, pageJSON("", "https://cdn/a.jpg"))
	})

	res, err := src.Discover(context.Background(), Context{
		SearchTerms: []string{"portrait"},
		TagCursors:  map[string]string{"portrait": "portrait-2"},
		Limit:       50,
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotCursor != "portrait-2" {
		t.Fatalf("tag request used cursor %q, want the saved portrait-2", gotCursor)
	}
	if res.ModelCursors["portrait"] != "portrait-3" {
		t.Fatalf("portrait cursor = %q, want portrait-3", res.ModelCursors["portrait"])
	}
	if res.TagsExhausted {
		t.Fatal("tag still has pages, TagsExhausted must stay false")
	}
}

func TestCrawlFailingTagDoesNotAbortPass(t *testing.T) {
	src := crawlFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tags") == "broken" {
			fmt.Fprint(w, "not json")
			return
		}
		fmt.Fprint(w, pageJSON("", "https://cdn/a.jpg"))
	})

	res, err := src.Discover(context.Background(), Context{
		SearchTerms: []string{"broken", "portrait"},
		Limit:       50,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Images) != 2 {
		t.Fatalf("discovered %d images, want feed plus the healthy tag", len(res.Images))
	}
	if _, ok := res.ModelCursors["broken"]; ok {
		t.Fatal("failed tag's cursor must stay put")
	}
	if res.TagsExhausted {
		t.Fatal("a failed tag is not exhausted")
	}
}

func TestCrawlRespectsLimit(t *testing.T) {
	src := crawlFixture(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageJSON("more", "https://cdn/a.jpg", "https://cdn/b.jpg"))
	})

	res, err := src.Discover(context.Background(), Context{
		SearchTerms: []string{"portrait"},
		Limit:       2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Images) != 2 {
		t.Fatalf("discovered %d images, want the limit of 2", len(res.Images))
	}
}
