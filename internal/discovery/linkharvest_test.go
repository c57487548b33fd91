package discovery

import (
	"context"
	"errors"
	"testing"
)

type fakeHarvester struct {
	domains  []string
	err      error
	excluded []string
	limit    int
}

func (f *fakeHarvester) HarvestPageDomains(excludePlatforms []string, limit int) ([]string, error) {
	f.excluded = excludePlatforms
	f.limit = limit
	return f.domains, f.err
}

func TestLinkHarvestReturnsDomainsNotImages(t *testing.T) {
	h := &fakeHarvester{domains: []string{"smallforum.example", "artdump.example"}}
	src := NewLinkHarvestSource(h, []string{"civitai.com", "seaart.ai"})

	res, err := src.Discover(context.Background(), Context{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Images) != 0 {
		t.Fatalf("harvest emitted %d images, it only scouts domains", len(res.Images))
	}
	if len(res.Domains) != 2 || res.Domains[0] != "smallforum.example" {
		t.Fatalf("domains = %v", res.Domains)
	}
	if len(h.excluded) != 2 || h.excluded[0] != "civitai.com" {
		t.Fatalf("excluded platforms = %v, want the configured crawl platforms", h.excluded)
	}
	if h.limit != 10 {
		t.Fatalf("limit = %d, want 10", h.limit)
	}
}

func TestLinkHarvestDefaultsLimit(t *testing.T) {
	h := &fakeHarvester{}
	src := NewLinkHarvestSource(h, nil)

	if _, err := src.Discover(context.Background(), Context{}); err != nil {
		t.Fatal(err)
	}
	if h.limit != 25 {
		t.Fatalf("limit = %d, want the default of 25", h.limit)
	}
}

func TestLinkHarvestPropagatesStoreError(t *testing.T) {
	h := &fakeHarvester{err: errors.New("database is locked")}
	src := NewLinkHarvestSource(h, nil)

	if _, err := src.Discover(context.Background(), Context{}); err == nil {
		t.Fatal("store failure must surface to the scheduler")
	}
}
