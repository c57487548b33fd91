package discovery

import (
	"context"
)

// DomainHarvester mines external domains out of already-ingested page URLs.
type DomainHarvester interface {
	HarvestPageDomains(excludePlatforms []string, limit int) ([]string, error)
}

// LinkHarvestSource is a meta-discovery: instead of finding images it finds
// domains worth scouting, mined from the page URLs of images other sources
// already brought in. Known platforms are excluded since they have their own
// crawl sources.
type LinkHarvestSource struct {
	store    DomainHarvester
	excluded []string
}

// NewLinkHarvestSource creates the harvester. excluded names the platforms
// that already have dedicated crawl sources.
func NewLinkHarvestSource(store DomainHarvester, excluded []string) *LinkHarvestSource {
	return &LinkHarvestSource{store: store, excluded: excluded}
}

func (s *LinkHarvestSource) SourceType() SourceType { return TypeLinkHarvest }
func (s *LinkHarvestSource) SourceName() string     { return "link_harvest" }

// Discover returns candidate domains in Result.Domains; it never emits
// images directly.
func (s *LinkHarvestSource) Discover(ctx context.Context, dctx Context) (Result, error) {
	limit := dctx.Limit
	if limit <= 0 {
		limit = 25
	}
	domains, err := s.store.HarvestPageDomains(s.excluded, limit)
	if err != nil {
		return Result{}, err
	}
	return Result{Domains: domains}, nil
}
