package platform

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/facetrace/facetrace/internal/discovery"
	"github.com/facetrace/facetrace/internal/models"
	"github.com/facetrace/facetrace/internal/store"
)

// MapStore is the slice of the store the platform jobs use.
type MapStore interface {
	SavePlatformMap(platform string, snapshotAt time.Time, payload []byte) error
	RecentPlatformMaps(platform string, n int) ([]store.PlatformMapRow, error)
}

// SignalEmitter receives feedback signals.
type SignalEmitter interface {
	Emit(sig models.FeedbackSignal)
}

// Scout probes harvested domains and reports which look like image
// platforms worth mapping. A domain qualifies when its root answers and
// serves HTML.
type Scout struct {
	harvester *discovery.LinkHarvestSource
	client    *http.Client
	observer  SignalEmitter
}

// NewScout wires the scout job.
func NewScout(harvester *discovery.LinkHarvestSource, timeout time.Duration, observer SignalEmitter) *Scout {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Scout{
		harvester: harvester,
		client:    &http.Client{Timeout: timeout},
		observer:  observer,
	}
}

// Run harvests candidate domains and probes each. Returns the domains that
// responded like a browsable platform and a summary string for the job row.
func (s *Scout) Run(ctx context.Context, limit int) ([]string, string, error) {
	res, err := s.harvester.Discover(ctx, discovery.Context{Limit: limit})
	if err != nil {
		return nil, "", err
	}

	var promising []string
	for _, domain := range res.Domains {
		if ctx.Err() != nil {
			break
		}
		if s.probe(ctx, domain) {
			promising = append(promising, domain)
		}
	}
	summary := fmt.Sprintf("probed=%d promising=%d", len(res.Domains), len(promising))
	return promising, summary, nil
}

func (s *Scout) probe(ctx context.Context, domain string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+domain+"/", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("domain", domain).Msg("Scout probe failed")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html")
}

// Mapper builds a PlatformMap snapshot by sampling the platform's feed and
// one page per tag through the platform's discovery source.
type Mapper struct {
	store  MapStore
	source discovery.Source
}

// NewMapper wires the mapper job.
func NewMapper(store MapStore, source discovery.Source) *Mapper {
	return &Mapper{store: store, source: source}
}

// Run samples the platform and persists the snapshot. The sample limit
// bounds API load; counts are per-pass observations, not platform totals.
func (m *Mapper) Run(ctx context.Context, platformName string, tags []string, sampleLimit int) (PlatformMap, error) {
	if sampleLimit <= 0 {
		sampleLimit = 50
	}

	snapshot := PlatformMap{
		Platform:   platformName,
		Tags:       map[string]int{},
		SnapshotAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	feed, err := m.source.Discover(ctx, discovery.Context{Platform: platformName, Limit: sampleLimit})
	if err != nil {
		return PlatformMap{}, err
	}
	snapshot.Sections = append(snapshot.Sections, Section{Name: "feed", Count: len(feed.Images)})

	for _, tag := range tags {
		if ctx.Err() != nil {
			return PlatformMap{}, ctx.Err()
		}
		res, err := m.source.Discover(ctx, discovery.Context{
			Platform:    platformName,
			SearchTerms: []string{tag},
			Limit:       sampleLimit,
		})
		if err != nil {
			log.Warn().Err(err).Str("tag", tag).Msg("Mapper tag sample failed")
			continue
		}
		snapshot.Sections = append(snapshot.Sections, Section{Name: "tag:" + tag, Count: len(res.Images)})
		snapshot.Tags[tag] = len(res.Images)
	}
	sort.Slice(snapshot.Sections, func(i, j int) bool {
		return snapshot.Sections[i].Name < snapshot.Sections[j].Name
	})

	payload, err := snapshot.ToJSON()
	if err != nil {
		return PlatformMap{}, err
	}
	if err := m.store.SavePlatformMap(platformName, snapshot.SnapshotAt, payload); err != nil {
		return PlatformMap{}, err
	}
	return snapshot, nil
}

// Analyzer compares the two most recent snapshots of a platform and emits a
// drift signal when any shared section's count moved by more than the
// configured ratio.
type Analyzer struct {
	store      MapStore
	observer   SignalEmitter
	driftRatio float64
}

// NewAnalyzer wires the analyzer job. driftRatio is the fractional change
// that counts as drift; zero means the 0.5 default.
func NewAnalyzer(store MapStore, observer SignalEmitter, driftRatio float64) *Analyzer {
	if driftRatio <= 0 {
		driftRatio = 0.5
	}
	return &Analyzer{store: store, observer: observer, driftRatio: driftRatio}
}

// Run loads the latest two snapshots and reports drifted sections. With
// fewer than two snapshots there is nothing to compare.
func (a *Analyzer) Run(ctx context.Context, platformName string) ([]string, error) {
	rows, err := a.store.RecentPlatformMaps(platformName, 2)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}

	latest, err := FromJSON(rows[0].Payload)
	if err != nil {
		return nil, err
	}
	previous, err := FromJSON(rows[1].Payload)
	if err != nil {
		return nil, err
	}

	var drifted []string
	for _, section := range latest.Sections {
		before := previous.SectionCount(section.Name)
		if before == 0 {
			continue
		}
		change := float64(section.Count-before) / float64(before)
		if change < 0 {
			change = -change
		}
		if change > a.driftRatio {
			drifted = append(drifted, section.Name)
		}
	}

	if len(drifted) > 0 {
		a.observer.Emit(models.FeedbackSignal{
			SignalType: models.SignalPlatformDrift,
			EntityType: "platform",
			EntityID:   platformName,
			Actor:      "analyzer",
			Context: map[string]any{
				"sections":    drifted,
				"drift_ratio": a.driftRatio,
			},
		})
	}
	return drifted, nil
}
