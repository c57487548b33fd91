package scheduler

import (
	"github.com/rs/zerolog/log"

	"github.com/facetrace/facetrace/internal/models"
	"github.com/facetrace/facetrace/internal/store"
)

// SeedJobs upserts the standing job set: one contributor scan per
// contributor at the tier's cadence, crawl and platform-intelligence jobs
// per configured platform, and the singleton maintenance jobs. Existing
// lease state and run history are preserved.
func SeedJobs(st *store.Store, platforms []string) error {
	contributors, err := st.ListContributors()
	if err != nil {
		return err
	}
	for _, c := range contributors {
		interval := models.ConfigForTier(c.Tier).ReverseImageIntervalHours
		if err := st.EnsureJob(models.JobContributorScan, c.ID, interval); err != nil {
			log.Error().Err(err).Str("contributor", c.ID).Msg("Failed to seed contributor scan")
		}
	}

	for _, p := range platforms {
		if err := st.EnsureJob(models.JobPlatformCrawl, p, 24); err != nil {
			log.Error().Err(err).Str("platform", p).Msg("Failed to seed platform crawl")
		}
		if err := st.EnsureJob(models.JobMapper, p, 168); err != nil {
			log.Error().Err(err).Str("platform", p).Msg("Failed to seed mapper job")
		}
		if err := st.EnsureJob(models.JobAnalyzer, p, 168); err != nil {
			log.Error().Err(err).Str("platform", p).Msg("Failed to seed analyzer job")
		}
	}

	if err := st.EnsureJob(models.JobCleanup, "retention", 24); err != nil {
		return err
	}
	return st.EnsureJob(models.JobScout, "harvest", 168)
}
