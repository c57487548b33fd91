package match

import (
	"time"

	"github.com/maypok86/otter"

	"github.com/facetrace/facetrace/internal/models"
)

// AllowlistStore is the slice of the store the allowlist needs.
type AllowlistStore interface {
	KnownAccounts(contributorID string) ([]models.KnownAccount, error)
}

// Allowlist answers "is this page URL one of the contributor's own
// accounts". Lookups are cached briefly because one scan checks the same
// contributor's accounts for every candidate match.
type Allowlist struct {
	store AllowlistStore
	cache otter.Cache[string, []models.KnownAccount]
}

// NewAllowlist builds an allowlist over the store with a short-TTL cache.
func NewAllowlist(store AllowlistStore) (*Allowlist, error) {
	cache, err := otter.MustBuilder[string, []models.KnownAccount](1024).
		WithTTL(time.Minute).
		Build()
	if err != nil {
		return nil, err
	}
	return &Allowlist{store: store, cache: cache}, nil
}

// Lookup returns the known account matching a page URL, first by
// platform+handle, else by domain, or nil when none matches.
func (a *Allowlist) Lookup(contributorID, pageURL string) (*models.KnownAccount, error) {
	accounts, ok := a.cache.Get(contributorID)
	if !ok {
		var err error
		accounts, err = a.store.KnownAccounts(contributorID)
		if err != nil {
			return nil, err
		}
		a.cache.Set(contributorID, accounts)
	}
	if len(accounts) == 0 {
		return nil, nil
	}

	ref := ParsePageURL(pageURL)
	if ref.Platform != "" && ref.Handle != "" {
		for i := range accounts {
			if accounts[i].Platform == ref.Platform && accounts[i].Handle == ref.Handle {
				return &accounts[i], nil
			}
		}
	}
	if ref.Domain != "" {
		for i := range accounts {
			if accounts[i].Domain != "" && accounts[i].Domain == ref.Domain {
				return &accounts[i], nil
			}
		}
	}
	return nil, nil
}

// Invalidate drops a contributor's cached accounts, for callers that just
// mutated the allowlist.
func (a *Allowlist) Invalidate(contributorID string) {
	a.cache.Delete(contributorID)
}
