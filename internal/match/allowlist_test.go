package match

import (
	"testing"

	"github.com/facetrace/facetrace/internal/models"
)

func allowlistOver(t *testing.T, accounts []models.KnownAccount) *Allowlist {
	t.Helper()
	a, err := NewAllowlist(&fakeAccounts{accounts: accounts})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestLookupByPlatformHandle(t *testing.T) {
	a := allowlistOver(t, []models.KnownAccount{
		{ID: "k1", ContributorID: "c1", Platform: "instagram", Handle: "alice_creates"},
	})

	got, err := a.Lookup("c1", "https://www.instagram.com/alice_creates")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "k1" {
		t.Fatalf("got %+v, want account k1", got)
	}
}

func TestLookupByDomain(t *testing.T) {
	a := allowlistOver(t, []models.KnownAccount{
		{ID: "k1", ContributorID: "c1", Domain: "alice.example.com"},
	})

	got, err := a.Lookup("c1", "https://alice.example.com/gallery/7")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "k1" {
		t.Fatalf("got %+v, want domain match", got)
	}
}

func TestLookupNoMatch(t *testing.T) {
	a := allowlistOver(t, []models.KnownAccount{
		{ID: "k1", ContributorID: "c1", Platform: "instagram", Handle: "alice_creates"},
	})

	got, err := a.Lookup("c1", "https://instagram.com/someone_else")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil for a stranger's handle", got)
	}
}

func TestLookupEmptyAllowlist(t *testing.T) {
	a := allowlistOver(t, nil)

	got, err := a.Lookup("c1", "https://instagram.com/anyone")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestLookupCachesStoreReads(t *testing.T) {
	store := &countingAccounts{accounts: []models.KnownAccount{
		{ID: "k1", ContributorID: "c1", Platform: "instagram", Handle: "alice_creates"},
	}}
	a, err := NewAllowlist(store)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if _, err := a.Lookup("c1", "https://instagram.com/alice_creates"); err != nil {
			t.Fatal(err)
		}
	}
	if store.reads != 1 {
		t.Fatalf("store read %d times, want 1 while cached", store.reads)
	}

	a.Invalidate("c1")
	if _, err := a.Lookup("c1", "https://instagram.com/alice_creates"); err != nil {
		t.Fatal(err)
	}
	if store.reads != 2 {
		t.Fatalf("store read %d times after invalidate, want 2", store.reads)
	}
}

type countingAccounts struct {
	accounts []models.KnownAccount
	reads    int
}

func (c *countingAccounts) KnownAccounts(contributorID string) ([]models.KnownAccount, error) {
	c.reads++
	return c.accounts, nil
}
