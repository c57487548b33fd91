package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/facetrace/facetrace/internal/resilience"
)

func aiClient(t *testing.T, handler http.HandlerFunc) *AIDetectionClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAIDetectionClient(srv.URL, "test-key", 5*time.Second,
		resilience.NewLimiterRegistry(), resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig()))
}

func TestAIDetectParsesVerdict(t *testing.T) {
	c := aiClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Errorf("authorization = %q", got)
		}
		var body aiDetectRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.URL != "https://cdn/x.jpg" {
			t.Errorf("url = %q", body.URL)
		}
		fmt.Fprint(w, `{"is_ai_generated":true,"score":0.93,"generator":"diffusion"}`)
	})

	v, err := c.Detect(context.Background(), "https://cdn/x.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Generated || v.Score != 0.93 || v.Generator != "diffusion" {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestAIDetectBadJSONFailsWithoutRetry(t *testing.T) {
	calls := 0
	c := aiClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, "not json")
	})

	if _, err := c.Detect(context.Background(), "https://cdn/x.jpg"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("classifier called %d times, malformed responses are permanent", calls)
	}
}
