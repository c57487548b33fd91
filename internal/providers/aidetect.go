package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	scanerrors "github.com/facetrace/facetrace/internal/errors"
	"github.com/facetrace/facetrace/internal/match"
	"github.com/facetrace/facetrace/internal/resilience"
)

// AIDetectionClient classifies an image URL as AI-generated or not via an
// external moderation API. Calls go through the circuit breaker, then the
// retry policy, then the shared rate limiter, outermost first.
type AIDetectionClient struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	limiters *resilience.LimiterRegistry
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig
}

// NewAIDetectionClient builds the classifier client.
func NewAIDetectionClient(baseURL, apiKey string, timeout time.Duration,
	limiters *resilience.LimiterRegistry, breakers *resilience.BreakerRegistry) *AIDetectionClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &AIDetectionClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		limiters: limiters,
		breaker:  breakers.For(ServiceAIDetection),
		retry:    resilience.DefaultRetryConfig(),
	}
}

type aiDetectRequest struct {
	URL string `json:"url"`
}

type aiDetectResponse struct {
	IsAIGenerated bool    `json:"is_ai_generated"`
	Score         float64 `json:"score"`
	Generator     string  `json:"generator"`
}

// Detect classifies the image at imageURL.
func (c *AIDetectionClient) Detect(ctx context.Context, imageURL string) (match.AIVerdict, error) {
	var verdict match.AIVerdict
	err := c.breaker.Execute(func() error {
		return resilience.Retry(ctx, c.retry, func() error {
			if err := c.limiters.Acquire(ctx, ServiceAIDetection, 1); err != nil {
				return err
			}
			v, err := c.classify(ctx, imageURL)
			if err != nil {
				return err
			}
			verdict = v
			return nil
		})
	})
	return verdict, err
}

func (c *AIDetectionClient) classify(ctx context.Context, imageURL string) (match.AIVerdict, error) {
	body, err := json.Marshal(aiDetectRequest{URL: imageURL})
	if err != nil {
		return match.AIVerdict{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return match.AIVerdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return match.AIVerdict{}, scanerrors.New(scanerrors.ErrorTypeConnection, "ai_classify", ServiceAIDetection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return match.AIVerdict{}, scanerrors.New(scanerrors.ErrorTypeTransient, "ai_classify", ServiceAIDetection,
			fmt.Errorf("classifier returned %d", resp.StatusCode)).WithStatusCode(resp.StatusCode)
	}

	var decoded aiDetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return match.AIVerdict{}, scanerrors.Permanent("ai_classify", ServiceAIDetection, err)
	}
	return match.AIVerdict{
		Generated: decoded.IsAIGenerated,
		Score:     decoded.Score,
		Generator: decoded.Generator,
	}, nil
}
