package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/zarigata/CHAOSV3/internal/config"
	"github.com/zarigata/CHAOSV3/internal/lifecycle"
)

const aiProbeName = "ollama"

// tagsResponse is the subset of the Ollama GET /api/tags payload we read.
type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// AIClient checks that the local model backend is reachable and that the
// configured model has been pulled.
type AIClient struct {
	model  string
	cb     *gobreaker.CircuitBreaker
	client *resty.Client
}

// NewAIClient constructs an AIClient. No HTTP calls are made at construction
// time.
func NewAIClient(cfg config.AIConfig, cb *gobreaker.CircuitBreaker) *AIClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL()).
		SetTimeout(cfg.ProbeTimeout).
		SetHeader("Accept", "application/json")

	return &AIClient{
		model:  cfg.Model,
		cb:     cb,
		client: client,
	}
}

// Probe lists the models known to the backend.
func (c *AIClient) Probe(ctx context.Context) lifecycle.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		var tags tagsResponse
		resp, err := c.client.R().
			SetContext(ctx).
			SetResult(&tags).
			Get("/api/tags")
		if err != nil {
			return nil, fmt.Errorf("probe request: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("probe returned HTTP %d", resp.StatusCode())
		}
		if c.model != "" && !tags.has(c.model) {
			return nil, fmt.Errorf("model %q not available", c.model)
		}
		return nil, nil
	})

	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return lifecycle.ProbeResult{
			Name:      aiProbeName,
			OK:        false,
			LatencyMs: latency,
			Error:     errMsg,
		}
	}

	return lifecycle.ProbeResult{
		Name:      aiProbeName,
		OK:        true,
		LatencyMs: latency,
	}
}

// has matches name with or without the ":latest" tag.
func (t tagsResponse) has(name string) bool {
	want := strings.TrimSuffix(name, ":latest")
	for _, m := range t.Models {
		for _, got := range []string{m.Name, m.Model} {
			if strings.TrimSuffix(got, ":latest") == want {
				return true
			}
		}
	}
	return false
}
