package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ModelPricing is the per-token pricing of one model, in USD.
type ModelPricing struct {
	PromptUSDPerToken     float64 `json:"promptUsdPerToken"`
	CompletionUSDPerToken float64 `json:"completionUsdPerToken"`
	RequestUSD            float64 `json:"requestUsd"`
}

// PricingSource resolves per-token pricing for a model id. A nil pricing
// result means the model's cost is unknown; jobs tolerate that and report
// the affected calls as unpriced.
type PricingSource interface {
	ModelPricing(ctx context.Context, modelID string) (*ModelPricing, error)
}

// OpenRouterPricing fetches pricing from OpenRouter's model endpoints API.
type OpenRouterPricing struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewOpenRouterPricing creates a pricing source against the given API base
// URL (e.g. "https://openrouter.ai/api/v1").
func NewOpenRouterPricing(baseURL, apiKey string) *OpenRouterPricing {
	return &OpenRouterPricing{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// ModelPricing looks up the cheapest advertised endpoint pricing for a model
// id of the form "author/slug".
func (p *OpenRouterPricing) ModelPricing(ctx context.Context, modelID string) (*ModelPricing, error) {
	author, slug, ok := strings.Cut(modelID, "/")
	if !ok || author == "" || slug == "" {
		return nil, fmt.Errorf("model id %q is not of the form author/slug", modelID)
	}

	endpoint := fmt.Sprintf("%s/models/%s/%s/endpoints", p.baseURL, url.PathEscape(author), url.PathEscape(slug))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building pricing request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching pricing for %s: %w", modelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching pricing for %s: status %d", modelID, resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Endpoints []struct {
				Pricing struct {
					Prompt     string `json:"prompt"`
					Completion string `json:"completion"`
					Request    string `json:"request"`
				} `json:"pricing"`
			} `json:"endpoints"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("parsing pricing for %s: %w", modelID, err)
	}

	var best *ModelPricing
	for _, ep := range payload.Data.Endpoints {
		prompt, err1 := strconv.ParseFloat(ep.Pricing.Prompt, 64)
		completion, err2 := strconv.ParseFloat(ep.Pricing.Completion, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		request, _ := strconv.ParseFloat(ep.Pricing.Request, 64)
		candidate := &ModelPricing{
			PromptUSDPerToken:     prompt,
			CompletionUSDPerToken: completion,
			RequestUSD:            request,
		}
		if best == nil || candidate.PromptUSDPerToken < best.PromptUSDPerToken {
			best = candidate
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no priced endpoints for %s", modelID)
	}
	return best, nil
}

// CallCost computes the cost of one call from pricing and usage.
func CallCost(pricing ModelPricing, usage TokenUsage) float64 {
	return float64(usage.PromptTokens)*pricing.PromptUSDPerToken +
		float64(usage.CompletionTokens)*pricing.CompletionUSDPerToken +
		pricing.RequestUSD
}
