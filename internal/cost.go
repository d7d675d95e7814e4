package internal

import (
	"context"
	"strings"
	"sync"
	"time"
)

// CostCall is one recorded model call. CostUSD is nil when pricing for the
// model was unavailable; zero always means a genuinely free call.
type CostCall struct {
	Step    string      `json:"step"`
	Model   string      `json:"model"`
	Usage   *TokenUsage `json:"usage,omitempty"`
	CostUSD *float64    `json:"costUsd,omitempty"`
}

// CostSummary aggregates a job's model spend by pipeline stage.
type CostSummary struct {
	TotalUSD     float64            `json:"totalUsd"`
	UnknownCalls int                `json:"unknownCalls"`
	BreakdownUSD map[string]float64 `json:"breakdownUsd"`
	ComputedAt   time.Time          `json:"computedAt"`
}

// CostTracker records model calls for one generation job. Pricing is fetched
// once per distinct model up front; the call log is append-only.
type CostTracker struct {
	mu      sync.Mutex
	pricing map[string]*ModelPricing
	calls   []CostCall
}

// NewCostTracker creates an empty tracker.
func NewCostTracker() *CostTracker {
	return &CostTracker{pricing: make(map[string]*ModelPricing)}
}

// LoadPricing resolves pricing for each distinct model in parallel. Lookup
// failures degrade to unknown pricing, they never fail the job.
func (t *CostTracker) LoadPricing(ctx context.Context, src PricingSource, models []string) {
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		wg.Add(1)
		go func(model string) {
			defer wg.Done()
			pricing, err := src.ModelPricing(ctx, model)
			if err != nil {
				return
			}
			t.mu.Lock()
			t.pricing[model] = pricing
			t.mu.Unlock()
		}(model)
	}
	wg.Wait()
}

// Record appends one call to the log, pricing it if the model's pricing is
// known.
func (t *CostTracker) Record(step, model string, usage *TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call := CostCall{Step: step, Model: model, Usage: usage}
	if pricing, ok := t.pricing[model]; ok && pricing != nil && usage != nil {
		cost := CallCost(*pricing, *usage)
		call.CostUSD = &cost
	}
	t.calls = append(t.calls, call)
}

// Calls returns a copy of the call log.
func (t *CostTracker) Calls() []CostCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]CostCall(nil), t.calls...)
}

// PricingSnapshot returns the pricing table resolved for this job.
func (t *CostTracker) PricingSnapshot() map[string]*ModelPricing {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := make(map[string]*ModelPricing, len(t.pricing))
	for model, pricing := range t.pricing {
		snapshot[model] = pricing
	}
	return snapshot
}

// Summary aggregates the call log into stage buckets. Step names follow the
// pipeline convention: "chapters", "feedback", and "write:<piece>:<v1|v2>".
func (t *CostTracker) Summary() CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := CostSummary{
		BreakdownUSD: map[string]float64{
			"chapters":  0,
			"writingV1": 0,
			"feedback":  0,
			"writingV2": 0,
		},
		ComputedAt: time.Now().UTC(),
	}

	for _, call := range t.calls {
		if call.CostUSD == nil {
			summary.UnknownCalls++
			continue
		}
		cost := *call.CostUSD
		summary.TotalUSD += cost

		switch {
		case call.Step == "chapters":
			summary.BreakdownUSD["chapters"] += cost
		case call.Step == "feedback":
			summary.BreakdownUSD["feedback"] += cost
		case strings.HasPrefix(call.Step, "write:") && strings.Contains(call.Step, ":v1"):
			summary.BreakdownUSD["writingV1"] += cost
		case strings.HasPrefix(call.Step, "write:") && strings.Contains(call.Step, ":v2"):
			summary.BreakdownUSD["writingV2"] += cost
		}
	}

	return summary
}
