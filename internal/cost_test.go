package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallCost(t *testing.T) {
	pricing := ModelPricing{PromptUSDPerToken: 1e-6, CompletionUSDPerToken: 2e-6, RequestUSD: 0.001}
	usage := TokenUsage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500}

	assert.InDelta(t, 0.003, CallCost(pricing, usage), 1e-12)
}

func TestCostTrackerBuckets(t *testing.T) {
	tracker := NewCostTracker()
	tracker.LoadPricing(context.Background(), &fakePricing{table: map[string]ModelPricing{
		"model-a": {PromptUSDPerToken: 1e-6, CompletionUSDPerToken: 1e-6},
	}}, []string{"model-a", "model-b", "model-a"})

	usage := &TokenUsage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000}

	tracker.Record("chapters", "model-a", usage)
	tracker.Record("write:intro:v1", "model-a", usage)
	tracker.Record("write:section:v1:ch-1", "model-a", usage)
	tracker.Record("feedback", "model-a", usage)
	tracker.Record("write:section:v2:ch-1", "model-a", usage)
	// Unknown pricing: cost stays nil, never zero.
	tracker.Record("write:conclusion:v2", "model-b", usage)

	summary := tracker.Summary()
	assert.Equal(t, 1, summary.UnknownCalls)
	assert.InDelta(t, 0.002, summary.BreakdownUSD["chapters"], 1e-12)
	assert.InDelta(t, 0.004, summary.BreakdownUSD["writingV1"], 1e-12)
	assert.InDelta(t, 0.002, summary.BreakdownUSD["feedback"], 1e-12)
	assert.InDelta(t, 0.002, summary.BreakdownUSD["writingV2"], 1e-12)
	assert.InDelta(t, 0.010, summary.TotalUSD, 1e-12)

	calls := tracker.Calls()
	require.Len(t, calls, 6)
	assert.Nil(t, calls[5].CostUSD)
	require.NotNil(t, calls[0].CostUSD)
	assert.InDelta(t, 0.002, *calls[0].CostUSD, 1e-12)
}

func TestCostTrackerNilUsage(t *testing.T) {
	tracker := NewCostTracker()
	tracker.LoadPricing(context.Background(), &fakePricing{table: map[string]ModelPricing{
		"model-a": {PromptUSDPerToken: 1e-6, CompletionUSDPerToken: 1e-6},
	}}, []string{"model-a"})

	tracker.Record("chapters", "model-a", nil)

	summary := tracker.Summary()
	assert.Equal(t, 1, summary.UnknownCalls)
	assert.Equal(t, 0.0, summary.TotalUSD)
}

func TestCostTrackerPricingSnapshot(t *testing.T) {
	tracker := NewCostTracker()
	tracker.LoadPricing(context.Background(), &fakePricing{table: map[string]ModelPricing{
		"model-a": {PromptUSDPerToken: 3e-6},
	}}, []string{"model-a", "missing-model"})

	snapshot := tracker.PricingSnapshot()
	require.Contains(t, snapshot, "model-a")
	assert.NotContains(t, snapshot, "missing-model")
	assert.Equal(t, 3e-6, snapshot["model-a"].PromptUSDPerToken)
}
