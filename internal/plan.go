package internal

import (
	"fmt"
	"time"
)

// Plan identifies a user's subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPro     Plan = "pro"
	PlanPremium Plan = "premium"
)

// LimitWindow is the period a generation limit applies to.
type LimitWindow string

const (
	WindowDaily   LimitWindow = "daily"
	WindowMonthly LimitWindow = "monthly"
)

// Start returns the UTC start of the window containing now.
func (w LimitWindow) Start(now time.Time) time.Time {
	now = now.UTC()
	if w == WindowMonthly {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Next returns the UTC start of the window after the one containing now,
// i.e. when the limit resets.
func (w LimitWindow) Next(now time.Time) time.Time {
	start := w.Start(now)
	if w == WindowMonthly {
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 1)
}

// ModelRouting maps pipeline stages to model ids.
type ModelRouting struct {
	Chapters string `json:"chapters"`
	Writer   string `json:"writer"`
	Feedback string `json:"feedback"`
}

// All lists the model ids in the routing.
func (m ModelRouting) All() []string {
	return []string{m.Chapters, m.Writer, m.Feedback}
}

// PlanPolicy is one tier's model routing and generation limit.
type PlanPolicy struct {
	Models ModelRouting
	Limit  int
	Window LimitWindow
}

// LimitLabel renders the limit as a human label like "4/month".
func (p PlanPolicy) LimitLabel() string {
	unit := "day"
	if p.Window == WindowMonthly {
		unit = "month"
	}
	return fmt.Sprintf("%d/%s", p.Limit, unit)
}

// DefaultPolicies is the built-in plan table. Model ids can be overridden
// through config.
func DefaultPolicies() map[Plan]PlanPolicy {
	const (
		chaptersModel = "google/gemini-2.0-flash-001"
		budgetWriter  = "moonshotai/kimi-k2-thinking"
		premiumWriter = "openai/gpt-5.2"
	)

	return map[Plan]PlanPolicy{
		PlanFree: {
			Models: ModelRouting{Chapters: chaptersModel, Writer: budgetWriter, Feedback: budgetWriter},
			Limit:  4,
			Window: WindowMonthly,
		},
		PlanPro: {
			Models: ModelRouting{Chapters: chaptersModel, Writer: premiumWriter, Feedback: budgetWriter},
			Limit:  2,
			Window: WindowDaily,
		},
		PlanPremium: {
			Models: ModelRouting{Chapters: chaptersModel, Writer: premiumWriter, Feedback: budgetWriter},
			Limit:  5,
			Window: WindowDaily,
		},
	}
}

// PolicyFor resolves a plan's policy, defaulting unknown plans to free.
func PolicyFor(plan Plan, policies map[Plan]PlanPolicy) PlanPolicy {
	if policy, ok := policies[plan]; ok {
		return policy
	}
	return policies[PlanFree]
}
