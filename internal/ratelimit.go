package internal

import (
	"context"
	"fmt"
	"time"
)

// ErrLimitExceeded indicates the user exhausted their plan's generation
// limit for the current window.
var ErrLimitExceeded = fmt.Errorf("generation limit reached")

// LimitState describes where a user stands against their plan limit.
type LimitState struct {
	Used      int         `json:"used"`
	Limit     int         `json:"limit"`
	Remaining int         `json:"remaining"`
	Window    LimitWindow `json:"window"`
	ResetAt   time.Time   `json:"resetAt"`
}

// AssertGenerationLimit counts the user's articles created in the current
// window and rejects the request when the plan limit is reached. The count
// is durable: it survives restarts because it reads the article table.
func AssertGenerationLimit(ctx context.Context, store *Store, userID string, policy PlanPolicy, now time.Time) (*LimitState, error) {
	used, err := store.CountArticlesSince(ctx, userID, policy.Window.Start(now))
	if err != nil {
		return nil, fmt.Errorf("checking generation limit: %w", err)
	}

	state := &LimitState{
		Used:      used,
		Limit:     policy.Limit,
		Remaining: max(0, policy.Limit-used),
		Window:    policy.Window,
		ResetAt:   policy.Window.Next(now),
	}

	if used >= policy.Limit {
		return state, fmt.Errorf("%w (%s), resets at %s",
			ErrLimitExceeded, policy.LimitLabel(), state.ResetAt.Format(time.RFC3339))
	}
	return state, nil
}
