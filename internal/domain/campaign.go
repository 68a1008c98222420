package domain

import (
	"errors"
	"time"
)

var ErrMissingFields = errors.New("missing required fields")

// ChannelBudget is the embedded spend ledger entry for one channel.
// Totals only ever increase; mutation is routed through the store's atomic
// spend increment, never read-modify-write in application code.
type ChannelBudget struct {
	Total float64 `json:"total"`
	Spent float64 `json:"spent"`
}

// DaypartTimes holds a learned optimal send time-of-day ("HH:MM") split by
// weekday vs weekend in the recipient's timezone.
type DaypartTimes struct {
	Weekday string `json:"weekday,omitempty"`
	Weekend string `json:"weekend,omitempty"`
}

// Campaign is a tenant-scoped outreach effort. The orchestration pipeline
// reads it; only spend recording mutates it.
type Campaign struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name,omitempty"`

	Channels []Channel `json:"channels"`
	// ChannelPriority orders channels per recipient segment, with a
	// "default" key used when no segment matches.
	ChannelPriority map[string][]Channel `json:"channelPriority,omitempty"`

	BudgetTotal      float64                   `json:"budgetTotal,omitempty"`
	BudgetSpent      float64                   `json:"budgetSpent,omitempty"`
	BudgetPerChannel map[Channel]ChannelBudget `json:"budgetPerChannel,omitempty"`
	DailyLimit       *int                      `json:"dailyLimit,omitempty"`

	StartDate time.Time  `json:"startDate"`
	EndDate   *time.Time `json:"endDate,omitempty"`

	SendTimeOptimization bool                     `json:"sendTimeOptimization"`
	OptimalSendTimes     map[Channel]DaypartTimes `json:"optimalSendTimes,omitempty"`
}

func (c Campaign) Validate() error {
	if c.ID == "" || c.TenantID == "" || len(c.Channels) == 0 {
		return ErrMissingFields
	}
	return nil
}

// InWindow reports whether now falls inside the campaign window. A zero
// start date means the campaign is always live; a nil end date never closes.
func (c Campaign) InWindow(now time.Time) bool {
	if !c.StartDate.IsZero() && now.Before(c.StartDate) {
		return false
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return false
	}
	return true
}

// RemainingBudget is the tighter of the campaign-level and channel-level
// remainders. Zero-total budgets are treated as unconstrained.
func (c Campaign) RemainingBudget(channel Channel) float64 {
	remaining := -1.0
	if c.BudgetTotal > 0 {
		remaining = c.BudgetTotal - c.BudgetSpent
	}
	if cb, ok := c.BudgetPerChannel[channel]; ok && cb.Total > 0 {
		channelRemaining := cb.Total - cb.Spent
		if remaining < 0 || channelRemaining < remaining {
			remaining = channelRemaining
		}
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}
