package orchestrator

import (
	"context"
	"math"
	"sync"
	"time"

	"outreach/internal/domain"
	"outreach/internal/store"
)

// channelUnitCost is the static estimated cost per message, used for budget
// gating and daily pacing. Channels riding free platform APIs cost nothing.
var channelUnitCost = map[domain.Channel]float64{
	domain.ChannelEmail:    0.001,
	domain.ChannelWhatsApp: 0.005,
}

func ChannelCost(c domain.Channel) float64 { return channelUnitCost[c] }

// SpendStore persists spend recording. The increment must be atomic at the
// persistence layer; the budget manager never read-modify-writes totals.
type SpendStore interface {
	RecordSpend(ctx context.Context, campaignID string, channel domain.Channel, amount float64) error
	CountMessages(ctx context.Context, q store.CountQuery) (int, error)
}

type BudgetCheck struct {
	CanSend         bool           `json:"canSend"`
	RemainingBudget float64        `json:"remainingBudget"`
	Reason          string         `json:"reason"`
	Channel         domain.Channel `json:"channel,omitempty"`
	BudgetTotal     float64        `json:"budgetTotal,omitempty"`
	BudgetSpent     float64        `json:"budgetSpent,omitempty"`
}

type DailySpendCheck struct {
	CanSend           bool    `json:"canSend"`
	DailySpent        float64 `json:"dailySpent"`
	DailyLimit        float64 `json:"dailyLimit"`
	MessagesSentToday int     `json:"messagesSentToday"`
	Reason            string  `json:"reason"`
}

type PacingRecommendation struct {
	Recommendation         string  `json:"recommendation"`
	IdealSpendPct          float64 `json:"idealSpendPct"`
	ActualSpendPct         float64 `json:"actualSpendPct"`
	SuggestedDailyMessages int     `json:"suggestedDailyMessages"`
	DaysRemaining          int     `json:"daysRemaining"`
	BudgetRemaining        float64 `json:"budgetRemaining"`
}

const (
	PaceReduce   = "reduce_pace"
	PaceIncrease = "increase_pace"
	PaceMaintain = "maintain_pace"
)

// BudgetManager enforces campaign and channel ceilings and recommends pacing.
// Availability checks are pure reads over the campaign snapshot; only
// RecordSpend touches the store.
type BudgetManager struct {
	Store SpendStore

	// mu guards the shared campaign snapshot: batch sends run pipelines
	// concurrently against one campaign, and RecordSpend mutates it.
	mu sync.Mutex
}

// Snapshot returns a consistent copy of the campaign for the read-only
// gates. Concurrent pipelines must read through it rather than the shared
// campaign, whose budget fields RecordSpend mutates.
func (b *BudgetManager) Snapshot(c *domain.Campaign) domain.Campaign {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := *c
	if c.BudgetPerChannel != nil {
		snap.BudgetPerChannel = make(map[domain.Channel]domain.ChannelBudget, len(c.BudgetPerChannel))
		for ch, cb := range c.BudgetPerChannel {
			snap.BudgetPerChannel[ch] = cb
		}
	}
	return snap
}

// CheckAvailable verifies the campaign-total ceiling first, then the
// channel ceiling. Either insufficiency blocks with its own reason code.
// Calling it twice with no intervening spend yields identical results.
func (b *BudgetManager) CheckAvailable(campaign domain.Campaign, channel domain.Channel, estimatedCost float64) BudgetCheck {
	if campaign.BudgetTotal > 0 {
		available := campaign.BudgetTotal - campaign.BudgetSpent
		if available < estimatedCost {
			return BudgetCheck{
				CanSend:         false,
				RemainingBudget: available,
				Reason:          "campaign_budget_exceeded",
				BudgetTotal:     campaign.BudgetTotal,
				BudgetSpent:     campaign.BudgetSpent,
			}
		}
	}

	if cb, ok := campaign.BudgetPerChannel[channel]; ok && cb.Total > 0 {
		available := cb.Total - cb.Spent
		if available < estimatedCost {
			return BudgetCheck{
				CanSend:         false,
				RemainingBudget: available,
				Reason:          "channel_budget_exceeded",
				Channel:         channel,
				BudgetTotal:     cb.Total,
				BudgetSpent:     cb.Spent,
			}
		}
	}

	return BudgetCheck{
		CanSend:         true,
		RemainingBudget: campaign.RemainingBudget(channel),
		Reason:          "budget_available",
	}
}

// RecordSpend increments the persisted ledger atomically, then mirrors the
// increment onto the shared campaign under the snapshot lock so pipelines
// started later see the accumulated figures. Applied exactly once per
// scheduled send.
func (b *BudgetManager) RecordSpend(ctx context.Context, campaign *domain.Campaign, channel domain.Channel, amount float64) error {
	if err := b.Store.RecordSpend(ctx, campaign.ID, channel, amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	campaign.BudgetSpent += amount
	if campaign.BudgetPerChannel == nil {
		campaign.BudgetPerChannel = map[domain.Channel]domain.ChannelBudget{}
	}
	cb := campaign.BudgetPerChannel[channel]
	cb.Spent += amount
	campaign.BudgetPerChannel[channel] = cb
	return nil
}

// DailyBudget spreads the remaining budget evenly over the remaining
// calendar days. No end date or an ended campaign yields zero.
func (b *BudgetManager) DailyBudget(campaign domain.Campaign, channel domain.Channel, now time.Time) float64 {
	if campaign.BudgetTotal <= 0 || campaign.EndDate == nil {
		return 0
	}
	if !campaign.EndDate.After(now) {
		return 0
	}
	daysRemaining := int(campaign.EndDate.Sub(now).Hours()/24) + 1
	if daysRemaining < 1 {
		daysRemaining = 1
	}
	daily := campaign.RemainingBudget(channel) / float64(daysRemaining)
	return math.Round(daily*100) / 100
}

// CheckDailySpend compares today's estimated spend (message count times the
// static unit cost) to the computed daily budget. This is a soft pacing
// signal, separate from the hard ceilings above.
func (b *BudgetManager) CheckDailySpend(ctx context.Context, campaign domain.Campaign, channel domain.Channel, now time.Time) (DailySpendCheck, error) {
	dailyLimit := b.DailyBudget(campaign, channel, now)

	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	count, err := b.Store.CountMessages(ctx, store.CountQuery{
		CampaignID: campaign.ID,
		Channel:    channel,
		Since:      todayStart,
	})
	if err != nil {
		return DailySpendCheck{}, err
	}

	dailySpent := float64(count) * ChannelCost(channel)
	canSend := dailyLimit <= 0 || dailySpent < dailyLimit

	reason := "within_daily_limit"
	if !canSend {
		reason = "daily_limit_reached"
	}
	return DailySpendCheck{
		CanSend:           canSend,
		DailySpent:        dailySpent,
		DailyLimit:        dailyLimit,
		MessagesSentToday: count,
		Reason:            reason,
	}, nil
}

// Pacing compares the ideal spend fraction (elapsed days over total days) to
// the actual fraction and recommends a daily message count within ±30%.
func (b *BudgetManager) Pacing(campaign domain.Campaign, now time.Time) PacingRecommendation {
	if campaign.BudgetTotal <= 0 || campaign.EndDate == nil {
		return PacingRecommendation{Recommendation: "no_budget_constraints"}
	}

	totalDays := int(campaign.EndDate.Sub(campaign.StartDate).Hours() / 24)
	if totalDays <= 0 {
		return PacingRecommendation{Recommendation: "campaign_ended"}
	}
	elapsedDays := int(now.Sub(campaign.StartDate).Hours() / 24)

	idealPct := float64(elapsedDays) / float64(totalDays)
	actualPct := campaign.BudgetSpent / campaign.BudgetTotal

	rec := PacingRecommendation{
		IdealSpendPct:   math.Round(idealPct*100) / 100,
		ActualSpendPct:  math.Round(actualPct*100) / 100,
		DaysRemaining:   int(campaign.EndDate.Sub(now).Hours() / 24),
		BudgetRemaining: campaign.BudgetTotal - campaign.BudgetSpent,
	}

	switch {
	case actualPct > idealPct+0.10:
		rec.Recommendation = PaceReduce
		rec.SuggestedDailyMessages = adjustedDaily(campaign.DailyLimit, 0.7, 50)
	case actualPct < idealPct-0.10:
		rec.Recommendation = PaceIncrease
		rec.SuggestedDailyMessages = adjustedDaily(campaign.DailyLimit, 1.3, 200)
	default:
		rec.Recommendation = PaceMaintain
		if campaign.DailyLimit != nil {
			rec.SuggestedDailyMessages = *campaign.DailyLimit
		}
	}
	return rec
}

func adjustedDaily(limit *int, factor float64, fallback int) int {
	if limit == nil {
		return fallback
	}
	n := int(float64(*limit) * factor)
	if n < 1 {
		n = 1
	}
	return n
}
