package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"outreach/internal/domain"
	"outreach/internal/store"
)

const (
	DefaultLookback   = 24 * time.Hour
	DefaultMaxPerDay  = 3
	DefaultMaxPerWeek = 10
)

// DedupStore is the narrow persistence contract the deduplicator needs.
type DedupStore interface {
	RecentMessages(ctx context.Context, q store.RecentQuery) ([]store.Message, error)
	CountMessages(ctx context.Context, q store.CountQuery) (int, error)
}

// RecencyResult reports the recency gate outcome with enough figures for an
// operator to decide whether to retry, escalate, or abandon.
type RecencyResult struct {
	IsDuplicate            bool             `json:"isDuplicate"`
	Reason                 string           `json:"reason"`
	LastMessageAt          *time.Time       `json:"lastMessageAt,omitempty"`
	LastMessageChannel     domain.Channel   `json:"lastMessageChannel,omitempty"`
	BlockedChannels        []domain.Channel `json:"blockedChannels,omitempty"`
	MessagesInPeriod       int              `json:"messagesInPeriod"`
	CooldownRemainingHours float64          `json:"cooldownRemainingHours"`
}

type FrequencyResult struct {
	CanSend           bool   `json:"canSend"`
	MessagesSentToday int    `json:"messagesSentToday"`
	MessagesSentWeek  int    `json:"messagesSentWeek"`
	DailyLimit        int    `json:"dailyLimit"`
	WeeklyLimit       int    `json:"weeklyLimit"`
	Reason            string `json:"reason"`
}

// Deduplicator guards against duplicate sends with two independent gates: a
// time-window recency check and per-recipient frequency caps. Both are
// read-then-decide; the dedup key's uniqueness constraint backstops the race
// between concurrent requests.
type Deduplicator struct {
	Store      DedupStore
	Lookback   time.Duration
	MaxPerDay  int
	MaxPerWeek int
}

func NewDeduplicator(s DedupStore) *Deduplicator {
	return &Deduplicator{
		Store:      s,
		Lookback:   DefaultLookback,
		MaxPerDay:  DefaultMaxPerDay,
		MaxPerWeek: DefaultMaxPerWeek,
	}
}

// CheckRecent blocks when any non-failed message reached the recipient
// inside the lookback window, optionally scoped to one campaign and/or a
// channel set.
func (d *Deduplicator) CheckRecent(ctx context.Context, tenantID, recipientID, campaignID string, channels []domain.Channel, now time.Time) (RecencyResult, error) {
	lookback := d.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	recent, err := d.Store.RecentMessages(ctx, store.RecentQuery{
		TenantID:    tenantID,
		RecipientID: recipientID,
		CampaignID:  campaignID,
		Channels:    channels,
		Since:       now.Add(-lookback),
	})
	if err != nil {
		return RecencyResult{}, err
	}

	if len(recent) == 0 {
		return RecencyResult{IsDuplicate: false, Reason: "no_recent_messages"}, nil
	}

	// Newest first; the store orders by created_at descending.
	last := recent[0]
	seen := map[domain.Channel]bool{}
	var blocked []domain.Channel
	for _, m := range recent {
		if !seen[m.Channel] {
			seen[m.Channel] = true
			blocked = append(blocked, m.Channel)
		}
	}

	lastAt := last.CreatedAt
	if last.SentAt != nil {
		lastAt = *last.SentAt
	}

	return RecencyResult{
		IsDuplicate:            true,
		Reason:                 "recent_message_sent",
		LastMessageAt:          &lastAt,
		LastMessageChannel:     last.Channel,
		BlockedChannels:        blocked,
		MessagesInPeriod:       len(recent),
		CooldownRemainingHours: cooldownRemaining(last.CreatedAt, lookback, now),
	}, nil
}

func cooldownRemaining(lastAt time.Time, lookback time.Duration, now time.Time) float64 {
	remaining := lookback.Hours() - now.Sub(lastAt).Hours()
	if remaining < 0 {
		return 0
	}
	return math.Round(remaining*100) / 100
}

// CheckFrequencyCap enforces the per-recipient day and week ceilings,
// independent of channel. Failed sends do not count.
func (d *Deduplicator) CheckFrequencyCap(ctx context.Context, tenantID, recipientID string, now time.Time) (FrequencyResult, error) {
	maxDay := d.MaxPerDay
	if maxDay <= 0 {
		maxDay = DefaultMaxPerDay
	}
	maxWeek := d.MaxPerWeek
	if maxWeek <= 0 {
		maxWeek = DefaultMaxPerWeek
	}

	today, err := d.Store.CountMessages(ctx, store.CountQuery{
		TenantID:    tenantID,
		RecipientID: recipientID,
		Since:       now.Add(-24 * time.Hour),
	})
	if err != nil {
		return FrequencyResult{}, err
	}

	week, err := d.Store.CountMessages(ctx, store.CountQuery{
		TenantID:    tenantID,
		RecipientID: recipientID,
		Since:       now.Add(-7 * 24 * time.Hour),
	})
	if err != nil {
		return FrequencyResult{}, err
	}

	res := FrequencyResult{
		CanSend:           today < maxDay && week < maxWeek,
		MessagesSentToday: today,
		MessagesSentWeek:  week,
		DailyLimit:        maxDay,
		WeeklyLimit:       maxWeek,
	}

	switch {
	case res.CanSend:
		res.Reason = fmt.Sprintf("within limits (%d/%d today, %d/%d this week)", today, maxDay, week, maxWeek)
	case today >= maxDay:
		res.Reason = fmt.Sprintf("daily limit reached (%d/%d)", today, maxDay)
	default:
		res.Reason = fmt.Sprintf("weekly limit reached (%d/%d)", week, maxWeek)
	}
	return res, nil
}

// Key builds the deterministic deduplication key for idempotent message
// creation: tenant, recipient, campaign, channel and UTC calendar day.
func (d *Deduplicator) Key(tenantID, recipientID, campaignID string, channel domain.Channel, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", tenantID, recipientID, campaignID, channel, now.UTC().Format("20060102"))
}
