package orchestrator

import (
	"context"
	"strconv"
	"strings"
	"time"

	"outreach/internal/domain"
	"outreach/internal/store"
)

// Static best-practice send times per channel and customer type, applied in
// the recipient's timezone when no learned table is configured.
var defaultSendTimes = map[domain.Channel]map[domain.CustomerType]timeOfDay{
	domain.ChannelEmail: {
		domain.CustomerNew:       {10, 0},
		domain.CustomerReturning: {14, 0},
		domain.CustomerExisting:  {9, 0},
	},
	domain.ChannelInstagram: {
		domain.CustomerNew:       {19, 0},
		domain.CustomerReturning: {20, 0},
		domain.CustomerExisting:  {18, 0},
	},
	domain.ChannelFacebook: {
		domain.CustomerNew:       {19, 0},
		domain.CustomerReturning: {20, 0},
		domain.CustomerExisting:  {18, 0},
	},
	domain.ChannelLinkedIn: {
		domain.CustomerNew:       {11, 0},
		domain.CustomerReturning: {13, 0},
		domain.CustomerExisting:  {10, 0},
	},
	domain.ChannelTwitter: {
		domain.CustomerNew:       {12, 0},
		domain.CustomerReturning: {17, 0},
		domain.CustomerExisting:  {15, 0},
	},
	domain.ChannelWhatsApp: {
		domain.CustomerNew:       {18, 0},
		domain.CustomerReturning: {19, 0},
		domain.CustomerExisting:  {10, 0},
	},
	domain.ChannelChat: {
		domain.CustomerNew:       {14, 0},
		domain.CustomerReturning: {15, 0},
		domain.CustomerExisting:  {13, 0},
	},
}

var fallbackSendTime = timeOfDay{10, 0}

type timeOfDay struct {
	Hour   int
	Minute int
}

// CountStore is the scheduler's persistence contract: today's non-failed
// message counts for daily limits and batch slot accounting.
type CountStore interface {
	CountMessages(ctx context.Context, q store.CountQuery) (int, error)
}

type DailyLimitCheck struct {
	CanSend           bool   `json:"canSend"`
	MessagesSentToday int    `json:"messagesSentToday"`
	DailyLimit        *int   `json:"dailyLimit"`
	RemainingToday    int    `json:"remainingToday"`
	Reason            string `json:"reason"`
}

type ScheduledSend struct {
	RecipientID string    `json:"recipientId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Reason      string    `json:"reason"`
}

// Scheduler computes optimal send times per recipient timezone and enforces
// per-campaign daily caps.
type Scheduler struct {
	Store CountStore
}

// OptimalSendTime returns the UTC instant to send at. Campaigns with
// optimization disabled send now. Otherwise the campaign's learned table
// wins, falling back to the static best-practice table; the chosen
// time-of-day is projected to its next future occurrence in the recipient's
// timezone.
func (s *Scheduler) OptimalSendTime(campaign domain.Campaign, profile domain.RecipientProfile, channel domain.Channel, now time.Time) time.Time {
	if !campaign.SendTimeOptimization {
		return now.UTC()
	}

	loc := recipientLocation(profile.Timezone)
	local := now.In(loc)

	if tod, ok := learnedTime(campaign.OptimalSendTimes, channel, local); ok {
		return nextOccurrence(tod, local).UTC()
	}

	customerType := profile.CustomerType
	if customerType == "" {
		customerType = domain.CustomerNew
	}
	tod, ok := defaultSendTimes[channel][customerType]
	if !ok {
		tod = fallbackSendTime
	}
	return nextOccurrence(tod, local).UTC()
}

func recipientLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func learnedTime(table map[domain.Channel]domain.DaypartTimes, channel domain.Channel, local time.Time) (timeOfDay, bool) {
	dayparts, ok := table[channel]
	if !ok {
		return timeOfDay{}, false
	}
	raw := dayparts.Weekday
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		raw = dayparts.Weekend
	}
	return parseTimeOfDay(raw)
}

func parseTimeOfDay(raw string) (timeOfDay, bool) {
	h, m, ok := strings.Cut(raw, ":")
	if !ok {
		return timeOfDay{}, false
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return timeOfDay{}, false
	}
	return timeOfDay{hour, minute}, true
}

// nextOccurrence resolves a time-of-day against the local clock, rolling to
// tomorrow when the target already passed today.
func nextOccurrence(tod timeOfDay, local time.Time) time.Time {
	target := time.Date(local.Year(), local.Month(), local.Day(), tod.Hour, tod.Minute, 0, 0, local.Location())
	if !target.After(local) {
		target = target.Add(24 * time.Hour)
	}
	return target
}

// CheckDailyLimit counts today's non-failed campaign messages, optionally
// scoped to one recipient. An unset limit always permits sending.
func (s *Scheduler) CheckDailyLimit(ctx context.Context, campaign domain.Campaign, recipientID string, now time.Time) (DailyLimitCheck, error) {
	if campaign.DailyLimit == nil {
		return DailyLimitCheck{CanSend: true, Reason: "no_limit_set"}, nil
	}
	limit := *campaign.DailyLimit

	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	count, err := s.Store.CountMessages(ctx, store.CountQuery{
		CampaignID:  campaign.ID,
		RecipientID: recipientID,
		Since:       todayStart,
	})
	if err != nil {
		return DailyLimitCheck{}, err
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	check := DailyLimitCheck{
		CanSend:           count < limit,
		MessagesSentToday: count,
		DailyLimit:        campaign.DailyLimit,
		RemainingToday:    remaining,
		Reason:            "within_limit",
	}
	if !check.CanSend {
		check.Reason = "daily_limit_reached"
	}
	return check, nil
}

// ScheduleBatch caps the batch to today's remaining slots, computes each
// recipient's optimal time, then spaces sends to avoid bursts. Spacing is
// min(1440/batchSize, 30) minutes.
func (s *Scheduler) ScheduleBatch(ctx context.Context, campaign domain.Campaign, recipients []domain.BatchRecipient, channel domain.Channel, now time.Time) ([]ScheduledSend, error) {
	limitCheck, err := s.CheckDailyLimit(ctx, campaign, "", now)
	if err != nil {
		return nil, err
	}
	if !limitCheck.CanSend {
		return nil, nil
	}

	slots := len(recipients)
	if campaign.DailyLimit != nil && limitCheck.RemainingToday < slots {
		slots = limitCheck.RemainingToday
	}
	toSchedule := recipients[:slots]

	spacing := 0
	if len(toSchedule) > 1 {
		spacing = (24 * 60) / len(toSchedule)
		if spacing > 30 {
			spacing = 30
		}
	}

	scheduled := make([]ScheduledSend, 0, len(toSchedule))
	for i, r := range toSchedule {
		at := s.OptimalSendTime(campaign, r.Profile, channel, now)
		if spacing > 0 {
			at = at.Add(time.Duration(i*spacing) * time.Minute)
		}
		scheduled = append(scheduled, ScheduledSend{
			RecipientID: r.RecipientID,
			ScheduledAt: at,
			Reason:      "optimal_time_with_spacing",
		})
	}
	return scheduled, nil
}
