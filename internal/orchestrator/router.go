package orchestrator

import (
	"errors"
	"time"

	"outreach/internal/domain"
)

// ErrNoViableChannel is returned when the recipient cannot be reached on any
// requested channel. It is an expected policy outcome for callers to map to
// a blocked/failed response, not an infrastructure failure.
var ErrNoViableChannel = errors.New("no viable channel")

// RouteReason identifies which precedence rule picked the primary channel.
type RouteReason string

const (
	ReasonRecipientPreference RouteReason = "recipient_preference"
	ReasonCampaignPriority    RouteReason = "campaign_priority"
	ReasonPerformance         RouteReason = "performance"
	ReasonDefaultOrder        RouteReason = "default_order"
	ReasonNoViableChannel     RouteReason = "no_viable_channel"
)

// Route is the router's decision: one primary channel and an immutable,
// ordered fallback chain. Downstream code must never reorder Fallbacks.
type Route struct {
	Primary   domain.Channel
	Reason    RouteReason
	Fallbacks []domain.Channel
	Selection *Selection // present when the performance rule fired
}

// Router applies precedence on top of viable channels:
// explicit recipient preference, then campaign priority configuration,
// then the selector's heuristic score, then input order.
type Router struct {
	Selector Selector
}

func (r Router) Route(campaign domain.Campaign, profile domain.RecipientProfile, now time.Time) (Route, error) {
	viable := ViableChannels(campaign.Channels, profile)
	if len(viable) == 0 {
		return Route{Reason: ReasonNoViableChannel}, ErrNoViableChannel
	}

	// Rule 1: explicit recipient preference.
	if pref := profile.PreferredChannel; pref != "" && contains(viable, pref) {
		return Route{
			Primary:   pref,
			Reason:    ReasonRecipientPreference,
			Fallbacks: without(viable, pref),
		}, nil
	}

	// Rule 2: campaign channel priority, keyed by recipient segment with a
	// "default" fallback key.
	if prio := campaignPriority(campaign, profile.Segment); len(prio) > 0 {
		for _, c := range prio {
			if contains(viable, c) {
				return Route{
					Primary:   c,
					Reason:    ReasonCampaignPriority,
					Fallbacks: without(viable, c),
				}, nil
			}
		}
	}

	// Rule 3: selector heuristic; fallbacks ordered by descending score.
	sel := r.Selector.Select(viable, profile, now)
	if sel.Channel != "" {
		return Route{
			Primary:   sel.Channel,
			Reason:    ReasonPerformance,
			Fallbacks: byScore(without(viable, sel.Channel), sel.Scores),
			Selection: &sel,
		}, nil
	}

	// Rule 4: first viable channel in input order.
	return Route{
		Primary:   viable[0],
		Reason:    ReasonDefaultOrder,
		Fallbacks: viable[1:],
	}, nil
}

// RouteWithFallback truncates the fallback chain so primary plus fallbacks
// never exceed maxAttempts.
func (r Router) RouteWithFallback(campaign domain.Campaign, profile domain.RecipientProfile, now time.Time, maxAttempts int) (Route, error) {
	route, err := r.Route(campaign, profile, now)
	if err != nil {
		return route, err
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if len(route.Fallbacks) > maxAttempts-1 {
		route.Fallbacks = route.Fallbacks[:maxAttempts-1]
	}
	return route, nil
}

func campaignPriority(campaign domain.Campaign, segment string) []domain.Channel {
	if len(campaign.ChannelPriority) == 0 {
		return nil
	}
	if segment != "" {
		if prio, ok := campaign.ChannelPriority[segment]; ok {
			return prio
		}
	}
	return campaign.ChannelPriority["default"]
}

func contains(channels []domain.Channel, c domain.Channel) bool {
	for _, v := range channels {
		if v == c {
			return true
		}
	}
	return false
}

func without(channels []domain.Channel, exclude domain.Channel) []domain.Channel {
	out := make([]domain.Channel, 0, len(channels))
	for _, c := range channels {
		if c != exclude {
			out = append(out, c)
		}
	}
	return out
}

// byScore orders channels by descending score, stable on the incoming order
// for equal scores.
func byScore(channels []domain.Channel, scores map[domain.Channel]float64) []domain.Channel {
	out := append([]domain.Channel(nil), channels...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && scores[out[j]] > scores[out[j-1]]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
