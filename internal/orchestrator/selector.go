package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"outreach/internal/domain"
)

// Sub-score weights. They sum to 1.0 so the composite stays in [0,1].
const (
	weightCustomerType = 0.30
	weightEngagement   = 0.30
	weightDevice       = 0.20
	weightUrgency      = 0.10
	weightTimeOfDay    = 0.10
)

// neutralScore is used whenever a lookup table has no data for a channel.
const neutralScore = 0.5

// unresponsiveScore actively discourages channels with prior sends and zero
// engagement, rather than letting them float back to neutral.
const unresponsiveScore = 0.2

var customerTypeFit = map[domain.CustomerType]map[domain.Channel]float64{
	domain.CustomerNew: {
		domain.ChannelEmail:     0.9,
		domain.ChannelInstagram: 0.7,
		domain.ChannelFacebook:  0.7,
		domain.ChannelLinkedIn:  0.6,
		domain.ChannelTwitter:   0.5,
		domain.ChannelWhatsApp:  0.4,
		domain.ChannelChat:      0.8,
	},
	domain.CustomerReturning: {
		domain.ChannelEmail:     0.8,
		domain.ChannelInstagram: 0.9,
		domain.ChannelFacebook:  0.8,
		domain.ChannelLinkedIn:  0.7,
		domain.ChannelTwitter:   0.7,
		domain.ChannelWhatsApp:  0.6,
		domain.ChannelChat:      0.7,
	},
	domain.CustomerExisting: {
		domain.ChannelEmail:     0.7,
		domain.ChannelInstagram: 0.8,
		domain.ChannelFacebook:  0.7,
		domain.ChannelLinkedIn:  0.8,
		domain.ChannelTwitter:   0.6,
		domain.ChannelWhatsApp:  0.9,
		domain.ChannelChat:      0.9,
	},
}

var mobileFit = map[domain.Channel]float64{
	domain.ChannelEmail:     0.7,
	domain.ChannelInstagram: 1.0,
	domain.ChannelFacebook:  0.9,
	domain.ChannelLinkedIn:  0.6,
	domain.ChannelTwitter:   0.9,
	domain.ChannelWhatsApp:  1.0,
	domain.ChannelChat:      0.8,
}

var desktopFit = map[domain.Channel]float64{
	domain.ChannelEmail:     1.0,
	domain.ChannelInstagram: 0.7,
	domain.ChannelFacebook:  0.8,
	domain.ChannelLinkedIn:  1.0,
	domain.ChannelTwitter:   0.7,
	domain.ChannelWhatsApp:  0.5,
	domain.ChannelChat:      0.9,
}

var urgencyFit = map[domain.Urgency]map[domain.Channel]float64{
	domain.UrgencyHigh: {
		domain.ChannelEmail:     0.5,
		domain.ChannelInstagram: 0.7,
		domain.ChannelFacebook:  0.7,
		domain.ChannelLinkedIn:  0.4,
		domain.ChannelTwitter:   0.8,
		domain.ChannelWhatsApp:  1.0,
		domain.ChannelChat:      1.0,
	},
	domain.UrgencyNormal: {
		domain.ChannelEmail:     1.0,
		domain.ChannelInstagram: 0.8,
		domain.ChannelFacebook:  0.8,
		domain.ChannelLinkedIn:  0.9,
		domain.ChannelTwitter:   0.7,
		domain.ChannelWhatsApp:  0.7,
		domain.ChannelChat:      0.8,
	},
	domain.UrgencyLow: {
		domain.ChannelEmail:     1.0,
		domain.ChannelInstagram: 0.9,
		domain.ChannelFacebook:  0.9,
		domain.ChannelLinkedIn:  1.0,
		domain.ChannelTwitter:   0.8,
		domain.ChannelWhatsApp:  0.5,
		domain.ChannelChat:      0.6,
	},
}

// Selection is the selector's full decision, including every candidate's
// score so blocked/override decisions stay inspectable.
type Selection struct {
	Channel    domain.Channel
	Confidence float64
	Scores     map[domain.Channel]float64
	Reason     string
}

// Selector scores channels with a fixed weighted heuristic. It is a pure
// function of its inputs; the clock is passed in for determinism.
type Selector struct{}

// Score rates one channel for one recipient in [0,1].
func (Selector) Score(channel domain.Channel, profile domain.RecipientProfile, now time.Time) float64 {
	customerType := profile.CustomerType
	if customerType == "" {
		customerType = domain.CustomerNew
	}
	urgency := profile.Urgency
	if urgency == "" {
		urgency = domain.UrgencyNormal
	}

	score := lookup(customerTypeFit[customerType], channel)*weightCustomerType +
		scoreEngagement(channel, profile.Engagement)*weightEngagement +
		scoreDevice(channel, profile.DevicePreference)*weightDevice +
		lookup(urgencyFit[urgency], channel)*weightUrgency +
		scoreTimeOfDay(channel, now)*weightTimeOfDay

	if score > 1.0 {
		return 1.0
	}
	return score
}

// Select picks the highest-scoring channel. Ties break on input order: the
// first maximum wins, so the result is deterministic.
func (s Selector) Select(channels []domain.Channel, profile domain.RecipientProfile, now time.Time) Selection {
	if len(channels) == 0 {
		return Selection{Reason: "no_channels"}
	}

	scores := make(map[domain.Channel]float64, len(channels))
	best := channels[0]
	bestScore := -1.0
	for _, c := range channels {
		sc := s.Score(c, profile, now)
		scores[c] = sc
		if sc > bestScore {
			best = c
			bestScore = sc
		}
	}

	return Selection{
		Channel:    best,
		Confidence: bestScore,
		Scores:     scores,
		Reason:     selectionReason(best, profile),
	}
}

func lookup(table map[domain.Channel]float64, channel domain.Channel) float64 {
	if table == nil {
		return neutralScore
	}
	if v, ok := table[channel]; ok {
		return v
	}
	return neutralScore
}

func scoreEngagement(channel domain.Channel, history map[domain.Channel]domain.EngagementStats) float64 {
	if len(history) == 0 {
		return neutralScore
	}
	stats, ok := history[channel]
	if !ok {
		return neutralScore
	}

	score := stats.OpenRate*0.3 + stats.ClickRate*0.4 + stats.ReplyRate*0.3

	// Prior sends with zero engagement mean the channel is proven
	// unresponsive for this recipient.
	if stats.MessagesSent > 0 && score == 0 {
		return unresponsiveScore
	}
	return score
}

func scoreDevice(channel domain.Channel, device domain.Device) float64 {
	switch device {
	case domain.DeviceMobile:
		return lookup(mobileFit, channel)
	case domain.DeviceDesktop:
		return lookup(desktopFit, channel)
	}
	return neutralScore
}

func scoreTimeOfDay(channel domain.Channel, now time.Time) float64 {
	hour := now.Hour()
	switch {
	case hour >= 9 && hour <= 17: // business hours
		switch channel {
		case domain.ChannelEmail, domain.ChannelLinkedIn:
			return 1.0
		case domain.ChannelInstagram, domain.ChannelFacebook, domain.ChannelTwitter:
			return 0.6
		default:
			return 0.7
		}
	case hour >= 18 && hour <= 22: // evening
		switch channel {
		case domain.ChannelInstagram, domain.ChannelFacebook, domain.ChannelWhatsApp:
			return 1.0
		case domain.ChannelEmail:
			return 0.7
		default:
			return 0.8
		}
	default: // night and early morning: email is read later, DMs intrude
		if channel == domain.ChannelEmail {
			return 0.9
		}
		return 0.3
	}
}

func selectionReason(channel domain.Channel, profile domain.RecipientProfile) string {
	var reasons []string

	if profile.CustomerType == domain.CustomerExisting &&
		(channel == domain.ChannelWhatsApp || channel == domain.ChannelChat) {
		reasons = append(reasons, "existing customer relationship allows direct messaging")
	}
	if profile.DevicePreference == domain.DeviceMobile &&
		(channel == domain.ChannelInstagram || channel == domain.ChannelWhatsApp) {
		reasons = append(reasons, "mobile user prefers mobile-first channels")
	}
	if profile.Urgency == domain.UrgencyHigh &&
		(channel == domain.ChannelWhatsApp || channel == domain.ChannelChat) {
		reasons = append(reasons, "urgent message requires immediate channel")
	}
	if _, ok := profile.Engagement[channel]; !ok {
		// Degraded fallback must stay visible for debuggability.
		reasons = append(reasons, "no engagement history, neutral score applied")
	}

	customerType := profile.CustomerType
	if customerType == "" {
		customerType = domain.CustomerNew
	}
	if len(reasons) == 0 {
		reasons = append(reasons, fmt.Sprintf("best overall fit for %s customer", customerType))
	}
	return strings.Join(reasons, "; ")
}
