package orchestrator

import (
	"errors"
	"testing"

	"outreach/internal/domain"
)

func reachableProfile(channels ...domain.Channel) domain.RecipientProfile {
	contact := map[string]string{}
	for _, c := range channels {
		contact[c.ContactField()] = "reachable"
	}
	return domain.RecipientProfile{
		CustomerType: domain.CustomerReturning,
		Contact:      contact,
	}
}

func TestViableChannelsFiltersMissingContact(t *testing.T) {
	profile := reachableProfile(domain.ChannelEmail, domain.ChannelWhatsApp)

	viable := ViableChannels([]domain.Channel{domain.ChannelEmail, domain.ChannelInstagram, domain.ChannelWhatsApp}, profile)
	if len(viable) != 2 {
		t.Fatalf("expected 2 viable channels, got %v", viable)
	}
	if viable[0] != domain.ChannelEmail || viable[1] != domain.ChannelWhatsApp {
		t.Fatalf("input order not preserved: %v", viable)
	}
}

func TestRoutePreferenceWins(t *testing.T) {
	campaign := domain.Campaign{
		Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelInstagram},
		ChannelPriority: map[string][]domain.Channel{
			"default": {domain.ChannelEmail},
		},
	}
	profile := reachableProfile(domain.ChannelEmail, domain.ChannelInstagram)
	profile.PreferredChannel = domain.ChannelInstagram

	route, err := Router{}.Route(campaign, profile, businessHours)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Primary != domain.ChannelInstagram || route.Reason != ReasonRecipientPreference {
		t.Fatalf("preference should outrank campaign priority: %+v", route)
	}
	if len(route.Fallbacks) != 1 || route.Fallbacks[0] != domain.ChannelEmail {
		t.Fatalf("unexpected fallbacks %v", route.Fallbacks)
	}
}

func TestRouteUnreachablePreferenceIgnored(t *testing.T) {
	campaign := domain.Campaign{Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelInstagram}}
	profile := reachableProfile(domain.ChannelEmail)
	profile.PreferredChannel = domain.ChannelInstagram

	route, err := Router{}.Route(campaign, profile, businessHours)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Primary != domain.ChannelEmail {
		t.Fatalf("expected fall through past unreachable preference, got %s", route.Primary)
	}
}

func TestRouteSegmentPriority(t *testing.T) {
	campaign := domain.Campaign{
		Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelLinkedIn, domain.ChannelInstagram},
		ChannelPriority: map[string][]domain.Channel{
			"default":    {domain.ChannelEmail},
			"enterprise": {domain.ChannelLinkedIn, domain.ChannelEmail},
		},
	}
	profile := reachableProfile(domain.ChannelEmail, domain.ChannelLinkedIn)
	profile.Segment = "enterprise"

	route, err := Router{}.Route(campaign, profile, businessHours)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Primary != domain.ChannelLinkedIn || route.Reason != ReasonCampaignPriority {
		t.Fatalf("expected segment priority, got %+v", route)
	}

	// Unknown segment falls back to the default key.
	profile.Segment = "smb"
	route, err = Router{}.Route(campaign, profile, businessHours)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Primary != domain.ChannelEmail {
		t.Fatalf("expected default priority, got %+v", route)
	}
}

func TestRoutePerformanceRule(t *testing.T) {
	campaign := domain.Campaign{Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelInstagram, domain.ChannelWhatsApp}}
	profile := reachableProfile(domain.ChannelEmail, domain.ChannelInstagram, domain.ChannelWhatsApp)
	profile.DevicePreference = domain.DeviceMobile
	profile.Engagement = map[domain.Channel]domain.EngagementStats{
		domain.ChannelInstagram: {OpenRate: 0.9, ClickRate: 0.9, ReplyRate: 0.9, MessagesSent: 10},
	}

	route, err := Router{}.Route(campaign, profile, businessHours)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Reason != ReasonPerformance {
		t.Fatalf("expected performance rule, got %s", route.Reason)
	}
	if route.Primary != domain.ChannelInstagram {
		t.Fatalf("expected highest scoring channel, got %s (scores %v)", route.Primary, route.Selection.Scores)
	}
	if route.Selection == nil {
		t.Fatalf("performance route should carry the selection")
	}
	// Fallbacks ordered by descending score.
	scores := route.Selection.Scores
	for i := 1; i < len(route.Fallbacks); i++ {
		if scores[route.Fallbacks[i]] > scores[route.Fallbacks[i-1]] {
			t.Fatalf("fallbacks not score ordered: %v (%v)", route.Fallbacks, scores)
		}
	}
}

func TestRouteNoViableChannel(t *testing.T) {
	campaign := domain.Campaign{Channels: []domain.Channel{domain.ChannelEmail}}
	profile := domain.RecipientProfile{}

	_, err := Router{}.Route(campaign, profile, businessHours)
	if !errors.Is(err, ErrNoViableChannel) {
		t.Fatalf("expected ErrNoViableChannel, got %v", err)
	}
}

func TestRouteWithFallbackTruncates(t *testing.T) {
	campaign := domain.Campaign{Channels: []domain.Channel{
		domain.ChannelEmail, domain.ChannelInstagram, domain.ChannelFacebook, domain.ChannelWhatsApp,
	}}
	profile := reachableProfile(domain.ChannelEmail, domain.ChannelInstagram, domain.ChannelFacebook, domain.ChannelWhatsApp)
	profile.PreferredChannel = domain.ChannelEmail

	route, err := Router{}.RouteWithFallback(campaign, profile, businessHours, 2)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(route.Fallbacks) != 1 {
		t.Fatalf("expected fallbacks truncated to 1, got %v", route.Fallbacks)
	}
}
