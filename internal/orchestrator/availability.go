package orchestrator

import "outreach/internal/domain"

// ViableChannels filters the requested channels down to those the recipient
// can actually be reached on. An empty result is a valid answer, not an
// error; callers treat it as a terminal no-viable-channel condition.
func ViableChannels(channels []domain.Channel, profile domain.RecipientProfile) []domain.Channel {
	viable := make([]domain.Channel, 0, len(channels))
	for _, c := range channels {
		if profile.ContactFor(c) != "" {
			viable = append(viable, c)
		}
	}
	return viable
}
