package domain

import "fmt"

// Channel is a closed enumeration of outreach channels. Unknown values are
// rejected at parse time instead of silently scoring as neutral downstream.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelInstagram Channel = "instagram"
	ChannelFacebook  Channel = "facebook"
	ChannelLinkedIn  Channel = "linkedin"
	ChannelTwitter   Channel = "twitter"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelChat      Channel = "chat"
)

var AllChannels = []Channel{
	ChannelEmail,
	ChannelInstagram,
	ChannelFacebook,
	ChannelLinkedIn,
	ChannelTwitter,
	ChannelWhatsApp,
	ChannelChat,
}

func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	switch c {
	case ChannelEmail, ChannelInstagram, ChannelFacebook, ChannelLinkedIn,
		ChannelTwitter, ChannelWhatsApp, ChannelChat:
		return c, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// ContactField returns the recipient contact key a channel requires.
// A channel with an empty or missing field is not viable for that recipient.
func (c Channel) ContactField() string {
	switch c {
	case ChannelEmail:
		return "email"
	case ChannelInstagram:
		return "instagram_handle"
	case ChannelFacebook:
		return "facebook_id"
	case ChannelLinkedIn:
		return "linkedin_id"
	case ChannelTwitter:
		return "twitter_handle"
	case ChannelWhatsApp:
		return "phone"
	case ChannelChat:
		return "user_id"
	}
	return ""
}

func (c Channel) String() string { return string(c) }
