package domain

import "fmt"

type CustomerType string

const (
	CustomerNew       CustomerType = "new"
	CustomerReturning CustomerType = "returning"
	CustomerExisting  CustomerType = "existing"
)

func ParseCustomerType(s string) (CustomerType, error) {
	switch t := CustomerType(s); t {
	case CustomerNew, CustomerReturning, CustomerExisting:
		return t, nil
	case "":
		return CustomerNew, nil
	}
	return "", fmt.Errorf("unknown customer type %q", s)
}

type Device string

const (
	DeviceMobile  Device = "mobile"
	DeviceDesktop Device = "desktop"
	DeviceUnknown Device = ""
)

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// EngagementStats holds per-channel historical rates for one recipient.
type EngagementStats struct {
	OpenRate     float64 `json:"openRate"`
	ClickRate    float64 `json:"clickRate"`
	ReplyRate    float64 `json:"replyRate"`
	MessagesSent int     `json:"messagesSent"`
}

// RecipientProfile is caller-supplied per request and not persisted here.
type RecipientProfile struct {
	Name             string                      `json:"name,omitempty"`
	CustomerType     CustomerType                `json:"customerType,omitempty"`
	DevicePreference Device                      `json:"devicePreference,omitempty"`
	Timezone         string                      `json:"timezone,omitempty"`
	Contact          map[string]string           `json:"contact,omitempty"`
	Engagement       map[Channel]EngagementStats `json:"engagement,omitempty"`
	PreferredChannel Channel                     `json:"preferredChannel,omitempty"`
	Segment          string                      `json:"segment,omitempty"`
	Urgency          Urgency                     `json:"urgency,omitempty"`
}

// ContactFor returns the contact value required by a channel, or "" when the
// recipient cannot be reached there.
func (p RecipientProfile) ContactFor(c Channel) string {
	if p.Contact == nil {
		return ""
	}
	return p.Contact[c.ContactField()]
}
