package domain

import "time"

type SendOutreachRequest struct {
	Campaign    Campaign           `json:"campaign"`
	RecipientID string             `json:"recipientId"`
	Profile     RecipientProfile   `json:"profile"`
	Content     map[Channel]string `json:"content"`
	ForceSend   bool               `json:"forceSend,omitempty"`
}

func (r SendOutreachRequest) Validate() error {
	if r.RecipientID == "" || len(r.Content) == 0 {
		return ErrMissingFields
	}
	return r.Campaign.Validate()
}

type BatchRecipient struct {
	RecipientID string           `json:"recipientId"`
	Profile     RecipientProfile `json:"profile"`
}

type SendBatchRequest struct {
	Campaign   Campaign           `json:"campaign"`
	Recipients []BatchRecipient   `json:"recipients"`
	Templates  map[Channel]string `json:"templates"`
}

func (r SendBatchRequest) Validate() error {
	if len(r.Recipients) == 0 || len(r.Templates) == 0 {
		return ErrMissingFields
	}
	for _, rec := range r.Recipients {
		if rec.RecipientID == "" {
			return ErrMissingFields
		}
	}
	return r.Campaign.Validate()
}

// SendOutcome is the terminal state of one pipeline run.
type SendOutcome string

const (
	OutcomeScheduled SendOutcome = "scheduled"
	OutcomeQueued    SendOutcome = "queued"
	OutcomeBlocked   SendOutcome = "blocked"
	OutcomeFailed    SendOutcome = "failed"
)

type SendResponse struct {
	Status           SendOutcome `json:"status"`
	MessageID        string      `json:"messageId,omitempty"`
	Channel          Channel     `json:"channel,omitempty"`
	ScheduledAt      *time.Time  `json:"scheduledAt,omitempty"`
	FallbackChannels []Channel   `json:"fallbackChannels,omitempty"`
	RoutingReason    string      `json:"routingReason,omitempty"`
	Reason           string      `json:"reason,omitempty"`
	Detail           any         `json:"detail,omitempty"`
}

type BatchRecipientResult struct {
	Index       int         `json:"index"`
	RecipientID string      `json:"recipientId"`
	Status      SendOutcome `json:"status"`
	Channel     Channel     `json:"channel,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

type SendBatchResponse struct {
	Total     int                    `json:"total"`
	Scheduled int                    `json:"scheduled"`
	Blocked   int                    `json:"blocked"`
	Failed    int                    `json:"failed"`
	Details   []BatchRecipientResult `json:"details"`
}
