package store

import (
	"errors"
	"time"

	"outreach/internal/domain"
)

// ErrDuplicateKey is returned by InsertMessage when the deduplication key
// already exists. The orchestrator converts it into a blocked outcome rather
// than a silent double-send.
var ErrDuplicateKey = errors.New("duplicate deduplication key")

type Message struct {
	ID            string
	TenantID      string
	CampaignID    string
	RecipientID   string
	Channel       domain.Channel
	Contact       string
	Content       string
	Status        domain.MessageStatus
	ScheduledAt   time.Time
	DedupKey      string
	IsPrimary     bool
	FallbackFrom  domain.Channel
	Provider      string
	ProviderMsgID string
	LastError     string
	SentAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type MessageInsert struct {
	ID          string
	TenantID    string
	CampaignID  string
	RecipientID string
	Channel     domain.Channel
	Contact     string
	Content     string
	Status      domain.MessageStatus
	ScheduledAt time.Time
	DedupKey    string
	IsPrimary   bool
	Now         time.Time
}

// RecentQuery selects messages for the dedup recency gate: same tenant and
// recipient since a cutoff, optionally scoped to one campaign and/or a
// channel set, excluding terminal failures.
type RecentQuery struct {
	TenantID    string
	RecipientID string
	CampaignID  string // optional
	Channels    []domain.Channel
	Since       time.Time
}

// CountQuery counts non-failed messages for frequency caps, daily limits and
// daily spend pacing. Zero-value fields are not filtered on.
type CountQuery struct {
	TenantID    string
	CampaignID  string
	RecipientID string
	Channel     domain.Channel
	Since       time.Time
}

type MessageStateUpdate struct {
	ID        string
	Status    domain.MessageStatus
	LastError string
	Now       time.Time
}

type ProviderDetailsUpdate struct {
	ID            string
	Provider      string
	ProviderMsgID string
	Status        domain.MessageStatus
	Now           time.Time
}

type ProviderAttempt struct {
	MessageID     string
	Provider      string
	ProviderMsgID string
	HTTPStatus    int
	ErrorCode     string
	ErrorMsg      string
	RequestJSON   any
	ResponseJSON  any
}

type DeliveryEvent struct {
	Provider      string
	ProviderMsgID string
	VendorStatus  string
	ErrorCode     string
	Payload       any
	OccurredAt    *time.Time
}

type ProviderMsgUpdate struct {
	Provider      string
	ProviderMsgID string
	NewStatus     domain.MessageStatus
	LastError     string
	Now           time.Time
}
