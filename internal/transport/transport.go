package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"outreach/internal/domain"
)

// SendRequest carries everything a channel provider needs for one delivery.
type SendRequest struct {
	Channel domain.Channel
	To      string
	Subject string
	Body    string
	// MessageID is echoed back by provider webhooks for correlation.
	MessageID string
}

type SendResponse struct {
	ProviderMsgID string
	Status        string
}

// Sender is the per-channel provider contract. Implementations return the
// HTTP status and raw response body for attempt auditing.
type Sender interface {
	Provider() string
	Send(ctx context.Context, req SendRequest) (SendResponse, int, []byte, error)
}

// ShouldRetry classifies provider failures as transient or terminal.
func ShouldRetry(err error, httpStatus int) bool {
	if httpStatus == 429 || httpStatus == 408 {
		return true
	}
	if httpStatus >= 500 && httpStatus <= 599 {
		return true
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return true
		}
	}
	return false
}

// Backoff returns the pause before the given retry attempt.
func Backoff(attempt int) time.Duration {
	base := []time.Duration{200 * time.Millisecond, 600 * time.Millisecond, 1400 * time.Millisecond}
	if attempt <= 0 {
		return base[0]
	}
	if attempt >= len(base) {
		return base[len(base)-1]
	}
	return base[attempt]
}
