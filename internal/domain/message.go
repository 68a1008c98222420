package domain

// MessageStatus tracks an outreach message through its lifecycle. Transitions
// past "sent" are driven by provider delivery events, not by this core.
type MessageStatus string

const (
	StatusPending      MessageStatus = "pending"
	StatusScheduled    MessageStatus = "scheduled"
	StatusSending      MessageStatus = "sending"
	StatusSent         MessageStatus = "sent"
	StatusDelivered    MessageStatus = "delivered"
	StatusOpened       MessageStatus = "opened"
	StatusClicked      MessageStatus = "clicked"
	StatusReplied      MessageStatus = "replied"
	StatusBounced      MessageStatus = "bounced"
	StatusFailed       MessageStatus = "failed"
	StatusUnsubscribed MessageStatus = "unsubscribed"
)

// IsTerminalFailure reports whether a message ended without reaching the
// recipient. These states are ignored by the dedup gates and frequency caps.
func (s MessageStatus) IsTerminalFailure() bool {
	return s == StatusFailed || s == StatusBounced
}
