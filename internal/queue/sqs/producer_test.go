package sqsqueue

import (
	"testing"
	"time"
)

func TestDelaySeconds(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if got := delaySeconds(now.Add(-time.Hour), now); got != 0 {
		t.Fatalf("past send time should not delay, got %d", got)
	}
	if got := delaySeconds(now.Add(2*time.Minute), now); got != 120 {
		t.Fatalf("expected 120s delay, got %d", got)
	}
	// SQS caps DelaySeconds at 900.
	if got := delaySeconds(now.Add(6*time.Hour), now); got != 900 {
		t.Fatalf("expected capped 900s delay, got %d", got)
	}
}
