package sqsqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"outreach/internal/domain"
)

// maxSQSDelay is the SQS ceiling for DelaySeconds. Messages scheduled
// further out are redriven by the dispatcher's not-due check.
const maxSQSDelay = 900 * time.Second

type Producer struct {
	SQS      *sqs.Client
	QueueURL string
}

// DispatchJob tells the dispatcher which message to deliver. The row itself
// carries contact and content; the job stays small.
type DispatchJob struct {
	TenantID  string         `json:"tenantId"`
	MessageID string         `json:"messageId"`
	Channel   domain.Channel `json:"channel"`
	SendAt    time.Time      `json:"sendAt"`
}

func (p *Producer) EnqueueDispatch(ctx context.Context, tenantID, messageID string, channel domain.Channel, sendAt time.Time) error {
	job := DispatchJob{TenantID: tenantID, MessageID: messageID, Channel: channel, SendAt: sendAt}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	delay := delaySeconds(sendAt, time.Now().UTC())
	_, err = p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     &p.QueueURL,
		MessageBody:  str(string(body)),
		DelaySeconds: delay,
	})
	return err
}

func delaySeconds(sendAt, now time.Time) int32 {
	d := sendAt.Sub(now)
	if d <= 0 {
		return 0
	}
	if d > maxSQSDelay {
		d = maxSQSDelay
	}
	return int32(d / time.Second)
}

func str(s string) *string { return &s }
