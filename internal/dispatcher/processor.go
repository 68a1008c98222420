package dispatcher

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"outreach/internal/domain"
	"outreach/internal/observability"
	sqsqueue "outreach/internal/queue/sqs"
	"outreach/internal/store"
	"outreach/internal/transport"
)

// ErrNotDue signals the job arrived before its send time; the message is
// left in the queue for redrive rather than sent early.
var ErrNotDue = errors.New("message not yet due")

// dueGrace tolerates small clock skew between producer and dispatcher pods.
const dueGrace = 30 * time.Second

// staleClaim is how long a sending claim holds before another dispatcher may
// retake the message.
const staleClaim = 5 * time.Minute

type Store interface {
	GetMessage(ctx context.Context, id string) (store.Message, bool, error)
	ClaimMessage(ctx context.Context, id string, now time.Time, staleAfter time.Duration) (bool, error)
	InsertAttempt(ctx context.Context, in store.ProviderAttempt) error
	SetProviderDetails(ctx context.Context, in store.ProviderDetailsUpdate) error
	MarkMessageState(ctx context.Context, in store.MessageStateUpdate) error
}

// Processor delivers one claimed message through the channel's provider,
// protected by a local rate limiter and a circuit breaker per provider.
type Processor struct {
	Store    Store
	Senders  map[domain.Channel]transport.Sender
	Limiter  *rate.Limiter
	Breakers map[string]*gobreaker.CircuitBreaker
}

func (p *Processor) Process(ctx context.Context, job sqsqueue.DispatchJob) error {
	msg, found, err := p.Store.GetMessage(ctx, job.MessageID)
	if err != nil {
		return err
	}
	if !found {
		// Nothing to deliver; drop the job.
		return nil
	}

	// Idempotent consumer: skip messages already past dispatch.
	switch msg.Status {
	case domain.StatusFailed, domain.StatusBounced, domain.StatusUnsubscribed,
		domain.StatusDelivered, domain.StatusOpened, domain.StatusClicked, domain.StatusReplied:
		return nil
	}
	if msg.ProviderMsgID != "" && msg.Status == domain.StatusSent {
		return nil
	}

	now := time.Now().UTC()
	if msg.ScheduledAt.After(now.Add(dueGrace)) {
		return ErrNotDue
	}

	sender, ok := p.Senders[msg.Channel]
	if !ok {
		_ = p.Store.MarkMessageState(ctx, store.MessageStateUpdate{
			ID: msg.ID, Status: domain.StatusFailed, LastError: "no_sender_for_channel", Now: now,
		})
		return errors.New("no sender for channel " + msg.Channel.String())
	}

	claimed, err := p.Store.ClaimMessage(ctx, msg.ID, now, staleClaim)
	if err != nil {
		return err
	}
	if !claimed {
		// Another dispatcher holds it.
		return nil
	}

	var lastErr error
	start := time.Now()

	for attempt := 0; attempt < 3; attempt++ {
		if p.Limiter != nil {
			waitCtx, cancelWait := context.WithTimeout(ctx, 2*time.Second)
			err := p.Limiter.Wait(waitCtx)
			cancelWait()
			if err != nil {
				observability.ProviderSend.WithLabelValues(msg.Channel.String(), "rate_limited_local", "0").Inc()
				time.Sleep(200 * time.Millisecond)
				continue
			}
		}

		resAny, err := p.executeWithBreaker(ctx, sender, msg)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.ProviderSend.WithLabelValues(msg.Channel.String(), "cb_open", "0").Inc()
			// Transient provider protection; do not mark the message
			// failed, let SQS redrive it.
			return err
		}

		if err == nil {
			r := resAny.(sendResult)
			observability.ProviderSend.WithLabelValues(msg.Channel.String(), "ok", strconv.Itoa(r.httpStatus)).Inc()
			observability.ProviderLatency.WithLabelValues(msg.Channel.String()).Observe(time.Since(start).Seconds())

			_ = p.Store.InsertAttempt(ctx, store.ProviderAttempt{
				MessageID:     msg.ID,
				Provider:      sender.Provider(),
				ProviderMsgID: r.resp.ProviderMsgID,
				HTTPStatus:    r.httpStatus,
				RequestJSON:   attemptRequest(msg),
				ResponseJSON:  rawJSON(r.raw),
			})
			return p.Store.SetProviderDetails(ctx, store.ProviderDetailsUpdate{
				ID:            msg.ID,
				Provider:      sender.Provider(),
				ProviderMsgID: r.resp.ProviderMsgID,
				Status:        domain.StatusSent,
				Now:           time.Now().UTC(),
			})
		}

		lastErr = err

		httpStatus := 0
		var raw []byte
		var pce providerCallError
		if errors.As(err, &pce) {
			httpStatus = pce.httpStatus
			raw = pce.raw
		}

		observability.ProviderSend.WithLabelValues(msg.Channel.String(), "error", strconv.Itoa(httpStatus)).Inc()

		_ = p.Store.InsertAttempt(ctx, store.ProviderAttempt{
			MessageID:    msg.ID,
			Provider:     sender.Provider(),
			HTTPStatus:   httpStatus,
			ErrorMsg:     err.Error(),
			RequestJSON:  attemptRequest(msg),
			ResponseJSON: rawJSON(raw),
		})

		if !transport.ShouldRetry(err, httpStatus) {
			_ = p.Store.MarkMessageState(ctx, store.MessageStateUpdate{
				ID: msg.ID, Status: domain.StatusFailed, LastError: "provider_non_retryable", Now: time.Now().UTC(),
			})
			return err
		}
		time.Sleep(transport.Backoff(attempt))
	}

	_ = p.Store.MarkMessageState(ctx, store.MessageStateUpdate{
		ID: msg.ID, Status: domain.StatusFailed, LastError: "provider_retry_exhausted", Now: time.Now().UTC(),
	})
	return lastErr
}

func (p *Processor) executeWithBreaker(ctx context.Context, sender transport.Sender, msg store.Message) (any, error) {
	call := func() (any, error) {
		reqCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
		defer cancel()

		resp, httpStatus, raw, callErr := sender.Send(reqCtx, transport.SendRequest{
			Channel:   msg.Channel,
			To:        msg.Contact,
			Body:      msg.Content,
			MessageID: msg.ID,
		})
		if callErr != nil {
			return nil, providerCallError{err: callErr, httpStatus: httpStatus, raw: raw}
		}
		return sendResult{resp: resp, httpStatus: httpStatus, raw: raw}, nil
	}

	cb := p.Breakers[sender.Provider()]
	if cb == nil {
		return call()
	}
	return cb.Execute(call)
}

func attemptRequest(msg store.Message) any {
	return map[string]any{
		"to": msg.Contact, "channel": msg.Channel, "campaignId": msg.CampaignID, "tenantId": msg.TenantID,
	}
}

func rawJSON(b []byte) any { return map[string]any{"raw": string(b)} }

type sendResult struct {
	resp       transport.SendResponse
	httpStatus int
	raw        []byte
}

type providerCallError struct {
	err        error
	httpStatus int
	raw        []byte
}

func (e providerCallError) Error() string { return e.err.Error() }
func (e providerCallError) Unwrap() error { return e.err }
