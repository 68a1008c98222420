package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"outreach/internal/domain"
	"outreach/internal/observability"
	"outreach/internal/store"
	"outreach/internal/util"
)

// Store is the orchestrator's full persistence contract. Components keep
// their own narrow views of it.
type Store interface {
	RecentMessages(ctx context.Context, q store.RecentQuery) ([]store.Message, error)
	CountMessages(ctx context.Context, q store.CountQuery) (int, error)
	CountMessagesByStatus(ctx context.Context, campaignID string) (map[domain.MessageStatus]int, error)
	InsertMessage(ctx context.Context, in store.MessageInsert) error
	MarkMessageState(ctx context.Context, in store.MessageStateUpdate) error
	RecordSpend(ctx context.Context, campaignID string, channel domain.Channel, amount float64) error
	GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error)
}

// Queue hands scheduled messages to the dispatch worker. Nil disables
// dispatching (the message row is still created for a later sweep).
type Queue interface {
	EnqueueDispatch(ctx context.Context, tenantID, messageID string, channel domain.Channel, sendAt time.Time) error
}

// Gate names used in blocked responses.
const (
	GateCampaignWindow = "campaign_window"
	GateDuplicate      = "duplicate"
	GateFrequencyCap   = "frequency_cap"
	GateNoViable       = "no_viable_channel"
	GateBudget         = "budget_exceeded"
	GateDailyBudget    = "daily_budget_exceeded"
	GateDailyLimit     = "daily_limit_reached"
	GateDuplicateKey   = "duplicate_key"
)

// Orchestrator runs the decision pipeline in fixed order: dedup/frequency,
// routing, budget, daily limit, send time, message creation, spend
// recording. Any gate failure halts with a structured blocked reason; spend
// recording is the only mutation and happens last.
type Orchestrator struct {
	Store     Store
	Queue     Queue
	Router    Router
	Dedup     *Deduplicator
	Budget    *BudgetManager
	Scheduler *Scheduler

	IDGen func() string
	// MaxFallbackAttempts caps the routed chain (primary included).
	MaxFallbackAttempts int
	// BatchConcurrency bounds parallel recipients in SendBatch.
	BatchConcurrency int
}

func New(s Store, q Queue, idGen func() string) *Orchestrator {
	return &Orchestrator{
		Store:               s,
		Queue:               q,
		Router:              Router{},
		Dedup:               NewDeduplicator(s),
		Budget:              &BudgetManager{Store: s},
		Scheduler:           &Scheduler{Store: s},
		IDGen:               idGen,
		MaxFallbackAttempts: 3,
		BatchConcurrency:    8,
	}
}

func blocked(gate string, detail any) domain.SendResponse {
	observability.Blocked.WithLabelValues(gate).Inc()
	return domain.SendResponse{Status: domain.OutcomeBlocked, Reason: gate, Detail: detail}
}

// SendOutreach runs one decision pipeline. forceSend skips the dedup,
// frequency, budget and daily-limit gates but still routes and schedules; it
// is an explicit operator override, never a default.
func (o *Orchestrator) SendOutreach(ctx context.Context, campaign *domain.Campaign, recipientID string, profile domain.RecipientProfile, content map[domain.Channel]string, forceSend bool, now time.Time) (domain.SendResponse, error) {
	// Concurrent batch pipelines share one campaign; all reads go through a
	// locked snapshot so RecordSpend mirrors from sibling sends never race.
	snap := o.Budget.Snapshot(campaign)

	if !snap.InWindow(now) {
		return blocked(GateCampaignWindow, nil), nil
	}

	// Gate 1: recency + frequency caps.
	if !forceSend {
		recency, err := o.Dedup.CheckRecent(ctx, snap.TenantID, recipientID, snap.ID, nil, now)
		if err != nil {
			return domain.SendResponse{Status: domain.OutcomeFailed, Reason: "dedup_check_failed"}, err
		}
		if recency.IsDuplicate {
			return blocked(GateDuplicate, recency), nil
		}

		freq, err := o.Dedup.CheckFrequencyCap(ctx, snap.TenantID, recipientID, now)
		if err != nil {
			return domain.SendResponse{Status: domain.OutcomeFailed, Reason: "frequency_check_failed"}, err
		}
		if !freq.CanSend {
			return blocked(GateFrequencyCap, freq), nil
		}
	}

	// Gate 2: routing.
	route, err := o.Router.RouteWithFallback(snap, profile, now, o.MaxFallbackAttempts)
	if err != nil {
		if errors.Is(err, ErrNoViableChannel) {
			return blocked(GateNoViable, nil), nil
		}
		return domain.SendResponse{Status: domain.OutcomeFailed, Reason: "routing_failed"}, err
	}
	channel := route.Primary
	estimatedCost := ChannelCost(channel)

	// Gate 3: budget ceilings, then daily pacing.
	if !forceSend {
		budgetCheck := o.Budget.CheckAvailable(snap, channel, estimatedCost)
		if !budgetCheck.CanSend {
			return blocked(GateBudget, budgetCheck), nil
		}

		dailySpend, err := o.Budget.CheckDailySpend(ctx, snap, channel, now)
		if err != nil {
			return domain.SendResponse{Status: domain.OutcomeFailed, Reason: "daily_spend_check_failed"}, err
		}
		if !dailySpend.CanSend {
			return blocked(GateDailyBudget, dailySpend), nil
		}
	}

	// Gate 4: campaign daily message cap.
	if !forceSend {
		limitCheck, err := o.Scheduler.CheckDailyLimit(ctx, snap, recipientID, now)
		if err != nil {
			return domain.SendResponse{Status: domain.OutcomeFailed, Reason: "daily_limit_check_failed"}, err
		}
		if !limitCheck.CanSend {
			return blocked(GateDailyLimit, limitCheck), nil
		}
	}

	// Send-time computation.
	sendAt := o.Scheduler.OptimalSendTime(snap, profile, channel, now)

	body, ok := content[channel]
	if !ok || body == "" {
		return domain.SendResponse{Status: domain.OutcomeFailed, Reason: "missing_content", Channel: channel}, nil
	}

	// Message record creation. The unique dedup key converts a concurrent
	// duplicate into a rejected insert instead of a double-send.
	messageID := o.IDGen()
	status := domain.StatusPending
	if sendAt.After(now) {
		status = domain.StatusScheduled
	}
	insert := store.MessageInsert{
		ID:          messageID,
		TenantID:    snap.TenantID,
		CampaignID:  snap.ID,
		RecipientID: recipientID,
		Channel:     channel,
		Contact:     profile.ContactFor(channel),
		Content:     body,
		Status:      status,
		ScheduledAt: sendAt,
		DedupKey:    o.Dedup.Key(snap.TenantID, recipientID, snap.ID, channel, now),
		IsPrimary:   true,
		Now:         now,
	}
	if err := o.Store.InsertMessage(ctx, insert); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return blocked(GateDuplicateKey, nil), nil
		}
		return domain.SendResponse{Status: domain.OutcomeFailed, Reason: "persistence_failed"}, err
	}

	// Spend recording: the only budget mutation, applied exactly once and
	// only after the message row is durable.
	if snap.BudgetTotal > 0 {
		if err := o.Budget.RecordSpend(ctx, campaign, channel, estimatedCost); err != nil {
			return domain.SendResponse{Status: domain.OutcomeFailed, Reason: "spend_recording_failed", MessageID: messageID}, err
		}
	}

	if o.Queue != nil {
		if err := o.Queue.EnqueueDispatch(ctx, snap.TenantID, messageID, channel, sendAt); err != nil {
			observability.Enqueues.WithLabelValues("error").Inc()
			_ = o.Store.MarkMessageState(ctx, store.MessageStateUpdate{
				ID: messageID, Status: domain.StatusFailed, LastError: "enqueue_failed", Now: now,
			})
			return domain.SendResponse{Status: domain.OutcomeFailed, Reason: "enqueue_failed", MessageID: messageID}, err
		}
		observability.Enqueues.WithLabelValues("ok").Inc()
	}

	observability.Scheduled.WithLabelValues(channel.String()).Inc()

	outcome := domain.OutcomeQueued
	if sendAt.After(now) {
		outcome = domain.OutcomeScheduled
	}
	return domain.SendResponse{
		Status:           outcome,
		MessageID:        messageID,
		Channel:          channel,
		ScheduledAt:      &sendAt,
		FallbackChannels: route.Fallbacks,
		RoutingReason:    string(route.Reason),
	}, nil
}

// SendBatch runs the pipeline per recipient with bounded parallelism. One
// recipient's failure never aborts the batch; results carry the input index
// because completion order is not input order.
func (o *Orchestrator) SendBatch(ctx context.Context, campaign *domain.Campaign, recipients []domain.BatchRecipient, templates map[domain.Channel]string, now time.Time) domain.SendBatchResponse {
	workers := o.BatchConcurrency
	if workers <= 0 {
		workers = 1
	}

	results := make([]domain.BatchRecipientResult, len(recipients))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, r := range recipients {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, r domain.BatchRecipient) {
			defer wg.Done()
			defer func() { <-sem }()

			resp, err := o.SendOutreach(ctx, campaign, r.RecipientID, r.Profile, renderContent(templates, r), false, now)
			res := domain.BatchRecipientResult{
				Index:       i,
				RecipientID: r.RecipientID,
				Status:      resp.Status,
				Channel:     resp.Channel,
				Reason:      resp.Reason,
			}
			if err != nil && res.Reason == "" {
				res.Reason = err.Error()
			}
			results[i] = res
		}(i, r)
	}
	wg.Wait()

	out := domain.SendBatchResponse{Total: len(recipients), Details: results}
	for _, r := range results {
		switch r.Status {
		case domain.OutcomeScheduled, domain.OutcomeQueued:
			out.Scheduled++
		case domain.OutcomeBlocked:
			out.Blocked++
		default:
			out.Failed++
		}
	}
	return out
}

// renderContent personalizes the shared channel templates for one recipient.
func renderContent(templates map[domain.Channel]string, r domain.BatchRecipient) map[domain.Channel]string {
	vars := map[string]string{
		"name":        r.Profile.Name,
		"recipientId": r.RecipientID,
	}
	out := make(map[domain.Channel]string, len(templates))
	for c, body := range templates {
		out[c] = util.RenderTemplate(body, vars)
	}
	return out
}

// Status is the operator view of a campaign's orchestration state.
type Status struct {
	CampaignID      string                       `json:"campaignId"`
	Budget          BudgetStatus                 `json:"budget"`
	DailyLimit      DailyLimitCheck              `json:"dailyLimit"`
	Pacing          PacingRecommendation         `json:"pacing"`
	MessagesByState map[domain.MessageStatus]int `json:"messagesByState"`
}

type BudgetStatus struct {
	Total          float64                                 `json:"total"`
	Spent          float64                                 `json:"spent"`
	Remaining      float64                                 `json:"remaining"`
	UtilizationPct float64                                 `json:"utilizationPct"`
	PerChannel     map[domain.Channel]domain.ChannelBudget `json:"perChannel,omitempty"`
}

var ErrCampaignNotFound = errors.New("campaign not found")

func (o *Orchestrator) OrchestrationStatus(ctx context.Context, campaignID string, now time.Time) (Status, error) {
	campaign, found, err := o.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return Status{}, err
	}
	if !found {
		return Status{}, ErrCampaignNotFound
	}

	limitCheck, err := o.Scheduler.CheckDailyLimit(ctx, campaign, "", now)
	if err != nil {
		return Status{}, err
	}

	counts, err := o.Store.CountMessagesByStatus(ctx, campaignID)
	if err != nil {
		return Status{}, err
	}

	budget := BudgetStatus{
		Total:      campaign.BudgetTotal,
		Spent:      campaign.BudgetSpent,
		Remaining:  campaign.BudgetTotal - campaign.BudgetSpent,
		PerChannel: campaign.BudgetPerChannel,
	}
	if campaign.BudgetTotal > 0 {
		budget.UtilizationPct = campaign.BudgetSpent / campaign.BudgetTotal * 100
	}

	return Status{
		CampaignID:      campaignID,
		Budget:          budget,
		DailyLimit:      limitCheck,
		Pacing:          o.Budget.Pacing(campaign, now),
		MessagesByState: counts,
	}, nil
}
