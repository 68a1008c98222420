package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"outreach/internal/domain"
	"outreach/internal/store"
)

// memStore is an in-memory Store with the same filtering semantics as the
// postgres implementation, including dedup key uniqueness.
type memStore struct {
	mu        sync.Mutex
	messages  []store.Message
	dedupKeys map[string]bool
	spend     map[string]float64
	campaigns map[string]domain.Campaign

	insertErr error
	spendErr  error
}

func newMemStore() *memStore {
	return &memStore{
		dedupKeys: map[string]bool{},
		spend:     map[string]float64{},
		campaigns: map[string]domain.Campaign{},
	}
}

func (m *memStore) RecentMessages(_ context.Context, q store.RecentQuery) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Message
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.TenantID != q.TenantID || msg.RecipientID != q.RecipientID {
			continue
		}
		if msg.Status.IsTerminalFailure() {
			continue
		}
		if q.CampaignID != "" && msg.CampaignID != q.CampaignID {
			continue
		}
		if len(q.Channels) > 0 && !contains(q.Channels, msg.Channel) {
			continue
		}
		if msg.CreatedAt.Before(q.Since) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *memStore) CountMessages(_ context.Context, q store.CountQuery) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.Status.IsTerminalFailure() {
			continue
		}
		if q.TenantID != "" && msg.TenantID != q.TenantID {
			continue
		}
		if q.CampaignID != "" && msg.CampaignID != q.CampaignID {
			continue
		}
		if q.RecipientID != "" && msg.RecipientID != q.RecipientID {
			continue
		}
		if q.Channel != "" && msg.Channel != q.Channel {
			continue
		}
		if !q.Since.IsZero() && msg.CreatedAt.Before(q.Since) {
			continue
		}
		n++
	}
	return n, nil
}

func (m *memStore) CountMessagesByStatus(_ context.Context, campaignID string) (map[domain.MessageStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[domain.MessageStatus]int{}
	for _, msg := range m.messages {
		if msg.CampaignID == campaignID {
			out[msg.Status]++
		}
	}
	return out, nil
}

func (m *memStore) InsertMessage(_ context.Context, in store.MessageInsert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if m.dedupKeys[in.DedupKey] {
		return store.ErrDuplicateKey
	}
	m.dedupKeys[in.DedupKey] = true
	m.messages = append(m.messages, store.Message{
		ID:          in.ID,
		TenantID:    in.TenantID,
		CampaignID:  in.CampaignID,
		RecipientID: in.RecipientID,
		Channel:     in.Channel,
		Contact:     in.Contact,
		Content:     in.Content,
		Status:      in.Status,
		ScheduledAt: in.ScheduledAt,
		DedupKey:    in.DedupKey,
		CreatedAt:   in.Now,
	})
	return nil
}

func (m *memStore) MarkMessageState(_ context.Context, in store.MessageStateUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == in.ID {
			m.messages[i].Status = in.Status
			m.messages[i].LastError = in.LastError
		}
	}
	return nil
}

func (m *memStore) RecordSpend(_ context.Context, campaignID string, channel domain.Channel, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spendErr != nil {
		return m.spendErr
	}
	m.spend[campaignID] += amount
	return nil
}

func (m *memStore) GetCampaign(_ context.Context, id string) (domain.Campaign, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	return c, ok, nil
}

type memQueue struct {
	mu       sync.Mutex
	enqueued []string
	err      error
}

func (q *memQueue) EnqueueDispatch(_ context.Context, tenantID, messageID string, channel domain.Channel, sendAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, messageID)
	return nil
}

func seqIDs() func() string {
	n := 0
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "msg_" + string(rune('a'+n-1))
	}
}

func testCampaign() *domain.Campaign {
	return &domain.Campaign{
		ID:          "c1",
		TenantID:    "t1",
		Name:        "spring launch",
		Channels:    []domain.Channel{domain.ChannelEmail, domain.ChannelInstagram},
		BudgetTotal: 100,
		StartDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testContent() map[domain.Channel]string {
	return map[domain.Channel]string{
		domain.ChannelEmail:     "hello by email",
		domain.ChannelInstagram: "hello on instagram",
	}
}

var pipelineNow = time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)

func TestSendOutreachHappyPath(t *testing.T) {
	st := newMemStore()
	q := &memQueue{}
	o := New(st, q, seqIDs())

	profile := reachableProfile(domain.ChannelEmail, domain.ChannelInstagram)
	resp, err := o.SendOutreach(context.Background(), testCampaign(), "r1", profile, testContent(), false, pipelineNow)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Status != domain.OutcomeQueued && resp.Status != domain.OutcomeScheduled {
		t.Fatalf("unexpected status %s (%s)", resp.Status, resp.Reason)
	}
	if resp.MessageID == "" || resp.Channel == "" {
		t.Fatalf("response missing identifiers: %+v", resp)
	}
	if len(st.messages) != 1 {
		t.Fatalf("expected one message row, got %d", len(st.messages))
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != resp.MessageID {
		t.Fatalf("expected enqueue of %s, got %v", resp.MessageID, q.enqueued)
	}
	// Zero-cost channel on an in-budget campaign still records its cost.
	if st.spend["c1"] != ChannelCost(resp.Channel) {
		t.Fatalf("expected spend %f, got %f", ChannelCost(resp.Channel), st.spend["c1"])
	}
}

func TestSendOutreachBlockedByRecency(t *testing.T) {
	st := newMemStore()
	o := New(st, &memQueue{}, seqIDs())
	profile := reachableProfile(domain.ChannelEmail, domain.ChannelInstagram)

	first, err := o.SendOutreach(context.Background(), testCampaign(), "r1", profile, testContent(), false, pipelineNow)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	if first.Status == domain.OutcomeBlocked {
		t.Fatalf("first send should pass, got %s", first.Reason)
	}

	second, err := o.SendOutreach(context.Background(), testCampaign(), "r1", profile, testContent(), false, pipelineNow.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if second.Status != domain.OutcomeBlocked || second.Reason != GateDuplicate {
		t.Fatalf("second send inside lookback should block on recency, got %s/%s", second.Status, second.Reason)
	}
	if len(st.messages) != 1 {
		t.Fatalf("blocked send must not create a row, have %d", len(st.messages))
	}

	// Outside the lookback window, sending resumes.
	third, err := o.SendOutreach(context.Background(), testCampaign(), "r1", profile, testContent(), false, pipelineNow.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("third send: %v", err)
	}
	if third.Status == domain.OutcomeBlocked {
		t.Fatalf("send after lookback should pass, got %s", third.Reason)
	}
}

func TestSendOutreachBlockedByBudget(t *testing.T) {
	st := newMemStore()
	o := New(st, &memQueue{}, seqIDs())
	campaign := testCampaign()
	campaign.BudgetTotal = 50
	campaign.BudgetSpent = 50

	profile := reachableProfile(domain.ChannelEmail)
	resp, err := o.SendOutreach(context.Background(), campaign, "r1", profile, testContent(), false, pipelineNow)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Status != domain.OutcomeBlocked || resp.Reason != GateBudget {
		t.Fatalf("expected budget block, got %s/%s", resp.Status, resp.Reason)
	}
	detail, ok := resp.Detail.(BudgetCheck)
	if !ok {
		t.Fatalf("budget block should carry the check detail: %#v", resp.Detail)
	}
	if detail.Reason != "campaign_budget_exceeded" {
		t.Fatalf("unexpected detail reason %q", detail.Reason)
	}
	if st.spend["c1"] != 0 {
		t.Fatalf("blocked send must not record spend")
	}
}

func TestSendOutreachNoViableChannelBlocks(t *testing.T) {
	st := newMemStore()
	o := New(st, &memQueue{}, seqIDs())

	resp, err := o.SendOutreach(context.Background(), testCampaign(), "r1", domain.RecipientProfile{}, testContent(), false, pipelineNow)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Status != domain.OutcomeBlocked || resp.Reason != GateNoViable {
		t.Fatalf("unreachable recipient should block, got %s/%s", resp.Status, resp.Reason)
	}
}

func TestSendOutreachCampaignWindow(t *testing.T) {
	st := newMemStore()
	o := New(st, &memQueue{}, seqIDs())
	campaign := testCampaign()
	end := pipelineNow.Add(-time.Hour)
	campaign.EndDate = &end

	profile := reachableProfile(domain.ChannelEmail)
	resp, err := o.SendOutreach(context.Background(), campaign, "r1", profile, testContent(), false, pipelineNow)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Status != domain.OutcomeBlocked || resp.Reason != GateCampaignWindow {
		t.Fatalf("ended campaign should block, got %s/%s", resp.Status, resp.Reason)
	}
}

func TestSendOutreachForceSendSkipsGates(t *testing.T) {
	st := newMemStore()
	o := New(st, &memQueue{}, seqIDs())
	campaign := testCampaign()
	campaign.BudgetTotal = 50
	campaign.BudgetSpent = 50 // would block the budget gate

	profile := reachableProfile(domain.ChannelEmail)

	first, err := o.SendOutreach(context.Background(), campaign, "r1", profile, testContent(), true, pipelineNow)
	if err != nil {
		t.Fatalf("force send: %v", err)
	}
	if first.Status == domain.OutcomeBlocked {
		t.Fatalf("force send should skip budget gate, got %s", first.Reason)
	}

	// A second force send the same day still trips the dedup key backstop.
	second, err := o.SendOutreach(context.Background(), campaign, "r1", profile, testContent(), true, pipelineNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("second force send: %v", err)
	}
	if second.Status != domain.OutcomeBlocked || second.Reason != GateDuplicateKey {
		t.Fatalf("expected duplicate key backstop, got %s/%s", second.Status, second.Reason)
	}
}

func TestSendOutreachMissingContent(t *testing.T) {
	st := newMemStore()
	o := New(st, &memQueue{}, seqIDs())
	campaign := testCampaign()
	campaign.Channels = []domain.Channel{domain.ChannelInstagram}

	profile := reachableProfile(domain.ChannelInstagram)
	content := map[domain.Channel]string{domain.ChannelEmail: "wrong channel only"}

	resp, err := o.SendOutreach(context.Background(), campaign, "r1", profile, content, false, pipelineNow)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Status != domain.OutcomeFailed || resp.Reason != "missing_content" {
		t.Fatalf("expected missing_content failure, got %s/%s", resp.Status, resp.Reason)
	}
}

func TestSendOutreachEnqueueFailureMarksFailed(t *testing.T) {
	st := newMemStore()
	q := &memQueue{err: errors.New("sqs down")}
	o := New(st, q, seqIDs())

	profile := reachableProfile(domain.ChannelEmail)
	resp, err := o.SendOutreach(context.Background(), testCampaign(), "r1", profile, testContent(), false, pipelineNow)
	if err == nil {
		t.Fatalf("expected enqueue error to surface")
	}
	if resp.Status != domain.OutcomeFailed || resp.Reason != "enqueue_failed" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(st.messages) != 1 || st.messages[0].Status != domain.StatusFailed {
		t.Fatalf("message should be marked failed, got %+v", st.messages)
	}
}

func TestSendBatchAggregatesAndIsolates(t *testing.T) {
	st := newMemStore()
	o := New(st, &memQueue{}, seqIDs())
	campaign := testCampaign()

	recipients := []domain.BatchRecipient{
		{RecipientID: "r1", Profile: reachableProfile(domain.ChannelEmail)},
		{RecipientID: "r2", Profile: domain.RecipientProfile{}}, // unreachable
		{RecipientID: "r3", Profile: reachableProfile(domain.ChannelInstagram)},
	}

	resp := o.SendBatch(context.Background(), campaign, recipients, testContent(), pipelineNow)
	if resp.Total != 3 {
		t.Fatalf("expected total 3, got %d", resp.Total)
	}
	if resp.Scheduled != 2 || resp.Blocked != 1 || resp.Failed != 0 {
		t.Fatalf("unexpected aggregation: %+v", resp)
	}
	if len(resp.Details) != 3 {
		t.Fatalf("expected a detail per recipient")
	}
	for i, d := range resp.Details {
		if d.Index != i {
			t.Fatalf("detail %d carries index %d", i, d.Index)
		}
		if d.RecipientID != recipients[i].RecipientID {
			t.Fatalf("detail order does not match input: %+v", resp.Details)
		}
	}
	if resp.Details[1].Reason != GateNoViable {
		t.Fatalf("unreachable recipient should report %s, got %q", GateNoViable, resp.Details[1].Reason)
	}
}

// Exercises many parallel pipelines against one budgeted campaign; run with
// -race. Every send must land in both the persisted ledger and the in-memory
// mirror with no lost increments.
func TestSendBatchConcurrentSpend(t *testing.T) {
	st := newMemStore()
	o := New(st, &memQueue{}, seqIDs())
	o.BatchConcurrency = 8

	campaign := testCampaign()
	campaign.BudgetTotal = 1000
	end := pipelineNow.Add(24 * time.Hour)
	campaign.EndDate = &end
	campaign.BudgetPerChannel = map[domain.Channel]domain.ChannelBudget{
		domain.ChannelEmail: {Total: 500},
	}

	recipients := make([]domain.BatchRecipient, 64)
	for i := range recipients {
		recipients[i] = domain.BatchRecipient{
			RecipientID: fmt.Sprintf("r%02d", i),
			Profile:     reachableProfile(domain.ChannelEmail),
		}
	}

	resp := o.SendBatch(context.Background(), campaign, recipients, testContent(), pipelineNow)
	if resp.Scheduled != len(recipients) || resp.Blocked != 0 || resp.Failed != 0 {
		t.Fatalf("unexpected aggregation: %+v", resp)
	}

	want := float64(len(recipients)) * ChannelCost(domain.ChannelEmail)
	if got := st.spend["c1"]; math.Abs(got-want) > 1e-9 {
		t.Fatalf("persisted spend %f, want %f", got, want)
	}
	if math.Abs(campaign.BudgetSpent-want) > 1e-9 {
		t.Fatalf("mirrored campaign spend %f, want %f", campaign.BudgetSpent, want)
	}
	if got := campaign.BudgetPerChannel[domain.ChannelEmail].Spent; math.Abs(got-want) > 1e-9 {
		t.Fatalf("mirrored channel spend %f, want %f", got, want)
	}
}

func TestOrchestrationStatus(t *testing.T) {
	st := newMemStore()
	limit := 10
	end := pipelineNow.Add(5 * 24 * time.Hour)
	st.campaigns["c1"] = domain.Campaign{
		ID: "c1", TenantID: "t1",
		BudgetTotal: 200, BudgetSpent: 50,
		StartDate: pipelineNow.Add(-5 * 24 * time.Hour), EndDate: &end,
		DailyLimit: &limit,
	}
	st.messages = []store.Message{
		{CampaignID: "c1", Status: domain.StatusSent, CreatedAt: pipelineNow},
		{CampaignID: "c1", Status: domain.StatusSent, CreatedAt: pipelineNow},
		{CampaignID: "c1", Status: domain.StatusScheduled, CreatedAt: pipelineNow},
	}
	o := New(st, nil, seqIDs())

	status, err := o.OrchestrationStatus(context.Background(), "c1", pipelineNow)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Budget.Remaining != 150 || status.Budget.UtilizationPct != 25 {
		t.Fatalf("unexpected budget status %+v", status.Budget)
	}
	if status.MessagesByState[domain.StatusSent] != 2 || status.MessagesByState[domain.StatusScheduled] != 1 {
		t.Fatalf("unexpected state counts %v", status.MessagesByState)
	}
	if status.DailyLimit.MessagesSentToday != 3 {
		t.Fatalf("unexpected daily count %+v", status.DailyLimit)
	}

	if _, err := o.OrchestrationStatus(context.Background(), "missing", pipelineNow); !errors.Is(err, ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}
}
