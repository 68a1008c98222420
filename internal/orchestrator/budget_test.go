package orchestrator

import (
	"context"
	"testing"
	"time"

	"outreach/internal/domain"
	"outreach/internal/store"
)

type fakeSpendStore struct {
	spends    []float64
	todayMsgs int
}

func (f *fakeSpendStore) RecordSpend(_ context.Context, campaignID string, channel domain.Channel, amount float64) error {
	f.spends = append(f.spends, amount)
	return nil
}

func (f *fakeSpendStore) CountMessages(_ context.Context, q store.CountQuery) (int, error) {
	return f.todayMsgs, nil
}

func intPtr(n int) *int { return &n }

func TestCheckAvailableCampaignCeiling(t *testing.T) {
	b := &BudgetManager{}
	campaign := domain.Campaign{BudgetTotal: 100, BudgetSpent: 99.9995}

	check := b.CheckAvailable(campaign, domain.ChannelEmail, ChannelCost(domain.ChannelEmail))
	if check.CanSend {
		t.Fatalf("expected campaign ceiling to block: %+v", check)
	}
	if check.Reason != "campaign_budget_exceeded" {
		t.Fatalf("unexpected reason %q", check.Reason)
	}

	// Pure read: calling again yields the identical result.
	again := b.CheckAvailable(campaign, domain.ChannelEmail, ChannelCost(domain.ChannelEmail))
	if again != check {
		t.Fatalf("check not idempotent: %+v vs %+v", check, again)
	}
}

func TestCheckAvailableChannelCeiling(t *testing.T) {
	b := &BudgetManager{}
	campaign := domain.Campaign{
		BudgetTotal: 100,
		BudgetSpent: 1,
		BudgetPerChannel: map[domain.Channel]domain.ChannelBudget{
			domain.ChannelWhatsApp: {Total: 0.01, Spent: 0.01},
		},
	}

	check := b.CheckAvailable(campaign, domain.ChannelWhatsApp, ChannelCost(domain.ChannelWhatsApp))
	if check.CanSend {
		t.Fatalf("expected channel ceiling to block: %+v", check)
	}
	if check.Reason != "channel_budget_exceeded" {
		t.Fatalf("unexpected reason %q", check.Reason)
	}
	if check.Channel != domain.ChannelWhatsApp {
		t.Fatalf("blocked check should name the channel: %+v", check)
	}
}

func TestCheckAvailableUnconstrained(t *testing.T) {
	b := &BudgetManager{}
	check := b.CheckAvailable(domain.Campaign{}, domain.ChannelInstagram, 0)
	if !check.CanSend || check.Reason != "budget_available" {
		t.Fatalf("zero budgets should be unconstrained: %+v", check)
	}
}

func TestRecordSpendMirrorsSnapshot(t *testing.T) {
	fs := &fakeSpendStore{}
	b := &BudgetManager{Store: fs}
	campaign := &domain.Campaign{ID: "c1", BudgetTotal: 100}

	if err := b.RecordSpend(context.Background(), campaign, domain.ChannelWhatsApp, 0.005); err != nil {
		t.Fatalf("record spend: %v", err)
	}
	if len(fs.spends) != 1 || fs.spends[0] != 0.005 {
		t.Fatalf("expected one persisted increment, got %v", fs.spends)
	}
	if campaign.BudgetSpent != 0.005 {
		t.Fatalf("snapshot not mirrored: %f", campaign.BudgetSpent)
	}
	if campaign.BudgetPerChannel[domain.ChannelWhatsApp].Spent != 0.005 {
		t.Fatalf("channel snapshot not mirrored: %+v", campaign.BudgetPerChannel)
	}

	// Monotonic: a second spend accumulates, never resets.
	_ = b.RecordSpend(context.Background(), campaign, domain.ChannelWhatsApp, 0.005)
	if campaign.BudgetSpent != 0.01 {
		t.Fatalf("spend not monotonic: %f", campaign.BudgetSpent)
	}
}

func TestDailyBudget(t *testing.T) {
	b := &BudgetManager{}
	now := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	end := now.Add(4*24*time.Hour + time.Hour)
	campaign := domain.Campaign{BudgetTotal: 100, BudgetSpent: 20, EndDate: &end}

	got := b.DailyBudget(campaign, domain.ChannelEmail, now)
	if got != 16 {
		t.Fatalf("expected 80 over 5 days = 16, got %f", got)
	}

	if b.DailyBudget(domain.Campaign{BudgetTotal: 100}, domain.ChannelEmail, now) != 0 {
		t.Fatalf("no end date should yield zero daily budget")
	}
}

func TestCheckDailySpend(t *testing.T) {
	now := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	end := now.Add(time.Hour)
	fs := &fakeSpendStore{todayMsgs: 4}
	b := &BudgetManager{Store: fs}
	campaign := domain.Campaign{ID: "c1", BudgetTotal: 0.02, EndDate: &end}

	check, err := b.CheckDailySpend(context.Background(), campaign, domain.ChannelWhatsApp, now)
	if err != nil {
		t.Fatalf("daily spend: %v", err)
	}
	// 4 messages at 0.005 exhaust the 0.02 daily budget.
	if check.CanSend {
		t.Fatalf("expected daily budget exhausted: %+v", check)
	}
	if check.Reason != "daily_limit_reached" {
		t.Fatalf("unexpected reason %q", check.Reason)
	}
	if check.MessagesSentToday != 4 {
		t.Fatalf("unexpected count %d", check.MessagesSentToday)
	}
}

func TestPacingRecommendations(t *testing.T) {
	b := &BudgetManager{}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(10 * 24 * time.Hour)
	now := start.Add(5 * 24 * time.Hour) // halfway: ideal 0.50

	overspent := domain.Campaign{BudgetTotal: 100, BudgetSpent: 70, StartDate: start, EndDate: &end, DailyLimit: intPtr(100)}
	rec := b.Pacing(overspent, now)
	if rec.Recommendation != PaceReduce {
		t.Fatalf("70%% spent at halfway should reduce: %+v", rec)
	}
	if rec.SuggestedDailyMessages != 70 {
		t.Fatalf("expected 100*0.7=70, got %d", rec.SuggestedDailyMessages)
	}

	underspent := domain.Campaign{BudgetTotal: 100, BudgetSpent: 20, StartDate: start, EndDate: &end}
	rec = b.Pacing(underspent, now)
	if rec.Recommendation != PaceIncrease {
		t.Fatalf("20%% spent at halfway should increase: %+v", rec)
	}
	if rec.SuggestedDailyMessages != 200 {
		t.Fatalf("expected fallback 200 without a daily limit, got %d", rec.SuggestedDailyMessages)
	}

	onTrack := domain.Campaign{BudgetTotal: 100, BudgetSpent: 52, StartDate: start, EndDate: &end, DailyLimit: intPtr(40)}
	rec = b.Pacing(onTrack, now)
	if rec.Recommendation != PaceMaintain {
		t.Fatalf("52%% spent at halfway is within band: %+v", rec)
	}
	if rec.SuggestedDailyMessages != 40 {
		t.Fatalf("maintain should keep the configured limit, got %d", rec.SuggestedDailyMessages)
	}

	rec = b.Pacing(domain.Campaign{}, now)
	if rec.Recommendation != "no_budget_constraints" {
		t.Fatalf("no budget should short-circuit: %+v", rec)
	}
}
