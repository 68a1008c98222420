package pg

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreach/internal/domain"
	"outreach/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, tenant_id, COALESCE(name,''), channels, channel_priority,
		       COALESCE(budget_total,0), COALESCE(budget_spent,0), budget_per_channel,
		       daily_limit, start_date, end_date, send_time_optimization, optimal_send_times
		FROM outreach_campaigns WHERE id=$1
	`, id)

	var c domain.Campaign
	var channelsJSON, priorityJSON, perChannelJSON, optimalJSON []byte
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &channelsJSON, &priorityJSON,
		&c.BudgetTotal, &c.BudgetSpent, &perChannelJSON,
		&c.DailyLimit, &c.StartDate, &c.EndDate, &c.SendTimeOptimization, &optimalJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Campaign{}, false, nil
		}
		return domain.Campaign{}, false, err
	}

	if err := json.Unmarshal(channelsJSON, &c.Channels); err != nil {
		return domain.Campaign{}, false, err
	}
	if len(priorityJSON) > 0 {
		_ = json.Unmarshal(priorityJSON, &c.ChannelPriority)
	}
	if len(perChannelJSON) > 0 {
		_ = json.Unmarshal(perChannelJSON, &c.BudgetPerChannel)
	}
	if len(optimalJSON) > 0 {
		_ = json.Unmarshal(optimalJSON, &c.OptimalSendTimes)
	}
	return c, true, nil
}

func (s *Store) RecentMessages(ctx context.Context, q store.RecentQuery) ([]store.Message, error) {
	sql := `
		SELECT id, tenant_id, campaign_id, recipient_id, channel, status,
		       scheduled_at, sent_at, created_at
		FROM outreach_messages
		WHERE tenant_id=$1 AND recipient_id=$2 AND created_at>=$3
		  AND status NOT IN ('failed','bounced')`
	args := []any{q.TenantID, q.RecipientID, q.Since}

	if q.CampaignID != "" {
		args = append(args, q.CampaignID)
		sql += ` AND campaign_id=$4`
	}
	if len(q.Channels) > 0 {
		names := make([]string, len(q.Channels))
		for i, c := range q.Channels {
			names[i] = c.String()
		}
		args = append(args, names)
		sql += ` AND channel = ANY($` + itoa(len(args)) + `)`
	}
	sql += ` ORDER BY created_at DESC`

	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.CampaignID, &m.RecipientID,
			&m.Channel, &m.Status, &m.ScheduledAt, &m.SentAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CountMessages(ctx context.Context, q store.CountQuery) (int, error) {
	sql := `SELECT COUNT(*) FROM outreach_messages WHERE status NOT IN ('failed','bounced')`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		sql += ` AND ` + clause + `$` + itoa(len(args))
	}
	if q.TenantID != "" {
		add("tenant_id=", q.TenantID)
	}
	if q.CampaignID != "" {
		add("campaign_id=", q.CampaignID)
	}
	if q.RecipientID != "" {
		add("recipient_id=", q.RecipientID)
	}
	if q.Channel != "" {
		add("channel=", q.Channel.String())
	}
	if !q.Since.IsZero() {
		add("created_at>=", q.Since)
	}

	var n int
	if err := s.DB.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) CountMessagesByStatus(ctx context.Context, campaignID string) (map[domain.MessageStatus]int, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT status, COUNT(*) FROM outreach_messages WHERE campaign_id=$1 GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[domain.MessageStatus]int{}
	for rows.Next() {
		var st domain.MessageStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

func (s *Store) InsertMessage(ctx context.Context, in store.MessageInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO outreach_messages
		  (id, tenant_id, campaign_id, recipient_id, channel, contact, content,
		   status, scheduled_at, dedup_key, is_primary, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
	`, in.ID, in.TenantID, in.CampaignID, in.RecipientID, in.Channel.String(),
		nullIfEmpty(in.Contact), in.Content, string(in.Status), in.ScheduledAt,
		in.DedupKey, in.IsPrimary, in.Now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return store.ErrDuplicateKey
		}
		return err
	}
	return nil
}

// RecordSpend applies both the campaign-level and the per-channel increment
// in one statement, so concurrent recorders never lose updates.
func (s *Store) RecordSpend(ctx context.Context, campaignID string, channel domain.Channel, amount float64) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE outreach_campaigns
		SET budget_spent = COALESCE(budget_spent,0) + $2,
		    budget_per_channel = jsonb_set(
		        COALESCE(budget_per_channel, '{}'::jsonb),
		        ARRAY[$3::text],
		        jsonb_build_object(
		            'total', COALESCE((budget_per_channel->$3->>'total')::float8, 0),
		            'spent', COALESCE((budget_per_channel->$3->>'spent')::float8, 0) + $2
		        ),
		        true),
		    updated_at = now()
		WHERE id=$1
	`, campaignID, amount, channel.String())
	return err
}

func (s *Store) MarkMessageState(ctx context.Context, in store.MessageStateUpdate) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE outreach_messages SET status=$2, last_error=$3, updated_at=$4 WHERE id=$1
	`, in.ID, string(in.Status), nullIfEmpty(in.LastError), in.Now)
	return err
}

func (s *Store) SetProviderDetails(ctx context.Context, in store.ProviderDetailsUpdate) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE outreach_messages
		SET provider=$2, provider_msg_id=$3, status=$4, sent_at=$5, updated_at=$5
		WHERE id=$1
	`, in.ID, in.Provider, in.ProviderMsgID, string(in.Status), in.Now)
	return err
}

func (s *Store) GetMessage(ctx context.Context, id string) (store.Message, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, tenant_id, campaign_id, recipient_id, channel,
		       COALESCE(contact,''), content, status, scheduled_at, dedup_key,
		       is_primary, COALESCE(fallback_from,''), COALESCE(provider,''),
		       COALESCE(provider_msg_id,''), COALESCE(last_error,''),
		       sent_at, created_at, updated_at
		FROM outreach_messages WHERE id=$1
	`, id)

	var m store.Message
	err := row.Scan(&m.ID, &m.TenantID, &m.CampaignID, &m.RecipientID, &m.Channel,
		&m.Contact, &m.Content, &m.Status, &m.ScheduledAt, &m.DedupKey,
		&m.IsPrimary, &m.FallbackFrom, &m.Provider, &m.ProviderMsgID, &m.LastError,
		&m.SentAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Message{}, false, nil
		}
		return store.Message{}, false, err
	}
	return m, true, nil
}

// ClaimMessage moves a due message into sending state. Stale sending claims
// can be retaken so a crashed dispatcher does not strand messages.
func (s *Store) ClaimMessage(ctx context.Context, id string, now time.Time, staleAfter time.Duration) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE outreach_messages
		SET status='sending', updated_at=$2
		WHERE id=$1 AND (status IN ('pending','scheduled')
		   OR (status='sending' AND updated_at < $3))
	`, id, now, now.Add(-staleAfter))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) InsertAttempt(ctx context.Context, in store.ProviderAttempt) error {
	reqB, _ := json.Marshal(in.RequestJSON)
	respB, _ := json.Marshal(in.ResponseJSON)
	_, err := s.DB.Exec(ctx, `
		INSERT INTO provider_attempts
		  (message_id, provider, provider_msg_id, http_status, error_code, error_msg, request_json, response_json)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, in.MessageID, in.Provider, nullIfEmpty(in.ProviderMsgID), in.HTTPStatus,
		nullIfEmpty(in.ErrorCode), nullIfEmpty(in.ErrorMsg), reqB, respB)
	return err
}

func (s *Store) InsertDeliveryEvent(ctx context.Context, in store.DeliveryEvent) error {
	b, _ := json.Marshal(in.Payload)
	_, err := s.DB.Exec(ctx, `
		INSERT INTO delivery_events (provider, provider_msg_id, vendor_status, error_code, payload_json, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, in.Provider, in.ProviderMsgID, in.VendorStatus, nullIfEmpty(in.ErrorCode), b, in.OccurredAt)
	return err
}

func (s *Store) UpdateMessageByProviderMsgID(ctx context.Context, in store.ProviderMsgUpdate) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE outreach_messages
		SET status=$3, last_error=$4, updated_at=$5
		WHERE provider=$1 AND provider_msg_id=$2
	`, in.Provider, in.ProviderMsgID, string(in.NewStatus), nullIfEmpty(in.LastError), in.Now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func itoa(n int) string { return strconv.Itoa(n) }
