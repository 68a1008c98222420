package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"outreach/internal/domain"
	"outreach/internal/observability"
	"outreach/internal/store"
	"outreach/internal/util"
)

type WebhookStore interface {
	InsertDeliveryEvent(ctx context.Context, in store.DeliveryEvent) error
	UpdateMessageByProviderMsgID(ctx context.Context, in store.ProviderMsgUpdate) (bool, error)
}

// Webhook ingests provider delivery callbacks. All providers post the same
// envelope through a signing proxy, so one handler covers sendgrid, twilio
// and the social gateway.
type Webhook struct {
	Store  WebhookStore
	Secret string
}

type deliveryEnvelope struct {
	ProviderMsgID string `json:"providerMessageId"`
	Event         string `json:"event"`
	ErrorCode     string `json:"errorCode"`
	OccurredAt    string `json:"occurredAt"`
}

func (wh *Webhook) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/webhooks/{provider}", wh.handleDeliveryEvent).Methods(http.MethodPost)
}

// eventStatus maps vendor event names onto message states. Unknown events
// are recorded but do not transition the message.
func eventStatus(event string) (domain.MessageStatus, bool) {
	switch event {
	case "delivered":
		return domain.StatusDelivered, true
	case "open", "opened":
		return domain.StatusOpened, true
	case "click", "clicked":
		return domain.StatusClicked, true
	case "reply", "replied":
		return domain.StatusReplied, true
	case "bounce", "bounced":
		return domain.StatusBounced, true
	case "failed", "dropped", "undelivered":
		return domain.StatusFailed, true
	case "unsubscribe", "unsubscribed":
		return domain.StatusUnsubscribed, true
	}
	return "", false
}

func (wh *Webhook) handleDeliveryEvent(rw http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, ErrBadForm, http.StatusBadRequest)
		return
	}
	if !verifySignature(wh.Secret, body, r.Header.Get("X-Webhook-Signature")) {
		http.Error(rw, ErrInvalidSignature, http.StatusUnauthorized)
		return
	}

	var ev deliveryEnvelope
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(rw, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if ev.ProviderMsgID == "" || ev.Event == "" {
		http.Error(rw, ErrMissingID, http.StatusBadRequest)
		return
	}

	observability.WebhookEvents.WithLabelValues(provider, ev.Event).Inc()

	var occurredAt *time.Time
	if ev.OccurredAt != "" {
		if t, err := time.Parse(time.RFC3339, ev.OccurredAt); err == nil {
			occurredAt = &t
		}
	}

	var payload any
	_ = json.Unmarshal(body, &payload)

	if err := wh.Store.InsertDeliveryEvent(r.Context(), store.DeliveryEvent{
		Provider:      provider,
		ProviderMsgID: ev.ProviderMsgID,
		VendorStatus:  ev.Event,
		ErrorCode:     ev.ErrorCode,
		Payload:       payload,
		OccurredAt:    occurredAt,
	}); err != nil {
		slog.Error("webhook insert delivery event failed", "err", err, "provider", provider, "provider_msg_id", ev.ProviderMsgID, "event", ev.Event)
		http.Error(rw, ErrDependency, http.StatusInternalServerError)
		return
	}

	newStatus, ok := eventStatus(ev.Event)
	if !ok {
		rw.WriteHeader(http.StatusOK)
		return
	}

	if _, err := wh.Store.UpdateMessageByProviderMsgID(r.Context(), store.ProviderMsgUpdate{
		Provider:      provider,
		ProviderMsgID: ev.ProviderMsgID,
		NewStatus:     newStatus,
		LastError:     ev.ErrorCode,
		Now:           util.NowUTC(),
	}); err != nil {
		slog.Error("webhook update message failed", "err", err, "provider", provider, "provider_msg_id", ev.ProviderMsgID, "new_status", newStatus)
		http.Error(rw, ErrDependency, http.StatusInternalServerError)
		return
	}
	rw.WriteHeader(http.StatusOK)
}

func verifySignature(secret string, body []byte, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(provided))
}
