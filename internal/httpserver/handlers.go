package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"outreach/internal/domain"
	"outreach/internal/orchestrator"
	"outreach/internal/store"
	"outreach/internal/util"
)

// MessageStore is the read side the API needs for message lookups.
type MessageStore interface {
	GetMessage(ctx context.Context, id string) (store.Message, bool, error)
}

type API struct {
	Orch  *orchestrator.Orchestrator
	Store MessageStore
}

func (a *API) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/outreach/send", a.handleSend).Methods(http.MethodPost)
	mux.HandleFunc("/v1/outreach/batch", a.handleSendBatch).Methods(http.MethodPost)
	mux.HandleFunc("/v1/campaigns/{id}/orchestration", a.handleOrchestrationStatus).Methods(http.MethodGet)
	mux.HandleFunc("/v1/messages/{id}", a.handleGetMessage).Methods(http.MethodGet)
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	var req domain.SendOutreachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := a.Orch.SendOutreach(r.Context(), &req.Campaign, req.RecipientID, req.Profile, req.Content, req.ForceSend, util.NowUTC())
	if err != nil {
		slog.Error("send outreach failed",
			"err", err,
			"tenant_id", req.Campaign.TenantID,
			"campaign_id", req.Campaign.ID,
			"recipient_id", req.RecipientID,
			"reason", resp.Reason,
		)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *API) handleSendBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.SendBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := a.Orch.SendBatch(r.Context(), &req.Campaign, req.Recipients, req.Templates, util.NowUTC())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *API) handleOrchestrationStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}

	status, err := a.Orch.OrchestrationStatus(r.Context(), id, util.NowUTC())
	if err != nil {
		if errors.Is(err, orchestrator.ErrCampaignNotFound) {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		slog.Error("orchestration status failed", "err", err, "campaign_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (a *API) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	msg, found, err := a.Store.GetMessage(r.Context(), id)
	if err != nil {
		slog.Error("get message failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(msg)
}
