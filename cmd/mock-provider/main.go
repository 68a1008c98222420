package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"
)

// Mock social gateway for local development: accepts DM sends and posts
// signed delivery envelopes back to the webhook service.
type config struct {
	APIToken    string  `envconfig:"SOCIAL_API_TOKEN" default:"mock_token"`
	Port        string  `envconfig:"PORT" default:"8080"`
	OutcomeMode string  `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	OutcomesRaw string  `envconfig:"MOCK_OUTCOMES" default:"ok"`
	SuccessRate float64 `envconfig:"MOCK_SUCCESS_RATE" default:"0.95"`
	DelayMs     int     `envconfig:"MOCK_DELAY_MS" default:"0"`

	WebhookURL        string `envconfig:"MOCK_WEBHOOK_URL" default:""`
	WebhookSecret     string `envconfig:"WEBHOOK_SECRET" default:"mock_secret"`
	WebhookDelayMs    int    `envconfig:"MOCK_WEBHOOK_DELAY_MS" default:"500"`
	WebhookMaxRetries int    `envconfig:"MOCK_WEBHOOK_MAX_RETRIES" default:"5"`

	// Event chain posted after a successful send, before the final outcome.
	IncludeDelivered bool `envconfig:"MOCK_WEBHOOK_INCLUDE_DELIVERED" default:"true"`

	Outcomes     []string
	Delay        time.Duration
	WebhookDelay time.Duration
}

type dmRequest struct {
	Platform  string `json:"platform"`
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
}

type dmResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type deliveryEnvelope struct {
	ProviderMsgID string `json:"providerMessageId"`
	Event         string `json:"event"`
	ErrorCode     string `json:"errorCode,omitempty"`
	OccurredAt    string `json:"occurredAt"`
}

type server struct {
	cfg    config
	idx    uint64
	rng    *rand.Rand
	rngMu  sync.Mutex
	client *http.Client
}

func main() {
	cfg := loadConfig()
	loggingInit()

	s := &server{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		client: &http.Client{Timeout: 5 * time.Second},
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/dm", s.handleSend).Methods(http.MethodPost)

	slog.Info("mock provider listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, loggingMiddleware(router)); err != nil {
		slog.Error("mock provider server failed", "err", err)
		os.Exit(1)
	}
}

func loggingInit() {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("mock provider request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func loadConfig() config {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock provider config load failed", "err", err)
		os.Exit(1)
	}
	cfg.OutcomeMode = strings.ToLower(cfg.OutcomeMode)
	cfg.Outcomes = parseCSV(cfg.OutcomesRaw)
	cfg.Delay = time.Duration(cfg.DelayMs) * time.Millisecond
	cfg.WebhookDelay = time.Duration(cfg.WebhookDelayMs) * time.Millisecond
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)
	if cfg.WebhookMaxRetries < 0 {
		cfg.WebhookMaxRetries = 0
	}
	return cfg
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+s.cfg.APIToken {
		writeJSON(w, http.StatusUnauthorized, dmResponse{Error: "authentication error"})
		return
	}

	var req dmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dmResponse{Error: "invalid json"})
		return
	}
	if req.Platform == "" || req.Recipient == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, dmResponse{Error: "missing required field"})
		return
	}

	if s.cfg.Delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.cfg.Delay):
		}
	}

	outcome := s.nextOutcome()
	finalEvent, errorCode, httpStatus, callErr := classifyOutcome(outcome)
	if callErr != nil {
		writeJSON(w, httpStatus, dmResponse{Error: callErr.Error()})
		return
	}

	id := fmt.Sprintf("dm_%06d", atomic.AddUint64(&s.idx, 1)-1)
	writeJSON(w, http.StatusCreated, dmResponse{ID: id, Status: "accepted"})

	s.maybeWebhookSequence(id, finalEvent, errorCode)
}

// maybeWebhookSequence posts delivered then the final event (open, click,
// reply, bounce or failure) the way real platforms trickle callbacks in.
func (s *server) maybeWebhookSequence(providerMsgID, finalEvent, errorCode string) {
	if s.cfg.WebhookURL == "" {
		return
	}
	go func() {
		if s.cfg.IncludeDelivered && finalEvent != "failed" && finalEvent != "bounced" {
			time.Sleep(s.cfg.WebhookDelay)
			s.postEnvelope(providerMsgID, "delivered", "")
			if finalEvent == "delivered" {
				return
			}
		}
		time.Sleep(s.cfg.WebhookDelay)
		s.postEnvelope(providerMsgID, finalEvent, errorCode)
	}()
}

func (s *server) postEnvelope(providerMsgID, event, errorCode string) {
	body, _ := json.Marshal(deliveryEnvelope{
		ProviderMsgID: providerMsgID,
		Event:         event,
		ErrorCode:     errorCode,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	})

	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	for attempt := 0; attempt <= s.cfg.WebhookMaxRetries; attempt++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", sig)

		resp, err := s.client.Do(req)
		if err == nil {
			status := resp.StatusCode
			_ = resp.Body.Close()
			if status >= 200 && status < 300 {
				return
			}
			if !isRetryableStatus(status) {
				slog.Error("mock webhook post non-retryable", "url", s.cfg.WebhookURL, "attempt", attempt+1, "status", status)
				return
			}
		}
		if attempt == s.cfg.WebhookMaxRetries {
			slog.Error("mock webhook post failed", "url", s.cfg.WebhookURL, "attempt", attempt+1, "err", err)
			return
		}
		time.Sleep(time.Duration(250*(1<<attempt)) * time.Millisecond)
	}
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func (s *server) nextOutcome() string {
	switch s.cfg.OutcomeMode {
	case "round_robin":
		idx := atomic.AddUint64(&s.idx, 1) - 1
		return s.cfg.Outcomes[int(idx)%len(s.cfg.Outcomes)]
	case "weighted":
		s.rngMu.Lock()
		ok := s.rng.Float64() <= s.cfg.SuccessRate
		s.rngMu.Unlock()
		if ok {
			return "ok"
		}
		return "failed"
	case "random":
		s.rngMu.Lock()
		i := s.rng.Intn(len(s.cfg.Outcomes))
		s.rngMu.Unlock()
		return s.cfg.Outcomes[i]
	default:
		return s.cfg.Outcomes[0]
	}
}

// classifyOutcome maps an outcome token like "failed:4001" or "429" onto the
// send response and the final webhook event.
func classifyOutcome(raw string) (finalEvent, errorCode string, httpStatus int, callErr error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		token = "ok"
	}
	parts := strings.Split(token, ":")
	kind := parts[0]
	if len(parts) > 1 {
		errorCode = parts[1]
	}

	switch kind {
	case "ok", "success", "delivered":
		return "delivered", "", http.StatusCreated, nil
	case "opened", "clicked", "replied":
		return kind, "", http.StatusCreated, nil
	case "bounced":
		if errorCode == "" {
			errorCode = "4002"
		}
		return "bounced", errorCode, http.StatusCreated, nil
	case "failed":
		if errorCode == "" {
			errorCode = "4001"
		}
		return "failed", errorCode, http.StatusCreated, nil
	case "rate_limit", "429":
		return "", errorCode, http.StatusTooManyRequests, errors.New("rate limited")
	case "server_error", "500":
		return "", errorCode, http.StatusInternalServerError, errors.New("server error")
	default:
		return "", errorCode, http.StatusInternalServerError, errors.New("mock error: " + kind)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return []string{"ok"}
	}
	return out
}
