package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"outreach/internal/transport"
)

// Client sends email through the SendGrid v3 mail API.
type Client struct {
	APIKey    string
	FromEmail string
	BaseURL   string
	HTTP      *http.Client
}

func (c *Client) Provider() string { return "sendgrid" }

type mailRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
	CustomArgs       map[string]string `json:"custom_args,omitempty"`
}

type personalization struct {
	To []address `json:"to"`
}

type address struct {
	Email string `json:"email"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (c *Client) Send(ctx context.Context, req transport.SendRequest) (transport.SendResponse, int, []byte, error) {
	payload := mailRequest{
		Personalizations: []personalization{{To: []address{{Email: req.To}}}},
		From:             address{Email: c.FromEmail},
		Subject:          req.Subject,
		Content:          []content{{Type: "text/plain", Value: req.Body}},
		CustomArgs:       map[string]string{"message_id": req.MessageID},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return transport.SendResponse{}, 0, nil, err
	}

	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v3/mail/send", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return transport.SendResponse{}, 0, nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transport.SendResponse{}, resp.StatusCode, raw, errors.New("sendgrid send failed")
	}

	// SendGrid returns the message id in a header, no response body on 202.
	return transport.SendResponse{
		ProviderMsgID: resp.Header.Get("X-Message-Id"),
		Status:        "accepted",
	}, resp.StatusCode, raw, nil
}
