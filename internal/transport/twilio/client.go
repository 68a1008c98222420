package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"outreach/internal/transport"
)

// Client sends WhatsApp messages through the Twilio messaging API.
type Client struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	HTTP       *http.Client
}

func (c *Client) Provider() string { return "twilio" }

type sendResponse struct {
	Sid       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode *int   `json:"error_code"`
	Message   string `json:"message"`
}

func (c *Client) Send(ctx context.Context, req transport.SendRequest) (transport.SendResponse, int, []byte, error) {
	form := url.Values{}
	form.Set("To", "whatsapp:"+req.To)
	form.Set("From", "whatsapp:"+c.FromNumber)
	form.Set("Body", req.Body)

	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	endpoint := baseURL + "/2010-04-01/Accounts/" + c.AccountSID + "/Messages.json"
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.AccountSID, c.AuthToken)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return transport.SendResponse{}, 0, nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var out sendResponse
	_ = json.Unmarshal(raw, &out)

	// Twilio returns 201 for created; treat any 2xx as success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Message != "" {
			return transport.SendResponse{}, resp.StatusCode, raw, errors.New(out.Message)
		}
		return transport.SendResponse{}, resp.StatusCode, raw, errors.New("twilio send failed")
	}
	return transport.SendResponse{ProviderMsgID: out.Sid, Status: out.Status}, resp.StatusCode, raw, nil
}
