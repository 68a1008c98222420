package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"outreach/internal/domain"
	"outreach/internal/transport"
)

// Client sends direct messages on social platforms (Instagram, Facebook,
// LinkedIn, Twitter) and website chat through the internal social gateway,
// which owns the per-platform API plumbing.
type Client struct {
	APIToken string
	BaseURL  string
	HTTP     *http.Client
}

func (c *Client) Provider() string { return "social-gateway" }

type dmRequest struct {
	Platform  string `json:"platform"`
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
}

type dmResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (c *Client) Send(ctx context.Context, req transport.SendRequest) (transport.SendResponse, int, []byte, error) {
	if req.Channel == domain.ChannelEmail || req.Channel == domain.ChannelWhatsApp {
		return transport.SendResponse{}, 0, nil, errors.New("channel not handled by social gateway")
	}

	body, err := json.Marshal(dmRequest{
		Platform:  req.Channel.String(),
		Recipient: req.To,
		Text:      req.Body,
		MessageID: req.MessageID,
	})
	if err != nil {
		return transport.SendResponse{}, 0, nil, err
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/v1/dm"
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIToken)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return transport.SendResponse{}, 0, nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var out dmResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != "" {
			return transport.SendResponse{}, resp.StatusCode, raw, errors.New(out.Error)
		}
		return transport.SendResponse{}, resp.StatusCode, raw, errors.New("social dm send failed")
	}
	return transport.SendResponse{ProviderMsgID: out.ID, Status: out.Status}, resp.StatusCode, raw, nil
}
