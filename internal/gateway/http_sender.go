package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thrillee/aegisbox-smsc/pkg/codes"
)

// HTTPSendRequest is the JSON body posted to the gateway.
type HTTPSendRequest struct {
	MessageID  string `json:"message_id"`
	SystemID   string `json:"system_id"`
	To         string `json:"to"`
	From       string `json:"from"`
	Message    string `json:"message"`
	CampaignID string `json:"campaign_id,omitempty"`
}

// HTTPSendResponse is the gateway's JSON answer.
type HTTPSendResponse struct {
	MessageID string          `json:"message_id"`
	Status    string          `json:"status"`
	ErrorCode string          `json:"error_code"`
	Cost      decimal.Decimal `json:"cost"`
}

// HTTPConfig configures the HTTP gateway client.
type HTTPConfig struct {
	URL     string
	APIKey  string // X-API-KEY header value
	Timeout time.Duration
}

// HTTPSender posts each message to a JSON gateway endpoint.
type HTTPSender struct {
	config     HTTPConfig
	httpClient *http.Client
}

func NewHTTPSender(config HTTPConfig) *HTTPSender {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &HTTPSender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Send posts msg. Transport failures and 5xx answers return an error with
// MNO_UNAVAILABLE; 4xx answers are a delivery failure without error.
func (h *HTTPSender) Send(ctx context.Context, msg Message) (Result, error) {
	jsonData, err := json.Marshal(HTTPSendRequest{
		MessageID:  msg.ID,
		SystemID:   msg.SystemID,
		To:         msg.Destination,
		From:       msg.Source,
		Message:    msg.Text,
		CampaignID: msg.CampaignID,
	})
	if err != nil {
		return Result{ErrorCode: codes.ErrorCodeSystemError}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		return Result{ErrorCode: codes.ErrorCodeSystemError}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("X-API-KEY", h.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	slog.DebugContext(ctx, "Sending SMS via gateway API", slog.String("url", h.config.URL), slog.String("msg_id", msg.ID))

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return Result{ErrorCode: codes.ErrorCodeMnoUnavailable}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return Result{ErrorCode: codes.ErrorCodeMnoUnavailable},
			fmt.Errorf("gateway returned status %d [%s]", resp.StatusCode, h.config.URL)
	case resp.StatusCode >= 300:
		slog.WarnContext(ctx, "Gateway rejected message",
			slog.Int("status_code", resp.StatusCode),
			slog.String("msg_id", msg.ID))
		return Result{ErrorCode: codes.ErrorCodeMnoSubmitFail}, nil
	}

	var sendResp HTTPSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		return Result{ErrorCode: codes.ErrorCodeSystemError}, fmt.Errorf("failed to decode response: %w", err)
	}

	result := Result{
		GatewayMessageID: sendResp.MessageID,
		Cost:             sendResp.Cost,
		ErrorCode:        sendResp.ErrorCode,
	}
	switch strings.ToLower(sendResp.Status) {
	case "", "ok", "accepted", "sent", "delivered":
		result.Success = sendResp.ErrorCode == ""
	}
	if !result.Success && result.ErrorCode == "" {
		result.ErrorCode = codes.ErrorCodeMnoSubmitFail
	}

	slog.InfoContext(ctx, "Gateway accepted request",
		slog.String("msg_id", msg.ID),
		slog.String("gateway_msg_id", sendResp.MessageID),
		slog.Bool("success", result.Success),
		slog.String("cost", result.Cost.StringFixed(4)))
	return result, nil
}

var _ Sender = (*HTTPSender)(nil)
