package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	appconfig "github.com/relaycrm/orchestrator/internal/config"
	"github.com/relaycrm/orchestrator/internal/domain"
	"github.com/relaycrm/orchestrator/internal/pkg/httpretry"
	"github.com/relaycrm/orchestrator/internal/pkg/logger"
)

// WhatsAppSender delivers messages through a WhatsApp Business API gateway
// over HTTP. The client retries gateway 429/5xx internally with jitter;
// failures surviving those retries surface as transient delivery errors and
// go through the executor's own backoff.
type WhatsAppSender struct {
	baseURL string
	apiKey  string
	client  httpretry.HTTPDoer
}

// NewWhatsAppSender builds a WhatsApp sender from provider settings.
func NewWhatsAppSender(cfg appconfig.WhatsAppConfig) *WhatsAppSender {
	return &WhatsAppSender{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout()}, 2),
	}
}

// Channel implements ChannelSender.
func (s *WhatsAppSender) Channel() domain.Channel {
	return domain.ChannelWhatsApp
}

type whatsAppRequest struct {
	To   string `json:"to"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts one text message to the gateway. 4xx responses other than 429
// are permanent (bad number, auth); 429 and 5xx are transient.
func (s *WhatsAppSender) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	if s.baseURL == "" {
		return nil, fmt.Errorf("whatsapp base URL not configured")
	}
	if msg.To == "" {
		return nil, fmt.Errorf("message has no recipient number")
	}

	reqBody := whatsAppRequest{To: msg.To, Type: "text"}
	reqBody.Text.Body = msg.Body

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode whatsapp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.DeliveryError{Channel: domain.ChannelWhatsApp, Provider: "whatsapp", Msg: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &domain.DeliveryError{
			Channel:  domain.ChannelWhatsApp,
			Provider: "whatsapp",
			Msg:      fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("whatsapp gateway rejected message (%d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed whatsAppResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode whatsapp response: %w", err)
	}

	messageID := ""
	if len(parsed.Messages) > 0 {
		messageID = parsed.Messages[0].ID
	}
	log.Printf("[WhatsApp] Sent to %s (id: %s)", logger.RedactAddress(msg.To), messageID)

	return &SendResult{ProviderMessageID: messageID, Provider: "whatsapp"}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
