package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultGraphURL is the Cloud API base used unless the config overrides it.
const DefaultGraphURL = "https://graph.facebook.com/v18.0"

// WhatsAppSender posts text messages to the transport's send API, paced by a
// token-bucket limiter so bursts of replies do not trip platform limits.
type WhatsAppSender struct {
	httpClient *http.Client
	baseURL    string
	phoneID    string
	token      string
	limiter    *rate.Limiter
	logger     *zerolog.Logger
}

// NewWhatsAppSender creates a sender for one business phone number id.
func NewWhatsAppSender(baseURL, phoneID, token string, perSecond float64, logger *zerolog.Logger) *WhatsAppSender {
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}
	if perSecond <= 0 {
		perSecond = 10
	}
	return &WhatsAppSender{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		phoneID:    phoneID,
		token:      token,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), int(perSecond)),
		logger:     logger,
	}
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             sendText `json:"text"`
}

type sendText struct {
	Body string `json:"body"`
}

// SendText delivers one text message.
func (s *WhatsAppSender) SendText(ctx context.Context, to, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             sendText{Body: text},
	})
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send message: status %d", resp.StatusCode)
	}
	s.logger.Debug().Str("to", to).Msg("message sent")
	return nil
}
