// Package transport connects the engine to the outside: the WhatsApp-style
// webhook with its verification handshake and signature check, the outbound
// send client, an optional Telegram channel and the diagnostic endpoints.
package transport

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"prenotabot/internal/dialog"
	"prenotabot/internal/metrics"
	"prenotabot/internal/models"
	"prenotabot/internal/session"
	"prenotabot/internal/sheets"
)

// Engine handles one conversation turn.
type Engine interface {
	HandleTurn(ctx context.Context, cfg models.ShopConfig, phone, text string) (string, error)
}

// ShopDirectory resolves tenants.
type ShopDirectory interface {
	ShopByTransportNumber(ctx context.Context, number string) (*models.ShopConfig, error)
	ShopByID(ctx context.Context, shopID string) (*models.ShopConfig, error)
}

// Sender delivers an outbound text message.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
}

// WebhookHandler accepts inbound deliveries: a GET verification handshake
// and POST payloads, either the structured JSON form or form-encoded
// from/body fields.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	engine      Engine
	shops       ShopDirectory
	sender      Sender
	dedup       session.Deduper
	logger      *zerolog.Logger
}

// NewWebhookHandler wires the webhook endpoint.
func NewWebhookHandler(verifyToken, appSecret string, engine Engine, shops ShopDirectory,
	sender Sender, dedup session.Deduper, logger *zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		engine:      engine,
		shops:       shops,
		sender:      sender,
		dedup:       dedup,
		logger:      logger,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleInbound(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerification answers the challenge/response handshake.
func (h *WebhookHandler) handleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}
	metrics.IncWebhookRejected("verification")
	http.Error(w, "forbidden", http.StatusForbidden)
}

func (h *WebhookHandler) handleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// The signature covers the raw payload regardless of content type.
	if !verifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		metrics.IncWebhookRejected("signature")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	contentType := r.Header.Get("Content-Type")
	var msgs []inboundMessage
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		msgs = parseForm(body)
	} else {
		msgs, err = parseCloudPayload(body)
		if err != nil {
			metrics.IncWebhookRejected("payload")
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
	}

	for _, msg := range msgs {
		h.process(r.Context(), msg)
	}
	w.WriteHeader(http.StatusOK)
}

// process runs one inbound message through dedup, tenant resolution and the
// engine, then sends the reply. All within this request.
func (h *WebhookHandler) process(ctx context.Context, msg inboundMessage) {
	log := h.logger.With().Str("turn_id", uuid.NewString()).Str("from", msg.From).Logger()

	if msg.ID != "" && h.dedup != nil {
		seen, err := h.dedup.Seen(ctx, msg.ID)
		if err == nil && seen {
			metrics.IncDedupHit()
			log.Debug().Str("message_id", msg.ID).Msg("duplicate delivery dropped")
			return
		}
	}

	cfg, err := h.shops.ShopByTransportNumber(ctx, msg.To)
	if errors.Is(err, sheets.ErrUnknownTenant) {
		h.reply(ctx, &log, msg.From, dialog.MsgUnknownTenant())
		return
	}
	if err != nil {
		metrics.IncExternalError("sheets")
		log.Error().Err(err).Msg("tenant resolution failed")
		return
	}

	metrics.IncTurn(cfg.Shop.ID)

	if msg.Type != "" && msg.Type != "text" {
		h.reply(ctx, &log, msg.From, dialog.MsgTextOnly())
		return
	}

	reply, err := h.engine.HandleTurn(ctx, *cfg, sheets.NormalizePhone(msg.From), msg.Text)
	if err != nil {
		log.Error().Err(err).Str("shop", cfg.Shop.ID).Msg("turn failed")
		return
	}
	h.reply(ctx, &log, msg.From, reply)
}

// reply sends and logs; outbound failures are logged, never retried within
// the same turn.
func (h *WebhookHandler) reply(ctx context.Context, log *zerolog.Logger, to, text string) {
	if err := h.sender.SendText(ctx, to, text); err != nil {
		metrics.IncExternalError("transport")
		log.Error().Err(err).Msg("outbound send failed")
	}
}

// inboundMessage is the transport-independent view of one delivery.
type inboundMessage struct {
	ID   string
	From string
	To   string // the shop's transport number
	Type string
	Text string
}

// cloudPayload mirrors the structured webhook JSON.
type cloudPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []struct {
					From string `json:"from"`
					ID   string `json:"id"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func parseCloudPayload(body []byte) ([]inboundMessage, error) {
	var payload cloudPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	var out []inboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				out = append(out, inboundMessage{
					ID:   m.ID,
					From: m.From,
					To:   change.Value.Metadata.DisplayPhoneNumber,
					Type: m.Type,
					Text: m.Text.Body,
				})
			}
		}
	}
	return out, nil
}

func parseForm(body []byte) []inboundMessage {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil
	}
	from := values.Get("from")
	text := values.Get("body")
	if from == "" || text == "" {
		return nil
	}
	return []inboundMessage{{
		ID:   values.Get("message_id"),
		From: from,
		To:   values.Get("to"),
		Type: "text",
		Text: text,
	}}
}

func verifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature[len(prefix):]))
}
