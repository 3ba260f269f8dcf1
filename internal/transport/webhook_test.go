package transport

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prenotabot/internal/models"
	"prenotabot/internal/session"
	"prenotabot/internal/sheets"
)

const (
	testVerifyToken = "verify-me"
	testAppSecret   = "app-secret"
	shopNumber      = "390612345678"
)

// echoEngine replies with a fixed text and records what it was asked.
type echoEngine struct {
	mu    sync.Mutex
	turns []string
}

func (e *echoEngine) HandleTurn(_ context.Context, _ models.ShopConfig, phone, text string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = append(e.turns, phone+":"+text)
	return "ricevuto", nil
}

type staticShops struct{}

func (staticShops) ShopByTransportNumber(_ context.Context, number string) (*models.ShopConfig, error) {
	if number != shopNumber {
		return nil, sheets.ErrUnknownTenant
	}
	return &models.ShopConfig{Shop: models.Shop{ID: "shop1", Name: "Da Mario", TransportNumber: shopNumber}}, nil
}

func (staticShops) ShopByID(_ context.Context, shopID string) (*models.ShopConfig, error) {
	if shopID != "shop1" {
		return nil, sheets.ErrUnknownTenant
	}
	return &models.ShopConfig{Shop: models.Shop{ID: "shop1", Name: "Da Mario"}}, nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) SendText(_ context.Context, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, to+":"+text)
	return nil
}

func newTestHandler() (*WebhookHandler, *echoEngine, *recordingSender) {
	logger := zerolog.New(io.Discard)
	engine := &echoEngine{}
	sender := &recordingSender{}
	h := NewWebhookHandler(testVerifyToken, testAppSecret, engine, staticShops{},
		sender, session.NewMemoryDeduper(time.Hour), &logger)
	return h, engine, sender
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func cloudBody(messageID, from, text string) []byte {
	return []byte(fmt.Sprintf(`{"entry":[{"changes":[{"value":{
		"metadata":{"display_phone_number":%q,"phone_number_id":"123"},
		"messages":[{"from":%q,"id":%q,"type":"text","text":{"body":%q}}]
	}}]}]}`, shopNumber, from, messageID, text))
}

func TestVerificationHandshake(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=42", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())
}

func TestVerificationWrongToken(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInboundSignedJSON(t *testing.T) {
	h, engine, sender := newTestHandler()
	body := cloudBody("wamid.1", "393331234567", "ciao")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, engine.turns, 1)
	assert.Equal(t, "393331234567:ciao", engine.turns[0])
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "393331234567:ricevuto", sender.sent[0])
}

func TestInboundBadSignature(t *testing.T) {
	h, engine, _ := newTestHandler()
	body := cloudBody("wamid.1", "393331234567", "ciao")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, engine.turns)
}

func TestInboundMissingSignature(t *testing.T) {
	h, engine, _ := newTestHandler()
	body := cloudBody("wamid.1", "393331234567", "ciao")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, engine.turns)
}

func TestInboundDuplicateDropped(t *testing.T) {
	h, engine, _ := newTestHandler()
	body := cloudBody("wamid.dup", "393331234567", "ciao")

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Hub-Signature-256", sign(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Len(t, engine.turns, 1, "second delivery of the same id is dropped")
}

func TestInboundUnknownTenant(t *testing.T) {
	h, engine, sender := newTestHandler()
	body := []byte(`{"entry":[{"changes":[{"value":{
		"metadata":{"display_phone_number":"390600000000"},
		"messages":[{"from":"393331234567","id":"wamid.1","type":"text","text":{"body":"ciao"}}]
	}}]}]}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, engine.turns)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0], "codice di attivazione")
}

func TestInboundNonText(t *testing.T) {
	h, engine, sender := newTestHandler()
	body := []byte(fmt.Sprintf(`{"entry":[{"changes":[{"value":{
		"metadata":{"display_phone_number":%q},
		"messages":[{"from":"393331234567","id":"wamid.1","type":"audio"}]
	}}]}]}`, shopNumber))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, engine.turns)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0], "messaggi di testo")
}

func TestInboundSignedForm(t *testing.T) {
	h, engine, _ := newTestHandler()
	form := url.Values{
		"from":       {"+39 333 123-4567"},
		"to":         {shopNumber},
		"body":       {"un taglio domani"},
		"message_id": {"form-1"},
	}
	body := []byte(form.Encode())

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, engine.turns, 1)
	assert.Equal(t, "393331234567:un taglio domani", engine.turns[0], "phone is normalized to digits")
}

func TestInboundUnsignedFormRejected(t *testing.T) {
	h, engine, sender := newTestHandler()
	form := url.Values{
		"from": {"+39 333 000-0000"},
		"to":   {shopNumber},
		"body": {"prenotami un taglio"},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, engine.turns, "unsigned deliveries never reach the engine")
	assert.Empty(t, sender.sent)
}

func TestMalformedJSONRejected(t *testing.T) {
	h, _, _ := newTestHandler()
	body := []byte("{not json")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodDelete, "/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
