package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"prenotabot/internal/export"
	"prenotabot/internal/journal"
	"prenotabot/internal/sheets"
)

// Server wires the public HTTP surface: webhook, diagnostic test entry
// point, admin export and the root health line.
type Server struct {
	webhook    *WebhookHandler
	engine     Engine
	shops      ShopDirectory
	journalDB  *journal.DB
	adminToken string
	logger     *zerolog.Logger
}

// NewServer builds the handler set. journalDB may be nil (export disabled).
func NewServer(webhook *WebhookHandler, engine Engine, shops ShopDirectory,
	journalDB *journal.DB, adminToken string, logger *zerolog.Logger) *Server {
	return &Server{
		webhook:    webhook,
		engine:     engine,
		shops:      shops,
		journalDB:  journalDB,
		adminToken: adminToken,
		logger:     logger,
	}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/webhook", s.webhook)
	mux.HandleFunc("/test", s.handleTest)
	mux.HandleFunc("/admin/export", s.handleExport)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "Prenotabot attivo ✅")
	})
	return mux
}

// Run serves until the context is done.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleTest is the scripted end-to-end entry point: shop id, phone and raw
// message in, computed reply out. No live transport involved.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	shopID := r.URL.Query().Get("shop")
	phone := r.URL.Query().Get("phone")
	msg := r.URL.Query().Get("msg")
	if shopID == "" || phone == "" || msg == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "parametri shop, phone e msg richiesti"})
		return
	}

	cfg, err := s.shops.ShopByID(r.Context(), shopID)
	if errors.Is(err, sheets.ErrUnknownTenant) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "shop non trovato"})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("test: tenant load failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "config store unavailable"})
		return
	}

	reply, err := s.engine.HandleTurn(r.Context(), *cfg, sheets.NormalizePhone(phone), msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("test: turn failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "turn failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"shop":       cfg.Shop.Name,
		"phone":      phone,
		"message_in": msg,
		"bot_reply":  reply,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.journalDB == nil {
		http.Error(w, "export disabled", http.StatusNotFound)
		return
	}
	if s.adminToken == "" || r.URL.Query().Get("token") != s.adminToken {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	shopID := r.URL.Query().Get("shop")
	if shopID == "" {
		http.Error(w, "parametro shop richiesto", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=prenotazioni-%s.xlsx", shopID))
	if err := export.WriteReservations(r.Context(), w, shopID, s.journalDB); err != nil {
		s.logger.Error().Err(err).Str("shop", shopID).Msg("export failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
