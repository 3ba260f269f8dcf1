package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"prenotabot/internal/availability"
	"prenotabot/internal/booking"
	"prenotabot/internal/config"
	"prenotabot/internal/dialog"
	"prenotabot/internal/events"
	"prenotabot/internal/gcal"
	"prenotabot/internal/journal"
	"prenotabot/internal/metrics"
	"prenotabot/internal/session"
	"prenotabot/internal/sheets"
	"prenotabot/internal/transport"
)

const (
	configCacheTTL  = 5 * time.Minute
	googleTimeout   = 10 * time.Second
	shutdownTimeout = 3 * time.Second
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("PRENOTABOT_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != "" {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sheets.NewStore(ctx, cfg.Google.CredentialsFile, cfg.Google.SpreadsheetID, configCacheTTL, googleTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("sheets store init failed")
	}

	calendar, err := gcal.NewClient(ctx, cfg.Google.CredentialsFile, googleTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("calendar client init failed")
	}

	// Sessions and dedup run on redis when configured, with in-memory
	// failover so a redis outage degrades rather than drops conversations.
	var rdb *redis.Client
	sessions := session.Store(session.NewMemoryStore(cfg.SessionTTL()))
	dedup := session.Deduper(session.NewMemoryDeduper(cfg.DedupTTL()))
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sessions = session.NewFailoverStore(
			session.NewRedisStore(rdb, cfg.SessionTTL()),
			session.NewMemoryStore(cfg.SessionTTL()),
			&logger,
		)
		dedup = session.NewFailoverDeduper(
			session.NewRedisDeduper(rdb, cfg.DedupTTL()),
			session.NewMemoryDeduper(cfg.DedupTTL()),
		)
	}

	var journalDB *journal.DB
	if cfg.Journal.Path != "" {
		journalDB, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			logger.Fatal().Err(err).Msg("open journal error")
		}
		defer journalDB.Close()
	}

	bus := events.NewBus()
	bus.Subscribe(events.TypeBookingConfirmed, func(ev events.Event) error {
		metrics.IncBookingConfirmed(ev.Reservation.ShopID)
		if journalDB == nil {
			return nil
		}
		return journalDB.Record(context.Background(), ev.Reservation)
	})
	bus.Subscribe(events.TypeBookingConflict, func(ev events.Event) error {
		metrics.IncCapacityConflict()
		return nil
	})

	searcher := availability.NewSearcher(calendar, &logger)
	confirmer := booking.NewConfirmer(calendar, store, bus, &logger)
	engine := dialog.NewEngine(searcher, confirmer, sessions, store, &logger, dialog.Options{
		MaxCandidates: cfg.Search.MaxCandidates,
		HorizonDays:   cfg.Search.HorizonDays,
	})

	sender := transport.NewWhatsAppSender(cfg.WhatsApp.BaseURL, cfg.WhatsApp.PhoneID,
		cfg.WhatsApp.Token, cfg.WhatsApp.RatePerSecond, &logger)
	webhook := transport.NewWebhookHandler(cfg.HTTP.VerifyToken, cfg.HTTP.AppSecret,
		engine, store, sender, dedup, &logger)
	server := transport.NewServer(webhook, engine, store, journalDB, cfg.HTTP.AdminToken, &logger)

	if cfg.Telegram.Enabled {
		channel, err := transport.NewTelegramChannel(cfg.Telegram.BotToken, cfg.Telegram.ShopID,
			engine, store, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("create telegram channel error")
		}
		go channel.Run(ctx)
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, journalDB, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	logger.Info().Str("app", cfg.App.Name).Int("port", cfg.HTTP.Port).Msg("prenotabot started")
	if err := server.Run(ctx, cfg.HTTP.Port); err != nil {
		logger.Fatal().Err(err).Msg("http server error")
	}
}

func startHealthServer(ctx context.Context, port int, journalDB *journal.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if journalDB != nil {
			if err := journalDB.PingContext(ctxPing); err != nil {
				http.Error(w, "journal not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
