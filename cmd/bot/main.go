package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"legit-bot/internal/analytics"
	"legit-bot/internal/audit"
	"legit-bot/internal/config"
	"legit-bot/internal/conversation"
	"legit-bot/internal/health"
	"legit-bot/internal/legitcheck"
	"legit-bot/internal/logging"
	"legit-bot/internal/reputation"
	"legit-bot/internal/scheduler"
	"legit-bot/internal/session"
	"legit-bot/internal/storage"
	"legit-bot/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()
	if err := logging.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogOutputPath); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]health.Check{}

	var store storage.Store
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			logging.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logging.Fatalf("failed to migrate postgres: %v", err)
		}
		store = pg
	} else {
		logging.Warnf("DATABASE_URL not set, sellers are kept in memory only")
		store = storage.NewMemoryStore()
	}
	checks["database"] = store.Ping

	var sessions session.Store
	var memSessions *session.MemoryStore
	if cfg.RedisURL != "" {
		client, err := session.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logging.Fatalf("failed to connect to redis: %v", err)
		}
		defer client.Close()
		sessions = session.NewRedisStore(client, cfg.SessionTTL)
		checks["sessions"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	} else {
		memSessions = session.NewMemoryStore(cfg.SessionTTL)
		sessions = memSessions
	}

	var rec audit.Recorder
	if cfg.AuditLogPath != "" {
		fr, err := audit.NewFileRecorder(cfg.AuditLogPath)
		if err != nil {
			logging.Warnf("failed to init audit log: %v", err)
		} else {
			rec = fr
		}
	}

	agg := reputation.New(store, nil)
	engine := conversation.New(sessions, store, agg)
	if rec != nil {
		engine.SetRecorder(rec)
	}

	bot, err := telegram.New(telegram.Options{
		Token:          cfg.TelegramBotToken,
		AdminUserID:    cfg.AdminUserID,
		Workers:        cfg.Workers,
		SendRatePerSec: cfg.SendRatePerSec,
	}, engine, store)
	if err != nil {
		logging.Fatalf("failed to create bot: %v", err)
	}
	coord := legitcheck.New(store, bot, cfg.LegitCheckTTL)
	agg.SetIssuer(coord)
	bot.SetConfirmer(coord)

	sched := scheduler.New()
	mustAdd(sched.AddJob("@every 1h", "expire_legit_checks", func(ctx context.Context) error {
		n, err := coord.Expire(ctx)
		if n > 0 {
			logging.Infof("expired %d pending legit checks", n)
		}
		return err
	}))
	if memSessions != nil {
		mustAdd(sched.AddJob("@every 5m", "sweep_sessions", func(ctx context.Context) error {
			n, err := memSessions.Sweep(ctx)
			if n > 0 {
				logging.Debugf("swept %d idle sessions", n)
			}
			return err
		}))
	}
	if rec != nil && cfg.AdminUserID != 0 {
		mustAdd(sched.AddJob("0 21 * * *", "daily_report", func(ctx context.Context) error {
			events, err := rec.Load()
			if err != nil {
				return err
			}
			stats := analytics.AnalyzeDay(events, time.Now().UTC())
			return bot.SendAdmin(ctx, stats.Summary())
		}))
	}
	sched.Start()
	defer sched.Stop()
	checks["scheduler"] = sched.Check

	go func() {
		if err := health.Serve(ctx, cfg.HTTPAddr, health.NewRouter(health.NewHandler(checks))); err != nil {
			logging.Errorf("health server failed: %v", err)
		}
	}()

	logging.Infof("bot started with %d workers", cfg.Workers)
	bot.Start(ctx)
}

func mustAdd(err error) {
	if err != nil {
		logging.Fatalf("failed to schedule job: %v", err)
	}
}
