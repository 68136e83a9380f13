package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/MHHHH233/pfe-backend-sub001/internal/auth"
	"github.com/MHHHH233/pfe-backend-sub001/internal/clock"
	"github.com/MHHHH233/pfe-backend-sub001/internal/config"
	"github.com/MHHHH233/pfe-backend-sub001/internal/logger"
	"github.com/MHHHH233/pfe-backend-sub001/internal/payment"
	"github.com/MHHHH233/pfe-backend-sub001/internal/quota"
	"github.com/MHHHH233/pfe-backend-sub001/internal/reservation"
	"github.com/MHHHH233/pfe-backend-sub001/internal/reservation/api"
	"github.com/MHHHH233/pfe-backend-sub001/internal/reservation/db"
	resKafka "github.com/MHHHH233/pfe-backend-sub001/internal/reservation/kafka"
	resRedis "github.com/MHHHH233/pfe-backend-sub001/internal/reservation/redis"
	"github.com/MHHHH233/pfe-backend-sub001/internal/scheduler"
	"github.com/MHHHH233/pfe-backend-sub001/internal/sweeper"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- PostgreSQL ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("failed to connect to Postgres: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	if err := db.Migrate(ctx, bunDB); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("migration failed: %v", err))
	}

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("failed to connect to Redis: %v", err))
	}
	defer redisClient.Close()

	// --- Kafka ---
	var events reservation.EventPublisher = resKafka.Noop{}
	if cfg.Kafka.Enabled {
		producer := resKafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		events = producer
	}

	// --- Core wiring ---
	clk := clock.Real{}
	store := &db.DB{Bun: bunDB}
	locks := resRedis.NewRedis(redisClient)
	service := reservation.NewService(store, locks, events, clk, log)
	service.QuotaWarnThreshold = cfg.Quota.MaxPerClientPerDay

	sw := sweeper.New(store, clk, log)
	sw.StaleAfter = cfg.Sweep.StaleAfter
	sw.SkewTolerance = cfg.Sweep.SkewTolerance

	enforcer := quota.New(store, service, clk, log)
	enforcer.MaxPerDay = cfg.Quota.MaxPerClientPerDay

	sched := scheduler.New(sw, enforcer, log)
	sched.SweepInterval = cfg.Sweep.Interval
	sched.QuotaInterval = cfg.Quota.DetectInterval
	sched.Start(ctx)

	handler := &api.Handler{Reservations: service, Sweeper: sw, Enforcer: enforcer}
	webhookHandler := &payment.WebhookHandler{
		Reservations:  service,
		SigningSecret: cfg.Stripe.WebhookSecret,
		Log:           log,
	}

	// --- Router ---
	r := chi.NewRouter()

	r.Get("/health", handler.Health)

	r.Post("/api/v1/reservations", handler.CreateReservation)
	r.Get("/api/v1/reservations/{reservationId}", handler.GetReservation)
	r.Post("/api/v1/reservations/{reservationId}/confirm", handler.ConfirmReservation)
	r.Post("/api/v1/reservations/{reservationId}/cancel", handler.CancelReservation)

	r.Post("/api/v1/payments/webhook", webhookHandler.HandleWebhook)

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(auth.AdminToken(cfg.Admin.Token))
		r.Post("/sweep", handler.RunSweep)
		r.Post("/purge-stale", handler.PurgeStale)
		r.Post("/quota", handler.EnforceQuota)
		r.Post("/repair-skew", handler.RepairClockSkew)
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", "reservation service running on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SERVER", "shutdown signal received")
	stop()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("SERVER", fmt.Sprintf("forced shutdown: %v", err))
	}
	log.Info("SERVER", "server exited")
}
