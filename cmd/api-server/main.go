package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/carelink/telecare-coordinator/internal/api"
	"github.com/carelink/telecare-coordinator/internal/auth"
	"github.com/carelink/telecare-coordinator/internal/config"
	"github.com/carelink/telecare-coordinator/internal/db"
	"github.com/carelink/telecare-coordinator/internal/metrics"
	"github.com/carelink/telecare-coordinator/internal/redisclient"
	"github.com/carelink/telecare-coordinator/internal/rtc"
	"github.com/carelink/telecare-coordinator/internal/scheduling"
)

const version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.RunMigrations(cfg.PostgresDSN); err != nil {
		log.Fatalf("migration error: %v", err)
	}
	log.Println("migrations applied")

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	scheduler := scheduling.NewService(repo, locker, cfg.NoShowGrace)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	hub := rtc.NewHub(scheduler, collector)
	gateway := rtc.NewGateway(hub, verifier, collector)

	router := api.NewRouter(api.RouterConfig{
		Scheduler: scheduler,
		Gateway:   gateway,
		Verifier:  verifier,
		Metrics:   collector,
		Registry:  registry,
		PgPool:    pgPool,
		Redis:     rdb,
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()

	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
}
