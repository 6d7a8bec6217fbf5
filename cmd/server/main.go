// Command server runs the timing engine: reading ingestion, classification
// and race control over HTTP. Wiring only; business logic lives under
// internal/.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"crono/internal/classify/cache"
	classifyhandler "crono/internal/classify/handler"
	classifymetrics "crono/internal/classify/metrics"
	classifyservice "crono/internal/classify/service"
	"crono/internal/device"
	devicehandler "crono/internal/device/handler"
	"crono/internal/ingest"
	ingesthandler "crono/internal/ingest/handler"
	ingestmetrics "crono/internal/ingest/metrics"
	readingstore "crono/internal/ingest/store/reading"
	"crono/internal/platform/config"
	"crono/internal/platform/httpserver"
	"crono/internal/platform/logger"
	platformredis "crono/internal/platform/redis"
	"crono/internal/publish"
	"crono/internal/racecontrol"
	racecontrolhandler "crono/internal/racecontrol/handler"
	stagestore "crono/internal/racecontrol/store/stage"
	"crono/internal/ratelimit"
	"crono/internal/registry"
	httptransport "crono/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(slog.LevelInfo)
	ctx := context.Background()

	var (
		readings readingstore.Store
		stages   stagestore.Store
	)
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres pool init failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		readingPG := readingstore.NewPostgresStore(pool)
		if err := readingPG.EnsureSchema(ctx); err != nil {
			log.Error("reading schema init failed", "error", err)
			os.Exit(1)
		}
		readings = readingPG

		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		stagePG := stagestore.NewPostgresStore(db)
		if err := stagePG.EnsureSchema(ctx); err != nil {
			log.Error("stage schema init failed", "error", err)
			os.Exit(1)
		}
		stages = stagePG
	} else {
		log.Info("no postgres DSN configured, using in-memory stores")
		readings = readingstore.NewMemoryStore()
		stages = stagestore.NewMemoryStore()
	}

	var resultCache cache.Cache = cache.NewMemory(cfg.DetailTTL)
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		resultCache = cache.NewRedis(redisClient.Client, log)
		log.Info("redis result cache enabled")
	}

	var publisher publish.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := publish.NewKafkaPublisher(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			log.Error("kafka publisher init failed", "error", err)
			os.Exit(1)
		}
		publisher = kafka
		log.Info("kafka publish adapter enabled", "topic", cfg.KafkaTopic)
	} else {
		publisher = publish.NewMemoryPublisher(publish.WithAsyncBuffer(256))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("publisher close failed", "error", err)
		}
	}()

	devices := device.NewService(device.NewMemoryStore())
	registrations := registry.NewMemoryStore()

	classifier := classifyservice.New(stages, readings, registrations,
		classifyservice.WithCache(resultCache),
		classifyservice.WithLogger(log),
		classifyservice.WithMetrics(classifymetrics.New()),
		classifyservice.WithTTLs(cfg.LiveResultTTL, cfg.DetailTTL),
	)
	gate := ingest.New(readings, stages, devices, registrations,
		ingest.WithInvalidator(classifier),
		ingest.WithPublisher(publisher),
		ingest.WithLogger(log),
		ingest.WithMetrics(ingestmetrics.New()),
	)
	control := racecontrol.New(stages,
		racecontrol.WithPublisher(publisher),
		racecontrol.WithInvalidator(classifier),
		racecontrol.WithLogger(log),
	)

	router := httptransport.NewRouter(httptransport.Deps{
		Ingest:      ingesthandler.New(gate, log),
		Classify:    classifyhandler.New(classifier, log),
		RaceControl: racecontrolhandler.New(control, log),
		Devices:     devicehandler.New(devices, log),
		DeviceAuth:  devices,
		RateLimit:   ratelimit.NewMiddleware(cfg.DeviceRateLimit, cfg.DeviceRateWindow, log),
		AdminToken:  cfg.AdminToken,
		Logger:      log,
	})

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
