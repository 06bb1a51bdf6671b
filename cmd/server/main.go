package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulseboard/internal/config"
	"pulseboard/internal/db"
	"pulseboard/internal/logging"
	"pulseboard/internal/record/repository"
	"pulseboard/internal/server"
	"pulseboard/internal/telemetry"
	"pulseboard/internal/telemetry/metrics"
	telemetryotel "pulseboard/internal/telemetry/otel"
	"pulseboard/internal/telemetry/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg, "pulseboard-api")

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		logger.Error("otel", "error", err)
		os.Exit(1)
	}
	providers.SetGlobal()

	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer, err := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if err != nil {
		logger.Error("kafka producer", "error", err)
		os.Exit(1)
	}
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		logger.Info("telemetry events to kafka", "topic", kafkaProducer.Topic())
	}
	emitter := telemetry.Multi(emitters...)

	conn, dialect, err := db.Open(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Error("database", "error", err)
		os.Exit(1)
	}
	repo, err := repository.NewSQLRepository(conn, dialect, repository.Options{
		MaxConns:       cfg.DBMaxConns,
		AcquireTimeout: cfg.AcquireTimeout(),
	})
	if err != nil {
		logger.Error("repository", "error", err)
		os.Exit(1)
	}
	if err := repo.Init(ctx); err != nil {
		logger.Error("schema init", "error", err)
		os.Exit(1)
	}
	logger.Info("database ready", "dialect", string(dialect))

	handler, err := server.NewRouter(server.Deps{
		Store:          repo,
		Emitter:        emitter,
		Metrics:        metrics.New(),
		Logger:         logger,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	if err != nil {
		logger.Error("router", "error", err)
		os.Exit(1)
	}
	srv := server.New(cfg.HTTPAddr, handler)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("serve", "error", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down http server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	// In-flight EmitAsync calls finish within the drain window.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			logger.Warn("kafka producer close", "error", err)
		}
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", "error", err)
	}
	if err := conn.Close(); err != nil {
		logger.Warn("database close", "error", err)
	}
	logger.Info("http server stopped")
}
