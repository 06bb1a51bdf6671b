// ingest runs the scrape-and-store cycle: every configured source is fetched, its items are
// normalized and appended to the store. Runs once with -once, otherwise every -interval.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"pulseboard/internal/artifact"
	"pulseboard/internal/config"
	"pulseboard/internal/db"
	"pulseboard/internal/ingest"
	"pulseboard/internal/ingest/normalize"
	"pulseboard/internal/ingest/source"
	_ "pulseboard/internal/ingest/source/browser"
	"pulseboard/internal/logging"
	"pulseboard/internal/record/domain"
	"pulseboard/internal/record/repository"
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

	var (
		cfgPath     = flag.String("config", cfg.SourcesFile, "path to the sources YAML file")
		interval    = flag.Duration("interval", cfg.Interval(), "run interval")
		once        = flag.Bool("once", false, "run a single cycle then exit")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9108)")
	)
	flag.Parse()
	if err := config.CheckInterval(*interval); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -interval: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.Setup(cfg, "pulseboard-ingest")
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sourcesCfg, err := source.LoadConfig(*cfgPath)
	if err != nil {
		logger.Error("load sources", "error", err)
		os.Exit(1)
	}
	artifacts, err := artifact.NewStoreFromConfig(ctx, cfg)
	if err != nil {
		logger.Error("artifact store", "error", err)
		os.Exit(1)
	}
	srcs, err := source.Build(sourcesCfg, source.Deps{Artifacts: artifacts, Logger: logger})
	if err != nil {
		logger.Error("build sources", "error", err)
		os.Exit(1)
	}
	if len(srcs) == 0 {
		logger.Error("no sources configured", "file", *cfgPath)
		os.Exit(1)
	}
	for _, s := range srcs {
		logger.Info("configured source", "source", s.Name(), "kind", string(s.Kind()))
	}

	loc := time.UTC
	if sourcesCfg.Timezone != "" {
		// Build has already validated the zone.
		if l, err := time.LoadLocation(sourcesCfg.Timezone); err == nil {
			loc = l
		}
	}

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
	}

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

	m := metrics.New()
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			logger.Info("metrics listening", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server", "error", err)
			}
		}()
	}

	pipeline := ingest.New(repo, normalize.New(loc),
		ingest.WithEmitter(telemetry.Multi(emitters...)),
		ingest.WithMetrics(m),
		ingest.WithLogger(logger),
	)

	exitCode := 0
	runOnce := func() bool {
		report, err := pipeline.Run(ctx, srcs)
		if err != nil {
			if errors.Is(err, domain.ErrNotInitialized) {
				logger.Error("ingest aborted: store not initialized", "error", err)
				exitCode = 1
				return false
			}
			if ctx.Err() == nil {
				logger.Error("ingest run", "error", err)
			}
		}
		if report != nil && *once && report.Failed() > 0 && report.Inserted() == 0 {
			exitCode = 1
		}
		return ctx.Err() == nil
	}

	if runOnce() && !*once {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				if !runOnce() {
					break loop
				}
			}
		}
	}

	// In-flight ingest.batch events finish within the drain window.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if kafkaProducer != nil {
		_ = kafkaProducer.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", "error", err)
	}
	cancel()
	_ = conn.Close()
	if c, ok := artifacts.(io.Closer); ok {
		_ = c.Close()
	}
	logger.Info("ingest stopped")
	os.Exit(exitCode)
}
