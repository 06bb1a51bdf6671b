// seed inserts development sample records for local testing.
// Idempotent: skips inserts if the store already holds a signal.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"pulseboard/internal/config"
	"pulseboard/internal/db"
	"pulseboard/internal/logging"
	"pulseboard/internal/record/domain"
	"pulseboard/internal/record/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg, "pulseboard-seed")
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}

	conn, dialect, err := db.Open(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Error("database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	repo, err := repository.NewSQLRepository(conn, dialect, repository.Options{MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("repository", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()
	if err := repo.Init(ctx); err != nil {
		logger.Error("schema init", "error", err)
		os.Exit(1)
	}

	existing, err := repo.ListSignals(ctx, 1)
	if err != nil {
		logger.Error("list signals", "error", err)
		os.Exit(1)
	}
	if len(existing) > 0 {
		logger.Info("seed: store already has data, skipping")
		return
	}

	n := 0
	for _, rec := range sampleRecords(time.Now().UTC()) {
		if err := repo.Insert(ctx, rec); err != nil {
			logger.Error("seed insert", "kind", string(rec.Kind()), "error", err)
			os.Exit(1)
		}
		n++
	}
	logger.Info("seed: done", "records", n)
}

func sampleRecords(now time.Time) []domain.Record {
	desc := "Weekly sync with the platform team"
	snippet := "Numbers attached."
	return []domain.Record{
		&domain.Signal{
			Base: domain.Base{Timestamp: now.Add(-2 * time.Hour), Source: "extension",
				Data: object("url", "https://news.example.com/a", "title", "Launch notes")},
			Type: "page_visit",
		},
		&domain.Signal{
			Base: domain.Base{Timestamp: now.Add(-30 * time.Minute), Source: "telegram_bot", Data: object("level", "high")},
			Type: "alert",
		},
		&domain.Event{
			Base:        domain.Base{Timestamp: now.Add(26 * time.Hour), Source: "browser_automation_calendar", Data: domain.NewObject()},
			Name:        "Team standup",
			Description: &desc,
		},
		&domain.Email{
			Base:        domain.Base{Timestamp: now.Add(-time.Hour), Source: "browser_automation_gmail", Data: domain.NewObject()},
			Sender:      "alice@example.com",
			Subject:     "Quarterly report",
			BodySnippet: &snippet,
		},
	}
}

// object builds an Object of string values from alternating keys and values.
func object(kv ...string) domain.Object {
	o := domain.NewObject()
	for i := 0; i+1 < len(kv); i += 2 {
		o.Set(kv[i], domain.StringValue(kv[i+1]))
	}
	return o
}
