// Command recipients loads recipient records from a JSON file into the
// store, for local stacks and for seeding a fresh database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"reelcast/internal/app"
	"reelcast/internal/config"
	"reelcast/internal/models"
	"reelcast/internal/pkg/logger"
	"reelcast/internal/repositories"
)

func main() {
	file := flag.String("file", "recipients.json", "JSON array of recipient records")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}
	log := app.NewLogger(cfg.Logging, "reelcast-recipients")

	raw, err := os.ReadFile(*file)
	if err != nil {
		log.LogFatal("read recipients file", err, "file", *file)
	}
	var recipients []models.Recipient
	if err := json.Unmarshal(raw, &recipients); err != nil {
		log.LogFatal("decode recipients file", err, "file", *file)
	}

	ctx := context.Background()
	store, err := repositories.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		log.LogFatal("open store", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.LogFatal("migrate store", err)
	}
	if err := store.UpsertRecipients(ctx, recipients); err != nil {
		log.LogFatal("upsert recipients", err)
	}
	log.Info("recipients loaded", "count", len(recipients), "driver", store.Driver())
}
