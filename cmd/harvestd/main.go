package main

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"adharvest/lib/configutil"
	"adharvest/lib/harvest"
	"adharvest/lib/osutil"
	"adharvest/lib/serviceutil"
	"adharvest/lib/sources"
	"adharvest/lib/telemetry"
	"adharvest/services/harvests"
	"adharvest/services/harvests/db"
)

var tracer = telemetry.Tracer("adharvest.cmd.harvestd")

func harvestCycle(ctx context.Context, cfg Config, service harvests.Service) []sourceOutcome {
	ctx, span := tracer.Start(ctx, "harvestCycle")
	defer span.End()

	var outcomes []sourceOutcome
	for _, src := range cfg.Sources {
		if ctx.Err() != nil {
			return outcomes
		}

		outcome := sourceOutcome{Source: src.Name}

		fetch, closeSource, err := sources.Build(ctx, src)
		if err != nil {
			slog.ErrorContext(ctx, "failed to build source", "source", src.Name, "err", err)
			outcome.Err = err
			outcomes = append(outcomes, outcome)
			continue
		}

		session, harvestErr := harvest.Harvest(ctx, fetch, src.Harvest.Options())
		closeSource()

		id, err := service.SaveSession(ctx, src.Name, session)
		if err != nil {
			slog.ErrorContext(ctx, "failed to store session", "source", src.Name, "err", err)
			outcome.Err = err
			outcomes = append(outcomes, outcome)
			continue
		}

		outcome.SessionId = id
		outcome.Status = string(session.Status)
		outcome.Pages = session.Pages
		outcome.Rows = len(session.Rows)
		outcome.Err = harvestErr

		slog.InfoContext(ctx, "source harvested",
			"source", src.Name,
			"session", id,
			"status", session.Status,
			"rows", len(session.Rows),
			"err", harvestErr,
		)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func applySchema(database *sql.DB) error {
	_, err := database.Exec(db.Schema)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return nil
	}
	return err
}

func main() {
	ctx := osutil.SignalContext()

	telemetry.SetupFromEnv(ctx, "harvestd")
	telemetry.InitSlog(false)
	defer telemetry.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	cfg, err := configutil.ReadRecursively[Config]("harvestd.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = 60
	}
	if len(cfg.Sources) == 0 {
		serviceutil.Fatal("no sources configured", nil)
	}

	database, err := cfg.Database.OpenDB()
	if err != nil {
		serviceutil.Fatal("failed to open db", err)
	}
	defer database.Close()
	if err := applySchema(database); err != nil {
		serviceutil.Fatal("failed to apply schema", err)
	}

	service := harvests.NewService(database)
	mailer := Mailer{config: cfg.Report}
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute

	slog.Info("harvestd started",
		"sources", len(cfg.Sources),
		"interval", interval,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		outcomes := harvestCycle(ctx, cfg, service)
		if err := mailer.SendReport(ctx, outcomes); err != nil {
			slog.Error("failed to send report", "err", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			return
		case <-ticker.C:
		}
	}
}
