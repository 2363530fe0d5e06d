// Command ingestord runs the offer-ingestion orchestrator: it schedules the
// registered provider queries under a single global run lock, persists and
// scores every fetched offer, and aggregates affected companies. No sheet
// client is wired in, so feedback reconciliation and sheet sync do not run;
// startup logs them as disabled. It has two modes, selected by configuration: run every
// registered query once and exit, or run forever on a jittered cycle until
// asked to stop.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/offerwatch/ingestor/internal/app/services/ingest"
	"github.com/offerwatch/ingestor/internal/app/services/scheduler"
	"github.com/offerwatch/ingestor/internal/app/storage/postgres"
	"github.com/offerwatch/ingestor/internal/app/system"
	"github.com/offerwatch/ingestor/internal/config"
	"github.com/offerwatch/ingestor/internal/platform/database"
	"github.com/offerwatch/ingestor/internal/platform/migrations"
	logging "github.com/offerwatch/ingestor/pkg/logger"
)

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env)")
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	queriesPath := flag.String("queries", "", "path to the query registry file (overrides config)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup")
	mode := flag.String("mode", "", "run mode: once or forever (overrides config)")
	flag.Parse()

	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		os.Setenv("CONFIG_FILE", trimmed)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if trimmed := strings.TrimSpace(*dsn); trimmed != "" {
		cfg.Database.DSN = trimmed
	}
	if trimmed := strings.TrimSpace(*queriesPath); trimmed != "" {
		cfg.Scheduler.QueryRegistryFile = trimmed
	}
	if trimmed := config.RunMode(strings.TrimSpace(*mode)); trimmed != "" {
		cfg.Scheduler.Mode = trimmed
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log_ := logging.New(logging.LoggingConfig(cfg.Logging))

	rootCtx := context.Background()

	db, err := database.Open(rootCtx, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer db.Close()
	configurePool(db, cfg)

	if *runMigrations {
		if err := migrations.Apply(rootCtx, db); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
	}

	store := postgres.New(db)

	queries, err := loadQueries(cfg.Scheduler.QueryRegistryFile)
	if err != nil {
		log.Fatalf("load query registry: %v", err)
	}
	log_.WithFields(logging.Fields{"count": len(queries), "file": cfg.Scheduler.QueryRegistryFile}).Info("query registry loaded")

	ingestSvc := ingest.New(store, nil, time.Now)

	var limiterRate rate.Limit
	sched := scheduler.New(store, ingestSvc, queries, log_, cfg, limiterRate)

	// The curated sheet is an external collaborator with no concrete
	// transport in this module: feedback reconciliation and sheet sync
	// (internal/app/services/feedback, internal/app/services/sheetsync) need
	// a SheetReader/Client this deployment doesn't provide, so neither phase
	// is registered via sched.RegisterPostCycle — skipped, loudly, rather
	// than wired to a fabricated client.
	if strings.TrimSpace(cfg.Sheet.SpreadsheetID) == "" {
		log_.Info("no sheet configured, feedback reconciliation and sheet sync are disabled")
	} else {
		log_.WithFields(logging.Fields{"spreadsheet_id": cfg.Sheet.SpreadsheetID}).
			Warn("sheet configured but no concrete spreadsheet client is wired into this deployment; feedback reconciliation and sheet sync are disabled")
	}

	ctx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		<-sigCh
		log_.Warn("second termination signal received, forcing immediate exit")
		os.Exit(1)
	}()

	switch cfg.Scheduler.Mode {
	case config.RunOnce:
		summary, err := sched.RunOnce(ctx)
		if err != nil {
			log.Fatalf("run cycle: %v", err)
		}
		os.Exit(exitCode(summary))
	case config.RunForever:
		mgr := system.NewManager()
		mgr.Register(newSchedulerService(sched, log_))
		if err := mgr.Start(ctx); err != nil {
			log.Fatalf("start scheduler: %v", err)
		}

		<-ctx.Done()
		log_.Info("shutdown requested, stopping scheduler")

		stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelStop()
		if err := mgr.Stop(stopCtx); err != nil {
			log.Fatalf("stop scheduler: %v", err)
		}
	default:
		log.Fatalf("unsupported run mode %q", cfg.Scheduler.Mode)
	}
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}

// exitCode maps a completed cycle onto the process exit status: 0 when the
// run lock was held and every registered query succeeded, 1 when any query
// failed. A cycle that found the lock already held by another owner exits 0
// — another instance is doing the work this cycle.
func exitCode(summary scheduler.CycleSummary) int {
	if summary.QueriesFailed > 0 {
		return 1
	}
	return 0
}
