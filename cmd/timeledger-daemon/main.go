// Command timeledger-daemon runs the full service: the HTTP API, the
// sync job worker, and the background staleness scheduler share one
// process and one connection pool.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quantumlife/timeledger/internal/auth"
	"github.com/quantumlife/timeledger/internal/classify"
	"github.com/quantumlife/timeledger/internal/config"
	"github.com/quantumlife/timeledger/internal/connectors/calendar/providers/google"
	"github.com/quantumlife/timeledger/internal/crypto"
	"github.com/quantumlife/timeledger/internal/database"
	"github.com/quantumlife/timeledger/internal/invoice"
	"github.com/quantumlife/timeledger/internal/server"
	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/internal/syncengine"
	"github.com/quantumlife/timeledger/internal/timeentry"
	"github.com/quantumlife/timeledger/pkg/clock"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		log.Fatal("daemon exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	cryptoSvc, err := crypto.NewEncryptionService(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	clk := clock.NewReal()

	users := store.NewUserStore(db.Pool)
	keys := store.NewAPIKeyStore(db.Pool)
	oauth := store.NewOAuthStore(db.Pool)
	projects := store.NewProjectStore(db.Pool)
	rules := store.NewClassificationRuleStore(db.Pool)
	overrides := store.NewClassificationOverrideStore(db.Pool)
	events := store.NewCalendarEventStore(db.Pool)
	calendars := store.NewCalendarStore(db.Pool)
	connections := store.NewCalendarConnectionStore(db.Pool, cryptoSvc)
	jobs := store.NewSyncJobStore(db.Pool)
	entries := store.NewTimeEntryStore(db.Pool)
	invoices := store.NewInvoiceStore(db.Pool)
	billing := store.NewBillingPeriodStore(db.Pool)

	authSvc := auth.NewService(log, clk, users, keys, oauth, cfg.SessionSecret)

	connector := google.NewConnector(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, clk)

	materializer := timeentry.NewMaterializer(db.Pool, log, events, entries, timeentry.Rounding{
		Granularity: cfg.RoundingGrainMinutes,
		UpThreshold: cfg.RoundingUpThresholdMinutes,
	})
	classifier := classify.NewService(log, events, rules, projects, overrides, materializer)
	invoiceEngine := invoice.NewEngine(db.Pool, log, invoices, entries, billing, projects, materializer)

	persister := syncengine.NewPgxPersister(db.Pool, log, connections, calendars, events)
	engine := syncengine.NewEngine(log, clk, connector, connections, calendars, jobs, persister, classifier, syncengine.Options{
		StaleThreshold:   cfg.StaleThreshold,
		FailureThreshold: cfg.SyncFailureThreshold,
	})
	worker := syncengine.NewWorker(log, clk, jobs, engine, syncengine.WorkerOptions{
		PollInterval:   cfg.JobPollInterval,
		Lease:          cfg.JobLease,
		MaxJobsPerTick: cfg.MaxJobsPerTick,
	})
	scheduler := syncengine.NewScheduler(log, clk, engine, jobs, cfg.SyncTickInterval)

	secureCookie := strings.HasPrefix(cfg.BaseURL, "https://")
	srv := server.New(log, authSvc, server.Stores{
		Users:       users,
		Projects:    projects,
		Rules:       rules,
		Events:      events,
		Calendars:   calendars,
		Connections: connections,
		Jobs:        jobs,
		Invoices:    invoices,
		Billing:     billing,
	}, classifier, materializer, invoiceEngine, engine, connector, secureCookie)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
