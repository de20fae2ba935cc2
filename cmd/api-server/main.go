package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"issueflow/db"
	"issueflow/db/migrations"
	"issueflow/internal/config"
	"issueflow/internal/handlers"
	"issueflow/internal/leaderboard"
	"issueflow/internal/logger"
	"issueflow/internal/routing"
	"issueflow/internal/tendering"
	"issueflow/internal/workflow"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DSN())
	if err != nil {
		return fmt.Errorf("cannot connect to DB: %w", err)
	}
	defer dbConn.Close()

	if cfg.MigrateOnStart {
		if err := migrations.Run(ctx, dbConn.DB, cfg.DatabaseDriver, log); err != nil {
			return err
		}
	}

	taxonomy, err := routing.LoadTaxonomy(cfg.TaxonomyFile)
	if err != nil {
		return err
	}
	log.Info("area taxonomy loaded", zap.String("file", cfg.TaxonomyFile), zap.Int("areas", len(taxonomy.Areas)))

	store := db.NewStorage(dbConn, db.WithMaxRetries(cfg.TxMaxRetries))
	flow := workflow.New(store, taxonomy, workflow.WithLogger(log.Named("workflow")))
	tenders := tendering.New(store, flow, tendering.WithLogger(log.Named("tendering")))
	board := leaderboard.NewService(store, time.Now)
	h := handlers.NewHandler(flow, store, tenders, board, log.Named("http"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(log.Named("access")))
	r.Use(middleware.Recoverer)
	r.Route("/api", h.Routes)

	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", zap.String("addr", cfg.ServerAddress), zap.String("driver", cfg.DatabaseDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
