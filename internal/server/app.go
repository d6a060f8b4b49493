// Package server initializes and runs the memo application server.
// It wires configuration, the database with its migrations, the blob
// store gateway, the summary enrichment worker and the HTTP endpoint,
// and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hi-space/next-memo/internal/logging"
	"github.com/hi-space/next-memo/internal/server/blob"
	"github.com/hi-space/next-memo/internal/server/config"
	"github.com/hi-space/next-memo/internal/server/httpapi"
	"github.com/hi-space/next-memo/internal/server/repositories/repomanager"
	"github.com/hi-space/next-memo/internal/server/services"
)

// shutdownTimeout bounds the HTTP drain on termination.
const shutdownTimeout = 10 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	memoService *services.MemoService
	summaries   *services.SummaryService
	worker      *services.EnrichmentWorker
	httpServer  *httpapi.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	blobs, err := blob.NewS3Gateway(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	summaries, err := services.NewSummaryService(ctx, db, repos, blobs, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("summary service init error: %w", err)
	}

	worker := services.NewEnrichmentWorker(summaries, cfg.EnrichQueueSize, logger)
	memoService := services.NewMemoService(db, repos, blobs, worker, cfg, logger)

	httpServer := httpapi.NewServer(cfg.EndpointAddrHTTP, httpapi.Deps{
		Memos:     memoService,
		Summaries: summaries,
		Logger:    logger,
	})

	return &App{
		config:      cfg,
		logger:      logger,
		db:          db,
		memoService: memoService,
		summaries:   summaries,
		worker:      worker,
		httpServer:  httpServer,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.worker.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.httpServer.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, err.Error())
	}

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), err.Error())
	}

	app.logger.Info(context.Background(), "App stopped")
}
