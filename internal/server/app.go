// Package server initializes and runs the main application: it wires the
// database, the object storage client and the upload/lifecycle services,
// and drives the periodic cleanup scheduler until shutdown.
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

	"github.com/andrejsk/dropvault/internal/logging"
	"github.com/andrejsk/dropvault/internal/server/config"
	"github.com/andrejsk/dropvault/internal/server/notify"
	"github.com/andrejsk/dropvault/internal/server/repositories/repomanager"
	"github.com/andrejsk/dropvault/internal/server/services"
	"github.com/andrejsk/dropvault/internal/server/storage"
)

type App struct {
	config         *config.Config
	logger         logging.Logger
	db             *sql.DB
	uploadService  *services.UploadService
	cleanupService *services.CleanupService
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	// The storage client is built once and injected; it is stateless per
	// call.
	store, err := storage.NewClient(ctx, storage.Config{
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		BaseEndpoint:  cfg.S3BaseEndpoint,
		RootUser:      cfg.S3RootUser,
		RootPassword:  cfg.S3RootPassword,
		PresignExpiry: cfg.PresignExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("storage client error: %w", err)
	}

	notifier := notify.NewLogNotifier(logger)

	us := services.NewUploadService(db, rm, store, cfg, logger, notifier)
	cs := services.NewCleanupService(db, rm, store, cfg, logger, notifier)

	return &App{config: cfg, logger: logger, db: db, uploadService: us, cleanupService: cs}, nil
}

// Uploads exposes the upload session manager to the request-handling layer.
func (app *App) Uploads() *services.UploadService {
	return app.uploadService
}

// Cleanup exposes the lifecycle scheduler entry point, e.g. for a manual
// operator invocation.
func (app *App) Cleanup() *services.CleanupService {
	return app.cleanupService
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runScheduler invokes the cleanup service on the configured interval until
// the context is canceled. An interrupted run resumes cleanly on the next
// tick because every stage only consumes records not yet transitioned.
func (app *App) runScheduler(ctx context.Context) {
	interval := app.config.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.cleanupService.RunCleanup(ctx); err != nil {
				app.logger.Error(ctx, "cleanup run interrupted", "error", err.Error())
			}
		}
	}
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
		app.runScheduler(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
}
