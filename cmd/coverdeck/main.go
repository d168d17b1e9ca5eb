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

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	archiveadapter "github.com/coverdeck/coverdeck/internal/adapter/driven/archive"
	sqliteadapter "github.com/coverdeck/coverdeck/internal/adapter/driven/sqlite"
	httphandler "github.com/coverdeck/coverdeck/internal/adapter/driving/http"
	"github.com/coverdeck/coverdeck/internal/application"
	"github.com/coverdeck/coverdeck/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"archive_root", cfg.ArchiveRoot,
		"worker_count", cfg.WorkerCount,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire driven adapters.
	repoStore := sqliteadapter.NewRepoRepo(db)
	commitStore := sqliteadapter.NewCommitRepo(db)
	reportStore := sqliteadapter.NewReportRepo(db)
	uploadStore := sqliteadapter.NewUploadRepo(db)
	lockManager := sqliteadapter.NewLeaseRepo(db)
	taskQueue := sqliteadapter.NewTaskRepo(db)

	archiveStore, err := archiveadapter.NewFilesystem(cfg.ArchiveRoot)
	if err != nil {
		return err
	}
	slog.Info("archive opened", "root", cfg.ArchiveRoot)

	// 6. Wire the pipeline services.
	notifier := application.NewQueueNotifier(taskQueue)
	loader := application.NewLoader(archiveStore, cfg.LoaderConcurrency)
	commitProcessor := application.NewCommitProcessor(
		repoStore, commitStore, reportStore, uploadStore, lockManager,
		archiveStore, loader, notifier,
		cfg.ArchiveSecret, cfg.LeaseTimeout, cfg.LockWaitTimeout,
	)
	bundleProcessor := application.NewBundleProcessor(
		repoStore, commitStore, reportStore, uploadStore, lockManager,
		archiveStore, notifier,
		cfg.ArchiveSecret, cfg.LeaseTimeout, cfg.LockWaitTimeout,
	)

	// 7. Start the worker pool.
	worker := application.NewWorker(taskQueue, commitProcessor, bundleProcessor,
		cfg.WorkerCount, cfg.QueuePollInterval)
	go worker.Start(ctx)
	slog.Info("worker pool started", "count", cfg.WorkerCount)

	// 8. Create HTTP handler and register intake routes.
	apiHandler := httphandler.NewHandler(
		repoStore, commitStore, reportStore, uploadStore,
		archiveStore, taskQueue, cfg.ArchiveSecret, slog.Default(),
	)
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("coverdeck started", "listen_addr", cfg.ListenAddr)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout for HTTP server drain; in-flight
	// units finish settling via the queue on the next startup.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
