package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"

	"github.com/microtask/dispatch/internal/config"
	"github.com/microtask/dispatch/internal/dispatch"
	"github.com/microtask/dispatch/internal/eventbus"
	"github.com/microtask/dispatch/internal/httpapi"
	"github.com/microtask/dispatch/internal/metrics"
	"github.com/microtask/dispatch/internal/notification"
	"github.com/microtask/dispatch/internal/pkginstall"
	pushsubrepo "github.com/microtask/dispatch/internal/pushsubscription/repositoryimpl"
	taskrepo "github.com/microtask/dispatch/internal/task/repositoryimpl"
	workrepo "github.com/microtask/dispatch/internal/work/repositoryimpl"
	"github.com/microtask/dispatch/pkg/clog"
	"github.com/microtask/dispatch/pkg/storage"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup storage
	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
	}

	// Setup event bus and metrics
	bus := eventbus.New()
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// Setup repositories
	taskRepo := taskrepo.NewYAMLRepository(store)
	workRepo := workrepo.NewYAMLRepository(store)
	pushSubRepo := pushsubrepo.NewYAMLRepository(store)

	// Setup dispatch core
	dispatchEnv := config.DispatchEnvFromEnv(env)
	generator := dispatch.NewGenerator(dispatchEnv)
	scheduler := dispatch.NewScheduler(workRepo, bus, collector, dispatchEnv)
	processor := dispatch.NewProcessor(taskRepo, workRepo, generator, bus, collector)
	service := dispatch.NewService(taskRepo, workRepo, generator, bus, collector, dispatchEnv)

	// Setup collaborators
	pushSender := notification.NewSender(config.VAPIDEnvFromEnv(env), pushSubRepo)
	pushDispatcher := notification.NewDispatcher(bus, taskRepo, pushSender)
	installer := pkginstall.NewInstaller(config.PackageInstallEnvFromEnv(env), bus, processor)

	apiHandler := httpapi.NewHandler(service, scheduler, processor, pushSubRepo)
	srv := httpapi.NewServer(env, apiHandler, registry)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() { scheduler.RunSweeper(ctx) })
	wg.Go(func() { pushDispatcher.Start(ctx) })
	wg.Go(func() { installer.Run(ctx) })
	wg.Go(func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	})

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	wg.Wait()
}
