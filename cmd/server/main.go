package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	specpkg "github.com/windseeker5/minipass-env-sub001/api"
	"github.com/windseeker5/minipass-env-sub001/internal/allocator"
	"github.com/windseeker5/minipass-env-sub001/internal/api"
	"github.com/windseeker5/minipass-env-sub001/internal/config"
	"github.com/windseeker5/minipass-env-sub001/internal/deploy"
	"github.com/windseeker5/minipass-env-sub001/internal/mailbox"
	"github.com/windseeker5/minipass-env-sub001/internal/notify"
	"github.com/windseeker5/minipass-env-sub001/internal/orchestrator"
	"github.com/windseeker5/minipass-env-sub001/internal/registry"
	"github.com/windseeker5/minipass-env-sub001/internal/runtime/compose"
	"github.com/windseeker5/minipass-env-sub001/internal/sweeper"
)

func main() {
	// Local development keeps configuration in a .env file; deployments
	// set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := registry.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to registry database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.RunMigrations {
		if err := registry.Migrate(cfg.DatabaseURL); err != nil {
			slog.Error("failed to run registry migrations", "error", err)
			os.Exit(1)
		}
	}

	repo := registry.NewRepository(db.Pool())

	deps := api.RouterDeps{
		DBPinger:    db,
		Version:     cfg.Version,
		OpenAPISpec: specpkg.OpenAPISpec,
	}

	engine, err := compose.Connect(compose.Config{BuildTimeout: cfg.BuildTimeout})
	if err != nil {
		// Health-only mode: report degraded and keep lifecycle routes
		// unmounted until the Docker client can be built.
		slog.Warn("docker client initialization failed; lifecycle endpoints are disabled", "error", err)
		deps.DockerChecker = &degradedChecker{err: err.Error()}
	} else {
		deps.DockerChecker = engine

		source := deploy.NewGitSource(cfg.TemplateRepoURL, cfg.TemplateBranch, cfg.GitTimeout)
		deployer := deploy.NewMaterializer(deploy.Config{
			DeployedRoot: cfg.DeployedRoot,
			BaseDomain:   cfg.BaseDomain,
			SharedAPIKey: cfg.SharedAPIKey,
			HookTimeout:  cfg.HookTimeout,
		}, source)

		alloc := allocator.New(repo, cfg.BasePort)

		var mail mailbox.Provisioner = mailbox.Disabled{}
		if cfg.MailboxAPIURL != "" {
			mail = mailbox.NewClient(cfg.MailboxAPIURL, cfg.MailboxAPIKey, cfg.MailDomain, cfg.HTTPTimeout)
		}

		var notifier notify.Notifier = notify.Noop{}
		if cfg.NotifyAPIURL != "" {
			notifier = notify.NewClient(cfg.NotifyAPIURL, cfg.NotifyAPIKey, cfg.HTTPTimeout)
		}

		orc := orchestrator.New(orchestrator.Deps{
			Repo:        repo,
			Allocator:   alloc,
			Deployer:    deployer,
			Runtime:     engine,
			Mailbox:     mail,
			Notifier:    notifier,
			BaseDomain:  cfg.BaseDomain,
			OpsEmail:    cfg.OpsEmail,
			StopTimeout: cfg.StopTimeout,
			BcryptCost:  cfg.BcryptCost,
		})

		worker := orchestrator.NewWorker(cfg.QueueSize)
		go worker.Start(ctx)

		sweep := sweeper.New(repo, engine, cfg.DeployedRoot, cfg.SweepInterval, cfg.StopTimeout)
		go sweep.Start(ctx)

		deps.Repo = repo
		deps.Allocator = alloc
		deps.Orchestrator = orc
		deps.Events = orc
		deps.Queue = worker
		deps.Sweeper = sweep
		deps.AdminToken = cfg.AdminToken
		deps.WebhookSecret = cfg.WebhookSecret
	}

	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN not set; operator endpoints are disabled")
	}
	if cfg.WebhookSecret == "" {
		slog.Warn("WEBHOOK_SECRET not set; billing webhook is disabled")
	}

	router := api.NewRouter(deps)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting minipass control plane", "port", cfg.Port, "version", cfg.Version,
			"baseDomain", cfg.BaseDomain, "deployedRoot", cfg.DeployedRoot)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Stops the worker and sweeper. An interrupted provisioning run leaves
	// a pending record and is resumed by the next attempt.
	cancel()

	slog.Info("server stopped gracefully")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// degradedChecker reports a down Docker host when no client is available.
type degradedChecker struct{ err string }

func (d *degradedChecker) CheckConnectivity(_ context.Context) compose.ConnectivityStatus {
	return compose.ConnectivityStatus{Connected: false, Error: d.err}
}
