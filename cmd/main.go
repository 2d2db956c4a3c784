package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskflow/internal/client"
	"taskflow/internal/config"
	"taskflow/internal/controller"
	"taskflow/internal/platform"
	"taskflow/internal/queue"
	"taskflow/internal/realtime"
	"taskflow/internal/repository"
	"taskflow/internal/routes"
	"taskflow/internal/service"
	"taskflow/internal/worker"
	"taskflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error(context.Background(), "Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	logger.SetDefault(logger.ForService(cfg.Role))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error(ctx, "Process stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info(ctx, "Process stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	p, err := platform.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	g, ctx := errgroup.WithContext(ctx)
	sub := p.Subscriber()
	deps := routes.Deps{
		Push:      p.Push,
		Ready:     map[string]controller.Pinger{"state store": p.Store},
		JWTSecret: cfg.JWTSecret,
	}

	var tasks client.Tasks
	if cfg.Runs(config.RoleBackend) {
		reminders := service.NewReminderScheduler(repository.NewReminders(p.Store), p.Jobs, cfg.ReminderOffset, nil)
		svc := service.NewTaskService(repository.NewTasks(p.Store), p.Bus,
			service.Topics{Lifecycle: cfg.TopicTaskEvents, Sync: cfg.TopicTaskUpdates},
			service.WithReminders(reminders))
		trigger := service.NewReminderTrigger(reminders, p.Bus, cfg.TopicReminders)
		relay := realtime.NewRelay(cfg.RelaySendTimeout, cfg.RelayFanout)
		defer relay.Close()

		// Every backend replica needs every sync event for its own clients.
		if err := sub.Subscribe(ctx, cfg.TopicTaskUpdates, "relay-"+uuid.NewString(), relay.Handle); err != nil {
			return err
		}
		g.Go(func() error { return p.Jobs.Run(ctx, trigger.Fire) })

		deps.Tasks, deps.Trigger, deps.Relay = svc, trigger, relay
		tasks = client.NewLocal(svc)
	} else {
		tasks = client.NewHTTP(cfg.TaskServiceURL, cfg.RemoteTimeout)
	}

	if err := subscribeConsumers(ctx, cfg, p, sub, tasks); err != nil {
		return err
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      routes.Router(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	g.Go(func() error {
		logger.Info(ctx, "HTTP server listening", "port", cfg.HTTPPort, "role", cfg.Role)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info(context.Background(), "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func subscribeConsumers(ctx context.Context, cfg *config.Config, p *platform.Platform, sub queue.Subscriber, tasks client.Tasks) error {
	if cfg.Runs(config.RoleAudit) {
		audit := worker.NewAudit(repository.NewAuditLog(p.Store), nil)
		if err := sub.Subscribe(ctx, cfg.TopicTaskEvents, "audit", audit.Handle); err != nil {
			return err
		}
	}
	if cfg.Runs(config.RoleRecurring) {
		recurring := worker.NewRecurring(tasks, repository.NewRecurrences(p.Store), nil)
		if err := sub.Subscribe(ctx, cfg.TopicTaskEvents, "recurring", recurring.Handle); err != nil {
			return err
		}
	}
	if cfg.Runs(config.RoleNotification) {
		notifier := worker.NewNotifier(repository.NewNotifications(p.Store), nil)
		if err := sub.Subscribe(ctx, cfg.TopicReminders, "notification", notifier.Handle); err != nil {
			return err
		}
	}
	return nil
}
