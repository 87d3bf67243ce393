// Package serve wires the rules pipeline, alert dispatcher, violation store
// and HTTP API into the long-running service.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/smartsafety/safetyvision/internal/alerting"
	"github.com/smartsafety/safetyvision/internal/api"
	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/datastore"
	"github.com/smartsafety/safetyvision/internal/datastore/repository"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/lifecycle"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/notification"
	"github.com/smartsafety/safetyvision/internal/observability"
	"github.com/smartsafety/safetyvision/internal/pipeline"
)

const shutdownTimeout = 10 * time.Second

// Command creates the serve command.
func Command(configFile *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection ingest, alerting and violation API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := conf.Load(*configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				settings.WebServer.Port = port
			}
			return Run(cmd.Context(), settings)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port, overrides webserver.port")
	return cmd
}

// newLogger builds the root logger from the log section.
func newLogger(s *conf.Settings) logger.Logger {
	level := logger.ParseLevel(s.Log.Level)
	if s.Debug {
		level = logger.ParseLevel("debug")
	}
	if s.Log.Format == "text" {
		return logger.NewTextLogger(os.Stdout, level, nil)
	}
	return logger.NewSlogLogger(os.Stdout, level, nil)
}

func initSentry(s *conf.SentrySettings, log logger.Logger) (flush func(), err error) {
	if s.DSN == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              s.DSN,
		Environment:      s.Environment,
		AttachStacktrace: false,
	}); err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("error telemetry enabled", logger.String("environment", s.Environment))
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// stopAlerting drains the event bus, then closes the notification providers
// the bus delivers to. notifier may be nil.
func stopAlerting(bus *alerting.AlertEventBus, notifier *notification.Service, log logger.Logger) {
	bus.Stop()
	if notifier == nil {
		return
	}
	if err := notifier.Close(); err != nil {
		log.Warn("failed to close notification providers", logger.Error(err))
	}
}

// Run starts every component and blocks until ctx is cancelled or a
// termination signal arrives, then shuts down in reverse order.
func Run(parent context.Context, settings *conf.Settings) error {
	if parent == nil {
		parent = context.Background()
	}
	log := newLogger(settings)
	defer func() { _ = log.Flush() }()

	flushSentry, err := initSentry(&settings.Sentry, log)
	if err != nil {
		log.Warn("error telemetry disabled", logger.Error(err))
		flushSentry = func() {}
	}
	defer flushSentry()

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	db, err := datastore.Open(&settings.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := datastore.Close(db); err != nil {
			log.Warn("failed to close database", logger.Error(err))
		}
	}()
	repo := repository.NewViolationRepository(db)

	lcOpts := lifecycle.Options{}
	esc := settings.Lifecycle.Escalation
	if esc.Enabled {
		lcOpts.EscalationDeadline = esc.Deadline.Std()
	}
	manager := lifecycle.NewManager(repo, lcOpts, log, m.Lifecycle)
	manager.StartRetentionSweep(settings.Lifecycle.RetentionDays, settings.Lifecycle.SweepInterval.Std())
	defer manager.Stop()

	hub := alerting.NewHub(settings.Dispatcher.SendTimeout.Std(), log, m.Dispatcher)
	bus := alerting.NewAlertEventBus(log, m.Dispatcher)

	dispatcher := alerting.NewDispatcher(hub, manager,
		alerting.SeverityClassifierFromConfig(&settings.Dispatcher), bus,
		alerting.DispatcherOptions{
			DefaultCooldown: settings.Dispatcher.Cooldown.Std(),
			StorageTimeout:  settings.Dispatcher.StorageTimeout.Std(),
		}, log, m.Dispatcher)

	notifier, err := notification.NewServiceFromSettings(parent, &settings.Notification, log, m.Notification)
	if err != nil {
		log.Warn("notification providers unavailable", logger.Error(err))
	}
	if notifier != nil {
		notifier.Attach(bus)
	}
	defer stopAlerting(bus, notifier, log)

	pipeCfg, err := pipeline.ConfigFromSettings(settings)
	if err != nil {
		return err
	}
	processor := pipeline.NewProcessor(pipeCfg, dispatcher, log, m.Rules)
	processor.SetStatusNotifier(dispatcher)

	srv := api.NewServer(&settings.WebServer, log)
	controller := api.New(srv.Echo(), manager, dispatcher, log,
		api.WithProcessor(processor),
		api.WithMetrics(m))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	watcherCtx, cancelWatcher := context.WithCancel(context.Background())
	defer cancelWatcher()
	if esc.Enabled {
		watcher := alerting.NewEscalationWatcher(manager, esc.Level, esc.Interval.Std(), bus, log)
		g.Go(func() error { return watcher.Run(watcherCtx) })
	}

	g.Go(func() error { return controller.RunStatsBroadcast(gctx, settings.Dispatcher.StatsInterval.Std()) })

	g.Go(func() error {
		log.Info("starting HTTP server", logger.Int("port", settings.WebServer.Port))
		return srv.ListenAndServe()
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// Hijacked websocket connections are not closed by the HTTP server.
		hub.CloseAll()
		cancelWatcher()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", logger.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}
