package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"notification-dispatcher/internal/api"
	"notification-dispatcher/internal/audit"
	"notification-dispatcher/internal/common/aws"
	"notification-dispatcher/internal/common/camunda"
	"notification-dispatcher/internal/common/config"
	"notification-dispatcher/internal/common/database"
	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/common/messaging"
	"notification-dispatcher/internal/common/observability"
	"notification-dispatcher/internal/models"
	"notification-dispatcher/internal/notification"
	"notification-dispatcher/internal/notification/channel"
	"notification-dispatcher/internal/notification/fanout"
	"notification-dispatcher/internal/notification/ledger"
	"notification-dispatcher/internal/notification/preference"
	"notification-dispatcher/internal/notification/recipient"
	"notification-dispatcher/internal/notification/sweeper"
	raiseevent "notification-dispatcher/internal/workers/notification/raise-event"
	"notification-dispatcher/pkg/registry"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// app owns the process-wide connections shared by every subcommand.
type app struct {
	cfg        *config.Config
	configPath string
	zapLog     *zap.Logger
	level      zap.AtomicLevel
	log        logger.Logger
	obs        *observability.Observability

	pg    *database.PostgresClient
	redis *database.RedisClient
	es    *database.ElasticsearchClient
}

// core is the notification pipeline built on top of app's connections.
type core struct {
	registry *registry.EventRegistry
	engine   *fanout.Engine
	notifier *fanout.Notifier
	sweeper  *sweeper.Sweeper
	service  *notification.Service
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFromFile(path)
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	zapLog, level := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.NewZapAdapter(zapLog)
	a := &app{
		cfg:        cfg,
		configPath: configPath,
		zapLog:     zapLog,
		level:      level,
		log:        log,
		obs:        observability.New(cfg.App.Name, log),
	}

	err = retryWithBackoff(func() error {
		var err error
		a.pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return a.pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		a.close()
		return nil, err
	}
	zapLog.Info("PostgreSQL connected successfully")

	err = retryWithBackoff(func() error {
		var err error
		a.redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return a.redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		a.close()
		return nil, err
	}
	zapLog.Info("Redis connected successfully")

	if cfg.Database.Elasticsearch.Enabled() {
		err = retryWithBackoff(func() error {
			var err error
			a.es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			if err := a.es.Ping(ctx); err != nil {
				return err
			}
			return a.es.EnsureIndex(ctx, cfg.Database.Elasticsearch.Index, audit.Mapping)
		}, 5, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			// the failure index is for operators only
			zapLog.Warn("elasticsearch unavailable, exhausted records will not be indexed", zap.Error(err))
			a.es = nil
		} else {
			zapLog.Info("Elasticsearch connected successfully")
		}
	}

	if cfg.Database.Postgres.MigrateOnStart {
		if err := database.Migrate(ctx, a.pg.GetDB(), log); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.obs != nil {
		a.obs.Shutdown()
	}
	_ = a.zapLog.Sync()
}

func (a *app) buildCore(ctx context.Context) (*core, error) {
	cfg := a.cfg
	db := a.pg.GetDB()
	rdb := a.redis.GetClient()

	reg, err := registry.Default()
	if err != nil {
		return nil, fmt.Errorf("load event registry: %w", err)
	}

	directory := recipient.NewPostgresDirectory(db)
	var records ledger.Ledger = ledger.NewPostgresLedger(db)

	var prefStore preference.Store = preference.NewPostgresStore(db)
	if cfg.Preferences.CacheTTL > 0 {
		prefStore = preference.NewCachedStore(prefStore, rdb, config.GetDuration(cfg.Preferences.CacheTTL), a.log)
	}

	renderer, err := channel.NewRenderer(cfg.Email.AppName, cfg.App.BaseURL)
	if err != nil {
		return nil, err
	}
	mailer, err := a.newMailer(ctx)
	if err != nil {
		return nil, err
	}

	redisPush := channel.NewRedisPushTransport(rdb, cfg.Push.ChannelPrefix, a.log)
	var push channel.Transport = redisPush
	if cfg.Push.Provider == "sns" {
		client, err := aws.NewSNSClient(ctx, cfg.Push.SNS.Region)
		if err != nil {
			return nil, err
		}
		push = channel.NewSNSPushTransport(client, cfg.Push.SNS.TopicARNTemplate, a.log)
	}

	transports := map[models.Channel]channel.Transport{
		models.ChannelEmail: channel.NewEmailTransport(directory, mailer, renderer),
		models.ChannelPush:  push,
		models.ChannelInApp: channel.InAppTransport{},
	}
	// socket clients listen on redis for unread counts whichever push provider is configured
	dispatcher := channel.NewDispatcher(transports, records, redisPush, config.GetDuration(cfg.Channel.AttemptTimeout), a.log)

	claimTTL := config.GetDuration(cfg.Sweeper.ClaimTTL)
	engine := fanout.NewEngine(
		recipient.NewResolver(directory),
		preference.NewResolver(prefStore),
		records,
		dispatcher,
		fanout.Config{
			Workers:             cfg.Fanout.Workers,
			QueueSize:           cfg.Fanout.QueueSize,
			MaxParallelDispatch: cfg.Fanout.MaxParallelDispatch,
			ClaimTTL:            claimTTL,
		},
		a.log,
		fanout.WithObservability(a.obs),
	)

	var index sweeper.FailureIndex
	if a.es != nil {
		index = audit.NewFailureIndex(a.es.Client, cfg.Database.Elasticsearch.Index, a.log)
	}
	sw := sweeper.New(records, dispatcher, index, sweeper.Config{
		Interval:    config.GetDuration(cfg.Sweeper.Interval),
		MaxRetries:  cfg.Sweeper.MaxRetries,
		BatchSize:   cfg.Sweeper.BatchSize,
		ClaimTTL:    claimTTL,
		Concurrency: cfg.Sweeper.Concurrency,
	}, a.log)

	return &core{
		registry: reg,
		engine:   engine,
		notifier: fanout.NewNotifier(engine, "api", a.log),
		sweeper:  sw,
		service:  notification.NewService(records, preference.NewService(prefStore, a.log), a.log),
	}, nil
}

func (a *app) newMailer(ctx context.Context) (channel.Mailer, error) {
	cfg := a.cfg.Email
	switch cfg.Provider {
	case "postmark":
		client := channel.NewPostmarkClient(cfg.Postmark.ServerToken, cfg.Postmark.AccountToken)
		return channel.NewPostmarkMailer(client, cfg.FromEmail), nil
	default:
		client, err := aws.NewSESClient(ctx, cfg.SES.Region)
		if err != nil {
			return nil, err
		}
		return channel.NewSESMailer(client, cfg.FromEmail), nil
	}
}

func (a *app) serve(ctx context.Context) error {
	if a.configPath != "" {
		config.Watch(a.configPath, func(c *config.Config) {
			a.level.SetLevel(logger.ParseLevel(c.Logging.Level))
			a.log.Info("log level reloaded", map[string]interface{}{"level": c.Logging.Level})
		}, func(err error) {
			a.log.Warn("config reload rejected", map[string]interface{}{"error": err})
		})
	}

	c, err := a.buildCore(ctx)
	if err != nil {
		return err
	}
	c.engine.Start()

	httpEvents, err := raiseevent.NewHandler(raiseevent.LoadConfig(), c.registry, c.notifier.WithSource("http"), a.log)
	if err != nil {
		return err
	}

	// --- Camunda job workers, one per registry task type ---
	var (
		zeebe   *camunda.Client
		workers []*camunda.CamundaWorker
	)
	if a.cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClient(a.cfg.Camunda.BrokerAddress)
			return err
		}, 10, 2*time.Second, a.zapLog, "Zeebe client initialization")
		if err != nil {
			return err
		}
		handler, err := raiseevent.NewHandler(raiseevent.LoadConfig(), c.registry, c.notifier.WithSource("zeebe"), a.log)
		if err != nil {
			return err
		}
		for _, def := range c.registry.Events {
			workers = append(workers, camunda.NewWorker(
				zeebe.GetClient(),
				def.TaskType,
				a.cfg.Camunda.MaxJobsActive,
				config.GetDuration(a.cfg.Camunda.Timeout),
				handler,
				a.log,
			))
		}
		a.zapLog.Info("camunda workers registered", zap.Int("count", len(workers)))
	}

	// --- NATS subscriptions, one per registry subject ---
	var (
		nc         *nats.Conn
		subscriber *messaging.Subscriber
	)
	if a.cfg.NATS.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			nc, err = messaging.Connect(a.cfg.NATS.URL, a.cfg.App.Name, a.log)
			return err
		}, 10, 2*time.Second, a.zapLog, "NATS connection")
		if err != nil {
			return err
		}
		handler, err := raiseevent.NewHandler(raiseevent.LoadConfig(), c.registry, c.notifier.WithSource("nats"), a.log)
		if err != nil {
			return err
		}
		subscriber = messaging.NewSubscriber(nc, a.cfg.NATS.QueueGroup, raiseevent.LoadConfig().Timeout, a.log)
		for _, def := range c.registry.Events {
			if err := subscriber.Subscribe(def.Subject, handler.HandleMessage); err != nil {
				return err
			}
		}
	}

	// --- Retry sweeper ---
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	if a.cfg.Sweeper.Enabled {
		go func() {
			defer close(sweepDone)
			c.sweeper.Run(sweepCtx)
		}()
	} else {
		close(sweepDone)
	}

	// --- HTTP API, health and metrics ---
	checks := map[string]api.HealthCheck{
		"postgres": a.pg.Ping,
		"redis":    a.redis.Ping,
	}
	if zeebe != nil {
		checks["camunda"] = zeebe.HealthCheck
	}
	if nc != nil {
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}
	srv := api.NewServer(c.service, httpEvents, c.notifier.WithSource("admin"), checks, a.cfg.App.Version, a.log).HTTPServer(a.cfg.HTTP.Address)
	serverErr := make(chan error, 1)
	go func() {
		a.zapLog.Info("HTTP server listening", zap.String("address", a.cfg.HTTP.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// --- Graceful Shutdown ---
	var runErr error
	select {
	case <-ctx.Done():
		a.zapLog.Info("Shutdown signal received, stopping intake...")
	case runErr = <-serverErr:
		a.zapLog.Error("HTTP server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	if subscriber != nil {
		subscriber.Close()
	}
	for _, w := range workers {
		w.Stop()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			a.zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			a.zapLog.Warn("Error draining NATS connection", zap.Error(err))
		}
	}

	// queued events are fanned out before the sweeper stops
	c.engine.Close()
	stopSweeper()
	<-sweepDone

	a.zapLog.Info("Notification dispatcher stopped gracefully")
	return runErr
}
