package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/reclaimarr/reclaimarr/internal/api"
	"github.com/reclaimarr/reclaimarr/internal/arr"
	"github.com/reclaimarr/reclaimarr/internal/config"
	"github.com/reclaimarr/reclaimarr/internal/database"
	"github.com/reclaimarr/reclaimarr/internal/deletion"
	"github.com/reclaimarr/reclaimarr/internal/health"
	"github.com/reclaimarr/reclaimarr/internal/history"
	"github.com/reclaimarr/reclaimarr/internal/logger"
	"github.com/reclaimarr/reclaimarr/internal/media"
	"github.com/reclaimarr/reclaimarr/internal/notification"
	"github.com/reclaimarr/reclaimarr/internal/progress"
	"github.com/reclaimarr/reclaimarr/internal/queue"
	"github.com/reclaimarr/reclaimarr/internal/retention"
	"github.com/reclaimarr/reclaimarr/internal/rules"
	"github.com/reclaimarr/reclaimarr/internal/scheduler"
	"github.com/reclaimarr/reclaimarr/internal/scheduler/tasks"
	"github.com/reclaimarr/reclaimarr/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	envFile := flag.String("env", ".env", "Optional dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic("failed to load env file: " + err.Error())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		Path:            cfg.Logging.Path,
		MaxSizeMB:       cfg.Logging.MaxSizeMB,
		MaxBackups:      cfg.Logging.MaxBackups,
		MaxAgeDays:      cfg.Logging.MaxAgeDays,
		Compress:        cfg.Logging.Compress,
		EnableStreaming: true,
		BufferSize:      1000,
	})
	defer log.Close()

	log.Info().
		Str("version", config.Version).
		Str("logLevel", cfg.Logging.Level).
		Bool("dryRun", cfg.Retention.DryRun).
		Msg("starting Reclaimarr")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	log.Info().Msg("running database migrations")
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub(log.Logger)
	go hub.Run(ctx)

	// Enable log streaming via WebSocket now that hub is available
	log.SetBroadcastHub(hub)

	app, err := build(ctx, cfg, db, hub, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize services")
	}

	server, err := api.NewServer(api.Deps{
		Config:        cfg,
		Media:         app.media,
		Rules:         app.rules,
		Engine:        app.engine,
		Queue:         app.queue,
		Processor:     app.processor,
		History:       app.history,
		Retention:     app.retention,
		Notifications: app.notifications,
		Scheduler:     app.scheduler,
		Health:        app.health,
		Progress:      app.progress,
		Hub:           hub,
		Logs:          log,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create API server")
	}

	if err := app.scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.Server.Address())
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	if err := app.scheduler.Stop(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown error")
	}
	app.notifications.Wait()

	log.Info().Msg("server stopped")
}

type services struct {
	media         *media.Store
	rules         *rules.Store
	engine        *rules.Engine
	history       *history.Service
	notifications *notification.Service
	queue         *queue.Service
	processor     *queue.Processor
	retention     *retention.Service
	scheduler     *scheduler.Scheduler
	health        *health.Service
	progress      *progress.Manager
}

func build(ctx context.Context, cfg *config.Config, db *database.DB, hub *websocket.Hub, log zerolog.Logger) (*services, error) {
	s := &services{
		media:   media.NewStore(db.Conn(), log),
		rules:   rules.NewStore(db.Conn(), log),
		history: history.NewService(db.Conn(), log),
		health:  health.NewService(log),
	}
	s.health.SetBroadcaster(hub)
	s.history.SetRetentionSettings(cfg.History)

	if cfg.RulesFile != "" {
		stats, err := rules.LoadFile(ctx, s.rules, cfg.RulesFile, log)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("file", cfg.RulesFile).
			Int("created", stats.Created).
			Int("updated", stats.Updated).
			Int("failed", stats.Failed).
			Msg("imported rules")
	}

	s.engine = rules.NewEngine(cfg.Retention.Rules(), cfg.Retention.Protection, log)

	notifications, err := notification.NewService(cfg.Notifications, log)
	if err != nil {
		return nil, err
	}
	s.notifications = notifications

	executor, err := newExecutor(cfg, s.health, log)
	if err != nil {
		return nil, err
	}

	tracker := progress.NewManager(hub, log)
	s.progress = tracker
	queueOpts := []queue.Option{
		queue.WithHistory(s.history),
		queue.WithNotifier(s.notifications),
		queue.WithBroadcaster(hub),
		queue.WithProgress(tracker),
	}

	if s.queue, err = queue.NewService(s.media, cfg.Retention.Queue, log, queueOpts...); err != nil {
		return nil, err
	}
	if s.processor, err = queue.NewProcessor(s.media, executor, cfg.Retention.Queue, log, queueOpts...); err != nil {
		return nil, err
	}

	s.retention, err = retention.NewService(s.engine, s.rules, s.media, s.queue, log,
		retention.WithNotifier(s.notifications),
		retention.WithHistory(s.history),
		retention.WithProgress(tracker),
	)
	if err != nil {
		return nil, err
	}

	if s.scheduler, err = scheduler.New(log); err != nil {
		return nil, err
	}
	s.scheduler.SetHealthReporter(s.health)
	schedule := cfg.Retention.Schedule
	if err := tasks.RegisterRuleEvaluationTask(s.scheduler, s.retention, schedule, log); err != nil {
		return nil, err
	}
	if err := tasks.RegisterQueueSweepTask(s.scheduler, s.processor, schedule, log); err != nil {
		return nil, err
	}
	if err := tasks.RegisterHistoryCleanupTask(s.scheduler, s.history, schedule.HistoryCleanup); err != nil {
		return nil, err
	}

	return s, nil
}

// newExecutor wires the configured *arr services into the deletion executor
// and registers each with the health service. Steps that need an
// unconfigured service are skipped.
func newExecutor(cfg *config.Config, hs *health.Service, log zerolog.Logger) (*deletion.ArrExecutor, error) {
	var opts []deletion.ExecutorOption
	withHealth := arr.WithHealth(hs)

	if cfg.Radarr.Enabled() {
		radarr, err := arr.NewRadarr(cfg.Radarr, cfg.Breaker, log, withHealth)
		if err != nil {
			return nil, err
		}
		hs.RegisterCheck(health.CategoryServices, "radarr", "Radarr", radarr.Ping)
		opts = append(opts, deletion.WithRadarr(radarr))
	}
	if cfg.Sonarr.Enabled() {
		sonarr, err := arr.NewSonarr(cfg.Sonarr, cfg.Breaker, log, withHealth)
		if err != nil {
			return nil, err
		}
		hs.RegisterCheck(health.CategoryServices, "sonarr", "Sonarr", sonarr.Ping)
		opts = append(opts, deletion.WithSonarr(sonarr))
	}
	if cfg.Overseerr.Enabled() {
		overseerr, err := arr.NewOverseerr(cfg.Overseerr, cfg.Breaker, log, withHealth)
		if err != nil {
			return nil, err
		}
		hs.RegisterCheck(health.CategoryServices, "overseerr", "Overseerr", overseerr.Ping)
		opts = append(opts, deletion.WithOverseerr(overseerr))
	}

	return deletion.NewArrExecutor(log, opts...), nil
}
