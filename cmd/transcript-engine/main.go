package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/api"
	"github.com/scribeworks/transcript-engine/internal/config"
	"github.com/scribeworks/transcript-engine/internal/database"
	"github.com/scribeworks/transcript-engine/internal/docstore"
	"github.com/scribeworks/transcript-engine/internal/editor"
	"github.com/scribeworks/transcript-engine/internal/events"
	"github.com/scribeworks/transcript-engine/internal/ingest"
	"github.com/scribeworks/transcript-engine/internal/job"
	"github.com/scribeworks/transcript-engine/internal/metrics"
	"github.com/scribeworks/transcript-engine/internal/notify"
	"github.com/scribeworks/transcript-engine/internal/runner"
	"github.com/scribeworks/transcript-engine/internal/storage"
)

var version = "dev"

// engineStats feeds live gauge values to the metrics collector.
type engineStats struct {
	manager  *job.Manager
	sessions *editor.Registry
	bus      *events.Bus
}

func (s engineStats) ActiveJobCount() int     { return s.manager.ActiveCount() }
func (s engineStats) OpenSessionCount() int   { return s.sessions.Len() }
func (s engineStats) SSESubscriberCount() int { return s.bus.SubscriberCount() }

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "http listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "postgres connection string")
	flag.StringVar(&overrides.RunnerURL, "runner-url", "", "transcription runner base URL")
	flag.StringVar(&overrides.DataDir, "data-dir", "", "local blob storage directory")
	flag.StringVar(&overrides.InboxDir, "inbox-dir", "", "directory to watch for media drops")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("transcript-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolSettings{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBConnLifetime,
	}, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema")
	}

	// Blob storage
	blobs, err := storage.New(storage.S3Settings{
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Prefix:        cfg.S3Prefix,
		PresignExpiry: cfg.S3PresignExpiry,
	}, cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob storage")
	}
	docs := docstore.New(blobs, log)

	// Event bus
	bus := events.NewBus(256)

	// MQTT notifications, optional
	var mqtt *notify.Publisher
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = notify.Connect(notify.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
	}

	// Job manager
	sessions := editor.NewRegistry()
	rc := runner.New(cfg.RunnerURL, cfg.RunnerEngine, cfg.RunnerModel, cfg.RunnerTimeout)
	managerOpts := job.ManagerOptions{
		Runner:       rc,
		Meta:         db,
		Docs:         docs,
		Sessions:     sessions,
		Bus:          bus,
		PollInterval: cfg.PollInterval,
		MaxPoll:      cfg.PollMaxDuration,
		SyncDebounce: cfg.SyncDebounce,
		Log:          log,
		OnBalance: func(jobID string) {
			log.Debug().Str("job_id", jobID).Msg("balance refresh signaled")
		},
	}
	if mqtt != nil {
		managerOpts.Notifier = mqtt
	}
	manager := job.NewManager(managerOpts)
	defer manager.Shutdown()

	prometheus.MustRegister(metrics.NewCollector(db.Pool, engineStats{
		manager:  manager,
		sessions: sessions,
		bus:      bus,
	}))

	// Resume jobs interrupted by a previous shutdown
	resumable, err := db.ListResumable(ctx, "")
	if err != nil {
		log.Error().Err(err).Msg("failed to list resumable jobs")
	}
	for _, rec := range resumable {
		if _, err := manager.Resume(rec); err != nil {
			log.Warn().Str("record_id", rec.ID).Err(err).Msg("failed to resume job")
			continue
		}
		log.Info().Str("record_id", rec.ID).Str("job_id", rec.JobID).Msg("resumed job polling")
	}

	// Inbox watcher, optional
	intake := ingest.NewService(blobs, db, manager, cfg.InboxOwner, cfg.PublicBaseURL, log)
	if cfg.InboxDir != "" {
		watcher := ingest.NewWatcher(cfg.InboxDir, intake, log)
		if err := watcher.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start inbox watcher")
		}
		defer watcher.Stop()
	}

	// HTTP server
	srv := api.NewServer(api.ServerOptions{
		Addr:           cfg.HTTPAddr,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		ReadTimeout:    cfg.ReadTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		Health:         api.NewHealthHandler(db, blobs, mqtt, version, log),
		Media:          api.NewMediaHandler(intake, blobs, db, log),
		Transcripts:    api.NewTranscriptsHandler(db, manager, docs, sessions, intake, cfg.AuthToken, log),
		Sessions:       api.NewSessionsHandler(db, manager, sessions, log),
		Events:         api.NewEventsHandler(bus, log),
		Log:            log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("transcript-engine stopped")
}
