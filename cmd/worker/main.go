package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/arogyalock/consent-api/internal/config"
	"github.com/arogyalock/consent-api/internal/email"
	"github.com/arogyalock/consent-api/internal/repository/postgres"
	notificationService "github.com/arogyalock/consent-api/internal/service/notification"
	"github.com/arogyalock/consent-api/pkg/logger"
	redisBroker "github.com/arogyalock/consent-api/pkg/messaging/redis"
	"github.com/arogyalock/consent-api/pkg/metrics"
	"github.com/arogyalock/consent-api/pkg/worker"
)

// WorkerEnv tunes the outbox drain loop. Environment only: the worker is
// deployed separately from the API and its knobs are set per instance.
type WorkerEnv struct {
	BatchSize     int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval  time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"5s"`
	RetryAttempts int           `envconfig:"OUTBOX_RETRY_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `envconfig:"OUTBOX_RETRY_DELAY" default:"1s"`
	HealthPort    string        `envconfig:"WORKER_HEALTH_PORT" default:":8081"`
}

func setupHealthCheck(addr string, appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			appLogger.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var env WorkerEnv
	if err := envconfig.Process("", &env); err != nil {
		log.Fatal().Err(err).Msg("failed to parse worker environment")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redisBroker.NewRedisBroker(redisBroker.Config{URL: cfg.Redis.URL}, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer broker.Close()

	baseRepo := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)
	notificationRepo := postgres.NewNotificationRepository(baseRepo)
	subjectRepo := postgres.NewSubjectRepository(baseRepo)

	emailSvc := email.NewSMTPService(cfg.SMTP)
	notifSvc := notificationService.NewService(notificationRepo, subjectRepo, emailSvc, broker)

	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		notifSvc,
		worker.OutboxProcessorConfig{
			BatchSize:     env.BatchSize,
			PollInterval:  env.PollInterval,
			RetryAttempts: env.RetryAttempts,
			RetryDelay:    env.RetryDelay,
		},
		appLogger.Component("outbox"),
		metrics.NewMetrics("consent_worker"),
	)

	setupHealthCheck(env.HealthPort, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("shutting down")
		cancel()
	}()

	processor.Start(ctx)
}
