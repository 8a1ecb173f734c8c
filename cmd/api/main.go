package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/arogyalock/consent-api/internal/config"
	"github.com/arogyalock/consent-api/internal/email"
	accessHandler "github.com/arogyalock/consent-api/internal/handler/access"
	adminHandler "github.com/arogyalock/consent-api/internal/handler/admin"
	auditHandler "github.com/arogyalock/consent-api/internal/handler/audit"
	authHandler "github.com/arogyalock/consent-api/internal/handler/auth"
	consentHandler "github.com/arogyalock/consent-api/internal/handler/consent"
	emergencyHandler "github.com/arogyalock/consent-api/internal/handler/emergency"
	healthHandler "github.com/arogyalock/consent-api/internal/handler/health"
	"github.com/arogyalock/consent-api/internal/middleware"
	"github.com/arogyalock/consent-api/internal/repository/postgres"
	"github.com/arogyalock/consent-api/internal/router"
	accessService "github.com/arogyalock/consent-api/internal/service/access"
	auditService "github.com/arogyalock/consent-api/internal/service/audit"
	consentService "github.com/arogyalock/consent-api/internal/service/consent"
	emergencyService "github.com/arogyalock/consent-api/internal/service/emergency"
	identityService "github.com/arogyalock/consent-api/internal/service/identity"
	notificationService "github.com/arogyalock/consent-api/internal/service/notification"
	"github.com/arogyalock/consent-api/internal/worker"
	"github.com/arogyalock/consent-api/pkg/auth"
	"github.com/arogyalock/consent-api/pkg/logger"
	redisBroker "github.com/arogyalock/consent-api/pkg/messaging/redis"
	"github.com/arogyalock/consent-api/pkg/metrics"
	"github.com/arogyalock/consent-api/pkg/security"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
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

	m := metrics.NewMetrics("consent_core")

	// Repositories
	baseRepo := postgres.NewBaseRepository(db)
	consentRepo := postgres.NewConsentRepository(baseRepo)
	auditRepo := postgres.NewAuditRepository(baseRepo)
	emergencyRepo := postgres.NewEmergencyRepository(baseRepo)
	subjectRepo := postgres.NewSubjectRepository(baseRepo)
	actorRepo := postgres.NewActorRepository(baseRepo)
	codeRepo := postgres.NewCodeRepository(baseRepo)
	notificationRepo := postgres.NewNotificationRepository(baseRepo)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	// Services
	auditSvc := auditService.NewService(auditRepo, m)
	emailSvc := email.NewSMTPService(cfg.SMTP)
	notifSvc := notificationService.NewService(notificationRepo, subjectRepo, emailSvc, broker)
	consentSvc := consentService.NewService(consentRepo, outboxRepo, auditSvc, m,
		time.Duration(cfg.Consent.DefaultTTLSeconds)*time.Second)
	emergencySvc := emergencyService.NewService(subjectRepo, emergencyRepo, auditSvc, notifSvc, m, cfg.Emergency.Disabled)
	accessSvc := accessService.NewService(consentRepo, emergencySvc, auditSvc, m)

	tokenSvc := auth.NewJWTService(cfg.JWT.Secret,
		time.Duration(cfg.JWT.ExpiryHours)*time.Hour, cfg.JWT.Issuer)
	var assertionVerifier auth.AssertionVerifier
	if cfg.JWT.AssertionPublicKey != "" {
		assertionVerifier, err = auth.NewAssertionVerifier(cfg.JWT.AssertionIssuer, []byte(cfg.JWT.AssertionPublicKey))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to parse assertion public key")
		}
	}
	identitySvc := identityService.NewService(actorRepo, codeRepo, auditSvc, tokenSvc, assertionVerifier,
		security.NewBcryptHasher(0), notifSvc, identityService.Config{
			CodeTTL:       time.Duration(cfg.Identity.CodeTTLSeconds) * time.Second,
			CodeLimit:     cfg.Identity.CodeIssueLimit,
			CodeWindow:    time.Duration(cfg.Identity.CodeIssueWindow) * time.Second,
			MaxAttempts:   cfg.Identity.MaxLoginAttempts,
			LockoutWindow: time.Duration(cfg.Identity.LockoutMinutes) * time.Minute,
		})

	// Router
	authMiddleware := middleware.NewAuthMiddleware(tokenSvc)
	r := router.NewRouter(
		authMiddleware,
		healthHandler.NewHandler(db),
		authHandler.NewHandler(identitySvc),
		consentHandler.NewHandler(consentSvc),
		accessHandler.NewHandler(accessSvc),
		emergencyHandler.NewHandler(emergencySvc),
		auditHandler.NewHandler(auditSvc),
		adminHandler.NewHandler(emergencySvc),
		router.Config{
			RateLimit:  rate.Limit(cfg.Server.RateLimitPerSecond),
			RateBurst:  cfg.Server.RateLimitBurst,
			Timeout:    time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
			CORSConfig: middleware.DefaultCORSConfig(),
		},
	)
	r.Setup()

	// Background sweeps. Correctness never depends on either: expiry is
	// lazy on read, retention only trims history.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.NewExpirySweepWorker(consentSvc,
		time.Duration(cfg.Consent.SweepMinutes)*time.Minute, appLogger.Component("consent-sweep")).Start(ctx)
	go worker.NewAuditRetentionWorker(auditSvc, cfg.Audit.RetentionDays, 24*time.Hour, appLogger.Component("audit-retention")).Start(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
}
