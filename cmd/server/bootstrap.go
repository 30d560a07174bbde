package main

import (
	"context"
	"time"

	"github.com/defeatedperson/ykc/internal/config"
	"github.com/defeatedperson/ykc/internal/handlers"
	"github.com/defeatedperson/ykc/internal/middleware"
	"github.com/defeatedperson/ykc/internal/models"
	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/internal/utils"
	"github.com/defeatedperson/ykc/pkg/logger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg         *config.Config
	db          *gorm.DB
	rdb         *redis.Client
	taskQueue   services.TaskQueue
	worker      *services.Worker
	maintenance *services.MaintenanceService

	session      *services.SessionVerifier
	tempTokens   *services.TempTokenService
	shareLimiter *middleware.RateLimiter

	authHandler         *handlers.AuthHandler
	mfaHandler          *handlers.MFAHandler
	tempTokenHandler    *handlers.TempTokenHandler
	shareHandler        *handlers.ShareHandler
	downloadHandler     *handlers.DownloadHandler
	fileHandler         *handlers.FileHandler
	shareManageHandler  *handlers.ShareManageHandler
	adminHandler        *handlers.AdminHandler
	userHandler         *handlers.UserHandler
	systemLogHandler    *handlers.SystemLogHandler
	systemConfigHandler *handlers.SystemConfigHandler
	healthHandler       *handlers.HealthHandler
	metricsHandler      *handlers.MetricsHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database, cfg.Server.Mode == "debug"); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed default data
	if err := models.SeedDefaultData(models.GetDB()); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	// Initialize system logger
	services.InitSystemLogger(models.GetDB())

	rdb := newRedisClient(&cfg.Redis)

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.InitTaskQueue(cfg)

	svc := newAppServices(cfg, models.GetDB(), rdb, taskQueue)

	// Start async worker if Redis is enabled
	if taskQueue.IsAsync() {
		svc.worker = services.NewWorker(&cfg.Redis)
		if svc.worker != nil {
			svc.worker.SetProcessor(svc.maintenance.Process)
			if err := svc.worker.Start(); err != nil {
				logger.Warn().Err(err).Msg("Failed to start worker")
			}
		}
	}

	if err := svc.maintenance.Start(); err != nil {
		logger.Fatalf("Failed to start maintenance scheduler: %v", err)
	}

	return svc
}

// newAppServices wires services and handlers on top of an open database.
// rdb may be nil.
func newAppServices(cfg *config.Config, db *gorm.DB, rdb *redis.Client, taskQueue services.TaskQueue) *appServices {
	bans := services.NewIPBanService(db, cfg.Security.BanHours, rdb)
	ledger := services.NewIPLedger(cfg.TempJWT.LedgerPath,
		time.Duration(cfg.TempJWT.WindowMinutes)*time.Minute, cfg.TempJWT.Limit, bans)
	tempTokens := services.NewTempTokenService(ledger, bans, cfg.TempJWT.Salt)

	files := services.NewFileService(db, &cfg.Storage)
	tokens := services.NewDownloadTokenService(db, files, &cfg.Download)
	shares := services.NewShareService(db, files, tokens)
	downloads := services.NewDownloadService(shares, tokens, files, &cfg.Download)

	authService := services.NewAuthService(db, &cfg.JWT)
	authService.SetMFAIssuer(cfg.Security.MFAIssuer)
	if err := authService.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	systemLogs := services.NewSystemLogService(db)
	maintenance := services.NewMaintenanceService(tokens, systemLogs, taskQueue, &cfg.Maintenance)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(maintenance.Process)
	}

	return &appServices{
		cfg:         cfg,
		db:          db,
		rdb:         rdb,
		taskQueue:   taskQueue,
		maintenance: maintenance,

		session:      services.NewSessionVerifier(authService, bans),
		tempTokens:   tempTokens,
		shareLimiter: middleware.NewRateLimiter(cfg.Security.ShareRPS, cfg.Security.ShareBurst),

		authHandler:        handlers.NewAuthHandler(authService),
		mfaHandler:         handlers.NewMFAHandler(authService.MFA()),
		tempTokenHandler:   handlers.NewTempTokenHandler(tempTokens),
		shareHandler:       handlers.NewShareHandler(shares, downloads),
		downloadHandler:    handlers.NewDownloadHandler(downloads, files),
		fileHandler:        handlers.NewFileHandler(files),
		shareManageHandler: handlers.NewShareManageHandler(shares, tokens),
		adminHandler: handlers.NewAdminHandler(handlers.AdminDeps{
			Tokens:      tokens,
			Bans:        bans,
			Ledger:      ledger,
			Maintenance: maintenance,
			Queue:       taskQueue,
		}),
		userHandler:         handlers.NewUserHandler(authService),
		systemLogHandler:    handlers.NewSystemLogHandler(systemLogs),
		systemConfigHandler: handlers.NewSystemConfigHandler(services.NewSystemConfigService(db)),
		healthHandler:       handlers.NewHealthHandler(db, taskQueue),
		metricsHandler:      handlers.NewMetricsHandler(db, tokens, taskQueue),
	}
}

// newRedisClient returns a client for the ban list mirror, or nil when Redis
// is disabled or unreachable.
func newRedisClient(cfg *config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unavailable, ban list served from database only")
		client.Close()
		return nil
	}
	return client
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.maintenance.Stop()
	logger.Info().Msg("Maintenance scheduler stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	s.shareLimiter.Close()
	if s.rdb != nil {
		s.rdb.Close()
	}
}
