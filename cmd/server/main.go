package main // Entry point package

import (
	"log"
	"time"

	"github.com/joho/godotenv" // loads .env files in development
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/probelab/aegis/internal/audit"
	"github.com/probelab/aegis/internal/auth"
	"github.com/probelab/aegis/internal/config"
	"github.com/probelab/aegis/internal/crypto"
	"github.com/probelab/aegis/internal/database"
	"github.com/probelab/aegis/internal/handler"
	"github.com/probelab/aegis/internal/queue"
	"github.com/probelab/aegis/internal/repository"
	"github.com/probelab/aegis/internal/router"
	"github.com/probelab/aegis/internal/service"
)

func main() {
	_ = godotenv.Load() // optional .env; real deployments use the environment
	cfg := config.Load()

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	// Field encryption.  Prod requires a configured master key (enforced
	// by config.Load); dev may run on an ephemeral key, which makes
	// previously encrypted fields unreadable after a restart.
	masterKey := cfg.EncryptionKey
	if masterKey == "" {
		masterKey, err = crypto.RandomMasterKey()
		if err != nil {
			logger.Fatal("generate ephemeral master key", zap.Error(err))
		}
		logger.Warn("ENCRYPTION_MASTER_KEY not set; using an ephemeral key (development only)")
	}
	cipher, err := crypto.NewFieldCipher(masterKey, cfg.EncryptionKeySalt)
	if err != nil {
		logger.Fatal("init field cipher", zap.Error(err))
	}

	issuer := auth.NewIssuer(cfg.AccessSecret, cfg.RefreshSecret,
		time.Duration(cfg.AccessTTLMin)*time.Minute,
		time.Duration(cfg.RefreshTTLDays)*24*time.Hour)

	users := repository.NewUserRepo(db)
	sessions := repository.NewSessionRepo(db)
	backupCodes := repository.NewBackupCodeRepo(db)
	auditRepo := repository.NewAuditRepo(db)

	alerts := service.NewAlertPublisher(logger)
	auditor := audit.NewLogger(auditRepo, alerts, logger, 256)
	defer auditor.Close()

	// Background consumer writing security alerts to logs/security.log.
	go func() {
		if err := queue.StartAlertConsumer(); err != nil {
			logger.Warn("alert consumer stopped", zap.Error(err))
		}
	}()

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unavailable; rate limiting disabled")
	}

	authHandler := handler.NewAuthHandler(cfg, users, sessions, backupCodes, issuer, cipher, auditor, logger)

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e)
	router.RegisterAuth(e, authHandler, issuer, sessions, auditor, config.LoadRateLimitConfig(), rdb)

	addr := ":" + cfg.Port
	logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
	if err := e.Start(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// newLogger builds the process logger: JSON in prod, console elsewhere.
func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
