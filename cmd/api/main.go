package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/damoang/angple-chat/internal/config"
	"github.com/damoang/angple-chat/internal/database"
	"github.com/damoang/angple-chat/internal/handler"
	"github.com/damoang/angple-chat/internal/middleware"
	"github.com/damoang/angple-chat/internal/migration"
	"github.com/damoang/angple-chat/internal/repository"
	"github.com/damoang/angple-chat/internal/routes"
	"github.com/damoang/angple-chat/internal/service"
	"github.com/damoang/angple-chat/internal/ws"
	pkgcache "github.com/damoang/angple-chat/pkg/cache"
	"github.com/damoang/angple-chat/pkg/jwt"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
	pkgredis "github.com/damoang/angple-chat/pkg/redis"
	pkgstorage "github.com/damoang/angple-chat/pkg/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// @title           Angple Chat API
// @version         1.0
// @description     Campus, class and post-comment messaging
//
// @BasePath        /api/v1
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// getConfigPath returns config file path based on APP_ENV environment variable
func getConfigPath(env string) string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return fmt.Sprintf("configs/config.%s.yaml", env)
}

func main() {
	dotenvFiles := config.LoadDotEnv(".")

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	pkglogger.InitStructured(env)
	pkglogger.Info("APP_ENV=%s", env)
	for _, f := range dotenvFiles {
		pkglogger.Info("loaded %s: %v", f.Path, f.Applied)
		if len(f.Unknown) > 0 {
			pkglogger.Warn("%s has keys the chat server does not read: %v", f.Path, f.Unknown)
		}
	}

	// 설정 로드
	configPath := getConfigPath(env)
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.LogResolved(cfg)

	// 메시지 로그가 없으면 서비스할 수 없으므로 DB 실패는 치명적
	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := migration.Run(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	pkglogger.Info("Connected to %s", cfg.Database.Driver)

	// Redis 는 선택: 없으면 단일 인스턴스 fan-out, 캐시와 분산 rate limit 비활성
	var redisClient *redis.Client
	var cacheService pkgcache.Service
	if cfg.Redis.Host != "" {
		redisClient, err = pkgredis.NewClient(pkgredis.Options{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			pkglogger.Warn("Failed to connect to Redis: %v (continuing without Redis)", err)
			redisClient = nil
		} else {
			cacheService = pkgcache.NewService(redisClient)
			pkglogger.Info("Connected to Redis")
		}
	}

	backend, err := initStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to init storage: %v", err)
	}

	hub := ws.NewHub(redisClient, ws.Options{Channel: cfg.Redis.Channel, Buffer: cfg.Chat.SubscriberBuffer})
	go hub.Run()

	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer)

	// Repositories / services
	scopeRepo := repository.NewScopeRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	auth := service.NewMembershipAuthorizer(scopeRepo)
	profiles := service.NewProfileLookup(repository.NewProfileRepository(db))

	messageService := service.NewMessageService(messageRepo, auth, hub, cacheService, cfg.Chat)
	reactionService := service.NewReactionService(repository.NewReactionRepository(db), messageRepo, auth, hub)
	replyService := service.NewReplyService(messageRepo, profiles, auth, cacheService, cfg.Chat.PreviewSnippetRunes)
	attachmentService := service.NewAttachmentService(backend, cfg.Chat.MaxAttachmentSize, cfg.Chat.ThumbnailWidth)

	// Gin 라우터 생성
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(cors.New(corsConfig(cfg.CORS.AllowOrigins)))
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestLogger())

	if local, ok := backend.(*pkgstorage.LocalBackend); ok {
		router.Static(cfg.Storage.LocalBaseURL, local.Dir())
	}

	limits := routes.Limits{
		Sends:   middleware.DefaultRateLimitConfig(),
		Uploads: middleware.DefaultUploadRateLimitConfig(),
	}
	limits.Sends.RequestsPerMinute = cfg.RateLimit.MessagesPerMinute
	limits.Uploads.RequestsPerMinute = cfg.RateLimit.UploadsPerMinute

	routes.Setup(router, routes.Handlers{
		Messages:    handler.NewMessageHandler(messageService, reactionService, replyService),
		Reactions:   handler.NewReactionHandler(reactionService),
		Attachments: handler.NewAttachmentHandler(attachmentService, cfg.Chat.MaxAttachmentSize),
		WS:          handler.NewWSHandler(hub, auth, cfg.CORS.AllowOrigins),
		Health:      handler.NewHealthHandler(db, redisClient),
	}, jwtManager, redisClient, limits)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   gin.H{"code": "NOT_FOUND", "message": "not found"},
		})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go reportDBStats(ctx, db)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		pkglogger.Info("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	pkglogger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	// 허브를 먼저 멈춰 WebSocket 세션을 닫는다 (Shutdown 은 hijack 된 연결을 기다리지 않음)
	hub.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		pkglogger.Error("Server shutdown: %v", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func initStorage(cfg config.StorageConfig) (pkgstorage.Backend, error) {
	if cfg.Driver == "s3" {
		return pkgstorage.NewS3Client(pkgstorage.S3Config{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Bucket:          cfg.Bucket,
			CDNURL:          cfg.CDNURL,
			BasePath:        cfg.BasePath,
			ForcePathStyle:  cfg.ForcePathStyle,
		})
	}
	return pkgstorage.NewLocalBackend(cfg.LocalDir, cfg.LocalBaseURL)
}

func corsConfig(allowOrigins string) cors.Config {
	c := cors.Config{
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range strings.Split(allowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.AllowOrigins = append(c.AllowOrigins, o)
		}
	}
	if len(c.AllowOrigins) == 0 {
		c.AllowOrigins = []string{"http://localhost:3000"}
	}
	return c
}

func reportDBStats(ctx context.Context, db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			middleware.SetDBConnectionsInUse(sqlDB.Stats().InUse)
		}
	}
}
