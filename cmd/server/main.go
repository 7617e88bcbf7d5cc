// Package main runs the EduPresence HTTP server with WebSocket fan-out
// and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edupresence/backend/config"
	"github.com/edupresence/backend/internal/attendance"
	"github.com/edupresence/backend/internal/auth"
	"github.com/edupresence/backend/internal/authz"
	"github.com/edupresence/backend/internal/classes"
	"github.com/edupresence/backend/internal/middleware"
	"github.com/edupresence/backend/internal/models"
	"github.com/edupresence/backend/internal/realtime"
	"github.com/edupresence/backend/internal/session"
	"github.com/edupresence/backend/pkg/database"
	"github.com/edupresence/backend/pkg/queue"
	"github.com/edupresence/backend/pkg/redis"
	"github.com/edupresence/backend/pkg/response"
	"github.com/edupresence/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Authorization gate over the class/enrollment store
	gate := authz.NewGate(authz.NewRepository(pool), cfg.Database.QueryTimeout(), logger)

	// Window tokens
	tokens := session.NewService(cfg.Session.Secret, cfg.Session.Window())
	sessionHandler := session.NewHandler(tokens, gate, hub, logger)

	// Evidence archive is optional: without an AWS region the mark flow
	// still works, blobs just stay inline until a worker is configured.
	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			EvidenceBucket:       cfg.AWS.EvidenceBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
	}

	// Attendance ledger + evidence archive queue
	attRepo := attendance.NewRepository(pool)
	ledger := attendance.NewLedger(tokens, gate, attRepo, cfg.Database.QueryTimeout(), logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	attHandler := attendance.NewHandler(ledger, attRepo, gate, hub, jobQueue, s3Client, logger)

	// Class directory
	classRepo := classes.NewRepository(pool)
	classHandler := classes.NewHandler(classRepo, logger)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health and metrics
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok", "service": "edupresence"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Token validation is public: the token itself is the capability.
	router.POST("/api/ble/validate", sessionHandler.Validate)

	// Protected API (JWT required)
	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService))
	{
		// Users (admin dashboard)
		api.GET("/users", middleware.RequireRole(string(models.RoleAdmin)), authHandler.List)
		api.POST("/users", middleware.RequireRole(string(models.RoleAdmin)), authHandler.CreateUser)

		// Classes
		api.GET("/classes", classHandler.List)
		api.POST("/classes", middleware.RequireRole(string(models.RoleAdmin)), classHandler.Create)
		api.GET("/classes/:id/students", middleware.RequireRole(string(models.RoleAdmin), string(models.RoleTeacher)), classHandler.Roster)
		api.POST("/classes/:id/students", middleware.RequireRole(string(models.RoleAdmin)), classHandler.Enroll)
		api.GET("/classes/:id/attendance", middleware.RequireRole(string(models.RoleAdmin), string(models.RoleTeacher)), attHandler.ListByClass)
		api.GET("/attendance/:id/evidence", middleware.RequireRole(string(models.RoleAdmin), string(models.RoleTeacher)), attHandler.Evidence)

		// Attendance windows and claims
		api.POST("/ble/session", middleware.RequireRole(string(models.RoleTeacher), string(models.RoleAdmin)), sessionHandler.Open)
		api.POST("/attendance/mark", middleware.RequireRole(string(models.RoleStudent)), attHandler.Mark)
	}

	// WebSocket (token in query; no Authorization header on ws dial)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
