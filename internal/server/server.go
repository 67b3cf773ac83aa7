// Package server is the propertyhub auth API: accounts, sessions and
// server-side role assignment.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/propertyhub-dev/propertyhub/internal/auth"
	"github.com/propertyhub-dev/propertyhub/internal/config"
	"github.com/propertyhub-dev/propertyhub/internal/models"
	"github.com/propertyhub-dev/propertyhub/internal/ratelimit"
)

// Enqueuer is the asynq.Client surface the server uses
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Server represents the HTTP server
type Server struct {
	router       *gin.Engine
	db           *gorm.DB
	config       *config.Config
	logger       zerolog.Logger
	validator    *validator.Validate
	tokens       *auth.Tokens
	loginLimiter ratelimit.Limiter
	enqueuer     Enqueuer
	closers      []func() error
	now          func() time.Time
	version      string
}

// New creates a new server instance backed by the configured database and Redis
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	db, err := initDatabase(cfg, zlog)
	if err != nil {
		return nil, err
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: cfg.Redis.Address,
	})
	closers := []func() error{asynqClient.Close}

	var limiter ratelimit.Limiter
	if cfg.Auth.RateLimitUsesRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address})
		closers = append(closers, rdb.Close)
		limiter = ratelimit.NewRedisLimiter(rdb, "rl:login:", cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow)
	}

	s, err := newServer(cfg, db, zlog, version, limiter, asynqClient)
	if err != nil {
		return nil, err
	}
	s.closers = closers
	return s, nil
}

// newServer wires a server around already opened dependencies
func newServer(cfg *config.Config, db *gorm.DB, zlog zerolog.Logger, version string, limiter ratelimit.Limiter, enqueuer Enqueuer) (*Server, error) {
	if err := models.AutoMigrate(db); err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL)
	if err != nil {
		return nil, err
	}

	validate := validator.New()

	// Only user and agent can be chosen at sign-up; admin is granted by an admin
	if err := validate.RegisterValidation("selfrole", func(fl validator.FieldLevel) bool {
		role, ok := models.ParseRole(fl.Field().String())
		return ok && role.SelfAssignable()
	}); err != nil {
		return nil, err
	}
	if err := validate.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseRole(fl.Field().String())
		return ok
	}); err != nil {
		return nil, err
	}

	server := &Server{
		db:           db,
		config:       cfg,
		logger:       zlog,
		validator:    validate,
		tokens:       tokens,
		loginLimiter: limiter,
		enqueuer:     enqueuer,
		now:          time.Now,
		version:      version,
	}

	server.setupRouter()

	return server, nil
}

// initDatabase initializes the database connection with production settings
func initDatabase(cfg *config.Config, zlog zerolog.Logger) (*gorm.DB, error) {
	const (
		maxOpenConns    = 8
		maxIdleConns    = 4
		connMaxLifetime = 5 * time.Minute
		busyTimeout     = 5000 // ms
	)

	db, err := gorm.Open(sqlite.Open(cfg.Database.URL), &gorm.Config{
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{
				LogLevel:                  logger.Error,
				IgnoreRecordNotFoundError: true,
				SlowThreshold:             200 * time.Millisecond,
			},
		),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL must be set first
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		"PRAGMA foreign_keys=1",
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			zlog.Warn().Str("pragma", pragma).Err(err).Msg("Failed to apply pragma")
		}
	}

	return db, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()

	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.HTTP.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.router.GET("/health", s.healthCheck)

	authRoutes := s.router.Group("/auth")
	{
		authRoutes.POST("/register", s.register)
		authRoutes.POST("/login", s.login)
		authRoutes.POST("/logout", s.logout)
		authRoutes.POST("/refresh", s.refresh)
		authRoutes.GET("/me", JWTAuthMiddleware(s.db, s.tokens, s.logger), s.getCurrentUser)
	}

	admin := s.router.Group("/admin")
	admin.Use(JWTAuthMiddleware(s.db, s.tokens, s.logger), RequireRole(s.logger, models.RoleAdmin))
	{
		admin.GET("/users", s.listUsers)
		admin.PATCH("/users/:id/role", s.updateUserRole)
		admin.DELETE("/users/:id", s.deleteUser)
		admin.POST("/sessions/purge", s.purgeSessions)
	}
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "propertyhub-api",
		"version":   s.version,
	})
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetDB returns the database connection for use by workers
func (s *Server) GetDB() *gorm.DB {
	return s.db
}

// Close releases the Redis connections and the database
func (s *Server) Close() error {
	var errs []error
	for _, closeFn := range s.closers {
		errs = append(errs, closeFn())
	}
	if sqlDB, err := s.db.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}

// Start serves HTTP until SIGINT or SIGTERM, then shuts down gracefully
func (s *Server) Start() error {
	addr := ":" + s.config.HTTP.Port

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-sigChan:
	}
	s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	// Close database connection to flush WAL writes
	if err := s.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error releasing server resources")
	}

	s.logger.Info().Msg("Server shutdown complete")
	return nil
}
