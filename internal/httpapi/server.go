package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/auth"
	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/chatstore"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/indexer"
	"github.com/fyrsmithlabs/ragd/internal/ratelimit"
)

// Config holds the HTTP listener settings.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	UploadDir      string
	// BodyLimit caps request bodies, echo size syntax ("32M").
	BodyLimit string
}

// ConfigFrom lifts the listener settings out of the application config.
func ConfigFrom(cfg *config.Config) Config {
	c := Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.Origins(),
		UploadDir:      cfg.Index.UploadDir,
	}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.UploadDir == "" {
		c.UploadDir = "uploads"
	}
	if c.BodyLimit == "" {
		c.BodyLimit = "32M"
	}
}

// Deps bundles the services the HTTP surface fronts.
type Deps struct {
	Store    chatstore.Store
	Auth     *auth.Service
	Chat     *chat.Service
	Queue    *indexer.Queue
	Pipeline *indexer.Pipeline
	Limits   *ratelimit.Registry
	Logger   *zap.Logger
}

// Server is the public HTTP surface.
type Server struct {
	echo     *echo.Echo
	cfg      Config
	store    chatstore.Store
	auth     *auth.Service
	chat     *chat.Service
	queue    *indexer.Queue
	pipeline *indexer.Pipeline
	limits   *ratelimit.Registry
	logger   *zap.Logger
}

// NewServer assembles the echo engine, middleware stack, and routes.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Auth == nil || deps.Chat == nil || deps.Queue == nil || deps.Pipeline == nil {
		return nil, fmt.Errorf("store, auth, chat, queue, and pipeline are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		cfg:      cfg,
		store:    deps.Store,
		auth:     deps.Auth,
		chat:     deps.Chat,
		queue:    deps.Queue,
		pipeline: deps.Pipeline,
		limits:   deps.Limits,
		logger:   logger,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
		}))
	}
	e.Use(s.requestLogger())
	e.Use(NewHTTPMetrics(logger).Middleware())

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/pg/health", s.handlePGHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ag := s.echo.Group("/auth")
	ag.POST("/register", s.handleRegister, s.limitBy(ratelimit.ClassRegister))
	ag.POST("/login", s.handleLogin, s.limitBy(ratelimit.ClassLogin))

	api := s.echo.Group("", s.auth.Middleware())
	api.POST("/chat", s.handleChat, s.limitBy(ratelimit.ClassChat))
	api.DELETE("/sessions/:sid", s.handleDeleteSession, s.limitBy(ratelimit.ClassDefault))

	api.POST("/files/upload", s.handleUpload, s.limitBy(ratelimit.ClassIndex))
	api.POST("/embeddings/index/:fid", s.handleIndex, s.limitBy(ratelimit.ClassIndex))
	api.GET("/embeddings/search", s.handleSearch, s.limitBy(ratelimit.ClassDefault))
	api.GET("/embeddings/files", s.handleListFiles, s.limitBy(ratelimit.ClassDefault))
	api.GET("/embeddings/files/:fid", s.handleGetFile, s.limitBy(ratelimit.ClassDefault))
	api.DELETE("/embeddings/files/:fid", s.handleDeleteFile, s.limitBy(ratelimit.ClassDefault))
}

// requestLogger logs one line per request after it completes.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Route the error through the handler now so the logged
				// status is the one actually sent.
				c.Error(err)
			}

			s.logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	}
}

// limitBy enforces the named rate class keyed by the authenticated
// subject, falling back to the client IP on unauthenticated routes.
func (s *Server) limitBy(class string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.limits == nil {
				return next(c)
			}
			client := auth.Owner(c)
			if client == "" {
				client = c.RealIP()
			}
			if ok, retryAfter := s.limits.Allow(client, class); !ok {
				return rateLimitedError(class, retryAfter)
			}
			return next(c)
		}
	}
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
