// Package server wires the HTTP surface together: Echo routes for the
// npm registry protocol, the admin JSON API, and metrics/health,
// plus the context-value middleware the handlers expect.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jkuri/clef/pkg/api"
	"github.com/jkuri/clef/pkg/auth"
	"github.com/jkuri/clef/pkg/cache"
	"github.com/jkuri/clef/pkg/handlers"
	"github.com/jkuri/clef/pkg/publish"
	"github.com/jkuri/clef/pkg/registry"
	"github.com/jkuri/clef/pkg/store"
	"github.com/jkuri/clef/pkg/types"
	"github.com/jkuri/clef/pkg/upstream"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// statsFlushInterval is how often in-memory hit/miss counters are
// flushed to the cache_stats row (SPEC_FULL.md §5/§10's "background
// ticker, T=10s default").
const statsFlushInterval = 10 * time.Second

// Server owns the Echo instance and its dependency graph.
type Server struct {
	echo   *echo.Echo
	cfg    types.ConfigFile
	stats  *cache.Stats
	logger *zap.SugaredLogger
}

// New assembles every package (auth, cache, registry, publish,
// handlers) and registers routes. It does not start listening.
func New(cfg types.ConfigFile, db *store.DB, logger *zap.SugaredLogger) *Server {
	stats := cache.NewStats(db, logger)
	metaCache := cache.NewMetadataStore(cfg.MetadataDir(), cfg.CacheTTL, db, cfg.CacheEnabled, logger)
	tarballCache := cache.NewTarballStore(cfg.PackagesDir(), db, stats, cfg.CacheEnabled, logger)

	up := upstream.NewClient(cfg.UpstreamRegistry)
	baseURL := fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	engine := registry.NewEngine(db, metaCache, up, baseURL, logger)

	authSvc := auth.NewService(db, logger)
	pipeline := publish.NewPipeline(db, authSvc, metaCache, cfg.PackagesDir(), logger)

	npmHandlers := handlers.NewNpm(engine, tarballCache, db, authSvc, pipeline, up, logger)
	userHandlers := handlers.NewUser(authSvc)
	auditHandlers := handlers.NewAudit(up)
	apiHandlers := api.New(db, metaCache, tarballCache, stats)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	e.Use(requestLogger(logger))
	e.Use(contextValues(cfg, logger, authSvc))

	e.GET("/api/v1/health", apiHandlers.Health)
	e.GET("/metrics", apiHandlers.Metrics)
	e.GET("/api/v1/analytics", apiHandlers.Analytics)
	e.GET("/api/v1/packages", apiHandlers.ListPackages)
	e.GET("/api/v1/packages/:name", apiHandlers.GetPackage)
	e.GET("/api/v1/cache/stats", apiHandlers.CacheStats)
	e.GET("/api/v1/cache/health", apiHandlers.CacheHealth)
	e.DELETE("/api/v1/cache", apiHandlers.ClearCache)

	reg := e.Group("/registry")
	reg.GET("/-/whoami", userHandlers.Whoami)
	reg.PUT("/-/user/:name", userHandlers.Login)
	reg.DELETE("/-/user/token/:token", userHandlers.Logout)
	reg.POST("/-/npm/v1/security/advisories/bulk", auditHandlers.Bulk)
	reg.POST("/-/npm/v1/security/audits/quick", auditHandlers.Bulk)
	// A single wildcard route per method, manually split by Npm.Dispatch:
	// Echo's ":param" routing only ever captures one path segment, but a
	// literal scoped name ("@types/node") is two real segments. The
	// explicit "-/..." routes above still win on Echo's static-first
	// route priority, same as the teacher's own NpmProxy dispatch.
	reg.PUT("/*", npmHandlers.Publish, authRequired(authSvc))
	reg.GET("/*", npmHandlers.Dispatch)
	reg.HEAD("/*", npmHandlers.Dispatch)

	return &Server{echo: e, cfg: cfg, stats: stats, logger: logger}
}

// contextValues mirrors the teacher's c.Get("cfg")/c.Get("logger")
// middleware idiom, generalized to also carry the auth service so
// handlers can look it up without a package-level global.
func contextValues(cfg types.ConfigFile, logger *zap.SugaredLogger, authSvc *auth.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("cfg", cfg)
			c.Set("logger", logger)
			c.Set("auth", authSvc)
			return next(c)
		}
	}
}

// authRequired validates the bearer token on publish and stashes the
// resolved user under c.Get("user"), consumed by handlers.Npm.Publish.
func authRequired(authSvc *auth.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c)
			user, err := authSvc.ValidateToken(c.Request().Context(), token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			c.Set("user", user)
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return header
}

func requestLogger(logger *zap.SugaredLogger) echo.MiddlewareFunc {
	named := logger.Named("http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			named.Infow("request",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"duration", time.Since(start),
			)
			return err
		}
	}
}

// Start blocks serving on cfg.Host:cfg.Port until ctx is cancelled,
// then shuts down gracefully with a 10s deadline.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	go s.stats.StartFlusher(ctx, statsFlushInterval)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}
