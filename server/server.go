// Package server hosts the HTTP surface: the /api/v1 routes, health and
// metrics endpoints, the Discord OAuth flow, and the optional cron sync
// scheduler.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	"github.com/guildsage/guildsage/internal/profile"
	apiv1 "github.com/guildsage/guildsage/server/router/api/v1"
	"github.com/guildsage/guildsage/store"
)

// maxOpenConnections caps accepted TCP connections so a runaway client
// cannot exhaust file descriptors.
const maxOpenConnections = 1024

type Server struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store

	echoServer   *echo.Echo
	apiV1Service *apiv1.APIV1Service

	backgroundCancel context.CancelFunc
}

func NewServer(_ context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	s := &Server{
		Secret:  profile.APISecret,
		Profile: profile,
		Store:   store,
	}

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true

	echoServer.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	echoServer.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.Info("http request", attrs...)
			return nil
		},
	}))
	echoServer.Use(middleware.Recover())

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": profile.Version,
		})
	})

	apiV1Service := apiv1.NewAPIV1Service(profile.APISecret, profile, store)
	apiV1Service.Register(echoServer)

	// Metrics stay public alongside healthz; scrapers do not carry bearer
	// tokens.
	echoServer.GET("/metrics", echo.WrapHandler(apiV1Service.Metrics.GetHandler()))

	s.echoServer = echoServer
	s.apiV1Service = apiV1Service
	return s, nil
}

// GetAPIV1Service exposes the API service, mainly to tests.
func (s *Server) GetAPIV1Service() *apiv1.APIV1Service {
	return s.apiV1Service
}

// Start binds the listener and serves in the background. Returns once the
// listener is bound, so callers see port conflicts immediately.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", address)
	}
	s.echoServer.Listener = netutil.LimitListener(listener, maxOpenConnections)

	backgroundCtx, cancel := context.WithCancel(context.Background())
	s.backgroundCancel = cancel
	s.apiV1Service.StartBackground(backgroundCtx)
	s.startScheduler(backgroundCtx)

	go func() {
		if err := s.echoServer.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to serve", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests, then stops background workers.
func (s *Server) Shutdown(_ context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server gracefully", "error", err)
	}

	if s.backgroundCancel != nil {
		s.backgroundCancel()
	}
	s.apiV1Service.Close()

	slog.Info("server stopped")
}
