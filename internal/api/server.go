package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/net/netutil"

	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/logger"
)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 120 * time.Second
	bodyLimit    = "2M"
)

// Server owns the Echo instance and its listener.
type Server struct {
	echo     *echo.Echo
	settings conf.WebServerSettings
	log      logger.Logger
}

// NewServer creates an Echo server with the standard middleware stack.
// Routes are registered separately by New.
func NewServer(settings *conf.WebServerSettings, log logger.Logger) *Server {
	httpLog := log.Module("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = settings.Debug
	e.Logger = logger.NewEchoLoggerAdapter(httpLog)
	e.Server.ReadTimeout = readTimeout
	e.Server.WriteTimeout = writeTimeout
	e.Server.IdleTimeout = idleTimeout

	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit(bodyLimit))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			httpLog.Debug("request", fields...)
			return nil
		},
	}))

	return &Server{echo: e, settings: *settings, log: httpLog}
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Serve accepts connections on ln until Shutdown is called. The number of
// concurrent connections is capped by MaxConnections when it is positive.
func (s *Server) Serve(ln net.Listener) error {
	if s.settings.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.settings.MaxConnections)
	}
	s.echo.Listener = ln
	s.log.Info("HTTP server listening",
		logger.String("address", ln.Addr().String()),
		logger.Int("max_connections", s.settings.MaxConnections))

	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured port and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.settings.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.settings.Port, err)
	}
	return s.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Hijacked websocket connections are not tracked and must be closed by the
// caller, typically via Hub.CloseAll.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
