// Package server hosts the bot's HTTP surface.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const defaultAddr = ":8080"

// Handler registers a group of routes.
type Handler interface {
	Register(e *echo.Echo)
}

// Server wraps an echo instance bound to one address.
type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

// New builds the server, installs middleware and registers every non-nil handler.
func New(log *slog.Logger, addr string, middlewares []echo.MiddlewareFunc, handlers ...Handler) *Server {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = defaultAddr
	}
	log = log.With(slog.String("component", "server"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				// Route templates keep the webhook token out of the logs.
				slog.String("route", routeOf(c, v.URI)),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	for _, m := range middlewares {
		if m != nil {
			e.Use(m)
		}
	}
	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}
	return &Server{echo: e, addr: addr, logger: log}
}

func routeOf(c echo.Context, uri string) string {
	if p := c.Path(); p != "" {
		return p
	}
	return uri
}

// Echo exposes the underlying router.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Start blocks serving HTTP until Stop is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
