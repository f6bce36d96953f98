// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package httpapi exposes Module commands as REST API
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/emiago/sipua"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	m        *sipua.Module
	e        *echo.Echo
	secret   []byte
	log      *slog.Logger
	gatherer prometheus.Gatherer
}

type ServerOption func(s *Server)

// WithSecret enables bearer token auth on /api routes
func WithSecret(secret []byte) ServerOption {
	return func(s *Server) {
		s.secret = secret
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithGatherer sets metrics source of /metrics. Default is prometheus.DefaultGatherer
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

func NewServer(m *sipua.Module, opts ...ServerOption) *Server {
	s := &Server{
		m:        m,
		log:      slog.Default(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("caller", "httpapi")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.log.Info("Request failed", "method", v.Method, "uri", v.URI, "status", v.Status, "error", v.Error)
				return nil
			}
			s.log.Debug("Request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := e.Group("/api")
	if len(s.secret) > 0 {
		api.Use(bearerAuth(s.secret))
	}
	api.GET("/version", s.version)

	api.GET("/accounts", s.listAccounts)
	api.POST("/accounts", s.addAccount)
	api.GET("/accounts/:id", s.getAccount)
	api.DELETE("/accounts/:id", s.deleteAccount)
	api.POST("/accounts/:id/register", s.registerAccount)
	api.POST("/accounts/:id/unregister", s.unregisterAccount)

	api.GET("/calls", s.listCalls)
	api.POST("/calls", s.invite)
	api.GET("/calls/:id", s.getCall)
	api.POST("/calls/:id/accept", s.accept)
	api.POST("/calls/:id/reject", s.reject)
	api.POST("/calls/:id/bye", s.bye)
	api.POST("/calls/:id/hold", s.hold)
	api.POST("/calls/:id/dtmf", s.sendDtmf)
	api.POST("/calls/:id/transfer", s.transfer)
	api.POST("/calls/:id/mute", s.mute)
	api.POST("/calls/:id/switch", s.switchTo)
	api.POST("/calls/:id/play", s.playFile)
	api.POST("/calls/:id/record", s.recordFile)
	api.DELETE("/calls/:id/record", s.stopRecordFile)
	api.DELETE("/players/:id", s.stopPlayFile)
	api.POST("/conference", s.conference)

	api.GET("/devices/:kind", s.listDevices)
	api.PUT("/devices/:kind", s.selectDevice)

	s.e = e
	return s
}

// Handler returns http handler of API
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start listens on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.log.Info("HTTP API listening", "addr", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// httpError maps command error kind to HTTP status
func httpError(err error) *echo.HTTPError {
	code := http.StatusInternalServerError
	switch sipua.KindOf(err) {
	case sipua.KindNotFound:
		code = http.StatusNotFound
	case sipua.KindInvalidState, sipua.KindInUse:
		code = http.StatusConflict
	case sipua.KindInvalidArgument:
		code = http.StatusBadRequest
	case sipua.KindUnavailable:
		code = http.StatusServiceUnavailable
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}

func paramID(c echo.Context) (uint32, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id "+strconv.Quote(c.Param("id")))
	}
	return uint32(id), nil
}

func bindBody(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func (s *Server) version(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"version": s.m.Version()})
}
