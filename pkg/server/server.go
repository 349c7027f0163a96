// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
// Package server exposes artifact generation over HTTP.
package server

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jllopis/artifacts/pkg/health"
	"github.com/jllopis/artifacts/pkg/manifest"
	"github.com/jllopis/artifacts/pkg/pipeline"
)

// Runner runs prompts and encodes manifests.
type Runner interface {
	Run(ctx context.Context, prompt string) (*pipeline.Outcome, error)
	Encode(m *manifest.Manifest) (encoded, defineURL string, err error)
}

// Readiness reports the health of the components behind the runner.
type Readiness interface {
	Health(ctx context.Context) ([]health.Result, health.Status)
}

// Server is the HTTP API.
type Server struct {
	runner         Runner
	router         *gin.Engine
	logger         *slog.Logger
	requestTimeout time.Duration
	version        string
	mcp            http.Handler
	readiness      Readiness
	started        time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithRequestTimeout bounds generation requests. Zero leaves them bound only
// by the client connection.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithVersion is reported by the banner route.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithMCPHandler mounts an MCP streamable HTTP handler at /mcp.
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) {
		s.mcp = h
	}
}

// WithReadiness backs /readyz. Without it /readyz mirrors /healthz.
func WithReadiness(r Readiness) Option {
	return func(s *Server) {
		s.readiness = r
	}
}

// New builds the router. mode is a gin mode; empty keeps gin's default.
func New(runner Runner, mode string, opts ...Option) *Server {
	if mode != "" {
		gin.SetMode(mode)
	}
	s := &Server{
		runner:  runner,
		logger:  slog.Default(),
		version: "dev",
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.logger))
	r.Use(RequestMetrics())

	r.GET("/", s.banner)
	r.GET("/healthz", s.health)
	r.GET("/readyz", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/generate", s.generateQuery)

	api := r.Group("/api/v1")
	api.POST("/artifacts", s.createArtifact)
	api.POST("/encode", s.encode)
	api.POST("/decode", s.decode)

	if s.mcp != nil {
		r.Any("/mcp", gin.WrapH(s.mcp))
	}

	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
