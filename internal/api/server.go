// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api serves the local diagnostics and dispatch HTTP API. It binds
// localhost by default; nothing here is meant for the open internet.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/assistGate/internal/audit"
	"github.com/traylinx/assistGate/internal/engine"
	"github.com/traylinx/assistGate/internal/health"
	"github.com/traylinx/assistGate/internal/replay"
	"github.com/traylinx/assistGate/internal/settings"
	"github.com/traylinx/assistGate/internal/steering"
)

// Options carry the server's dependencies. Engine, Monitor, Audit and
// Settings are required; Steering and Replay are optional.
type Options struct {
	Engine   *engine.Engine
	Monitor  *health.Monitor
	Audit    *audit.Log
	Settings *settings.Store
	Steering *steering.Engine
	Replay   *replay.Store
	Debug    bool
}

// Server is the HTTP diagnostics and dispatch server.
type Server struct {
	opts   Options
	router *gin.Engine
	srv    *http.Server
}

// NewServer builds the router and handlers.
func NewServer(opts Options) (*Server, error) {
	switch {
	case opts.Engine == nil:
		return nil, fmt.Errorf("api: engine is required")
	case opts.Monitor == nil:
		return nil, fmt.Errorf("api: health monitor is required")
	case opts.Audit == nil:
		return nil, fmt.Errorf("api: audit log is required")
	case opts.Settings == nil:
		return nil, fmt.Errorf("api: settings store is required")
	}

	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{opts: opts}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	s.registerRoutes(router)
	s.router = router
	return s, nil
}

func (s *Server) registerRoutes(router *gin.Engine) {
	v0 := router.Group("/v0")
	{
		v0.POST("/dispatch/:capability", s.handleDispatch)
		v0.GET("/capabilities", s.handleCapabilities)
		v0.GET("/health", s.handleHealth)
		v0.GET("/counters", s.handleCounters)
		v0.POST("/counters/reset", s.handleCountersReset)
		v0.GET("/circuits", s.handleCircuits)
		v0.GET("/metrics", s.handleMetrics)
		v0.GET("/audit", s.handleAudit)
		v0.GET("/settings", s.handleGetSettings)
		v0.PUT("/settings/assist", s.handleSetAssist)
		v0.PUT("/settings/capabilities/:capability", s.handleSetCapability)
		v0.GET("/steering/rules", s.handleSteeringRules)
		v0.GET("/replay", s.handleReplay)
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, host string, port int) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.srv.Addr).Info("API server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Milliseconds(),
		}).Debug("HTTP request")
	}
}
