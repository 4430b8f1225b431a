// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/traylinx/assistGate/internal/capability"
)

// dispatchRequest is the POST /v0/dispatch/:capability body.
type dispatchRequest struct {
	Input               json.RawMessage `json:"input" binding:"required"`
	Privacy             string          `json:"privacy,omitempty"`
	Locale              string          `json:"locale,omitempty"`
	TimeZone            string          `json:"time_zone,omitempty"`
	FeatureStateVersion int             `json:"feature_state_version,omitempty"`
}

func (s *Server) handleDispatch(c *gin.Context) {
	id := capability.ID(c.Param("capability"))

	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rc := capability.NewRequestContext()
	if req.Privacy != "" {
		switch capability.PrivacyLevel(req.Privacy) {
		case capability.PrivacyNormal, capability.PrivacySensitive, capability.PrivacyOnDeviceOnly:
			rc.Privacy = capability.PrivacyLevel(req.Privacy)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown privacy level: " + req.Privacy})
			return
		}
	}
	if req.Locale != "" {
		rc.Locale = req.Locale
	}
	if req.TimeZone != "" {
		rc.TimeZone = req.TimeZone
	}
	rc.FeatureStateVersion = req.FeatureStateVersion

	res, err := s.opts.Engine.Dispatch(c.Request.Context(), id, req.Input, rc)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "request_id": rc.RequestID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": rc.RequestID, "result": res})
}

// statusFor maps dispatch errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case capability.IsRateLimited(err):
		return http.StatusTooManyRequests
	case capability.IsPolicyDenied(err):
		return http.StatusForbidden
	case capability.IsValidationFailed(err):
		return http.StatusUnprocessableEntity
	case capability.IsCapabilityUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"capabilities": s.opts.Engine.CapabilitySnapshot()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Monitor.CaptureSnapshot())
}

func (s *Server) handleCounters(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Monitor.Counters())
}

func (s *Server) handleCountersReset(c *gin.Context) {
	s.opts.Monitor.ResetCounters()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) handleCircuits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"circuits": s.opts.Engine.CircuitStates()})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Engine.GetMetrics())
}

func (s *Server) handleAudit(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	c.JSON(http.StatusOK, gin.H{
		"entries": s.opts.Audit.Recent(limit),
		"stats":   s.opts.Audit.Stats(),
	})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Settings.Current())
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) handleSetAssist(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.opts.Settings.SetAssistEnabled(*req.Enabled)
	c.JSON(http.StatusOK, s.opts.Settings.Current())
}

func (s *Server) handleSetCapability(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.opts.Settings.SetCapabilityEnabled(capability.ID(c.Param("capability")), *req.Enabled)
	c.JSON(http.StatusOK, s.opts.Settings.Current())
}

func (s *Server) handleSteeringRules(c *gin.Context) {
	if s.opts.Steering == nil {
		c.JSON(http.StatusOK, gin.H{"rules": []interface{}{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": s.opts.Steering.Rules()})
}

func (s *Server) handleReplay(c *gin.Context) {
	if s.opts.Replay == nil || !s.opts.Replay.IsEnabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "replay store disabled"})
		return
	}
	id := capability.ID(c.Query("capability"))
	limit := intQuery(c, "limit", 50)
	records, err := s.opts.Replay.Recent(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
