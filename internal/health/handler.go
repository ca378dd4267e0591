// Package health exposes liveness and readiness HTTP endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/peroxo/gateway/internal/bus"
)

// Pinger is satisfied by anything the readiness check should verify is
// reachable (the auth and persistence RPC clients).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	bus         *bus.Service
	auth        Pinger
	persistence Pinger
}

// NewHandler constructs a Handler. auth/persistence may implement Pinger as
// a thin health-check wrapper around their respective RPC connections; nil
// disables that check.
func NewHandler(busService *bus.Service, auth, persistence Pinger) *Handler {
	return &Handler{bus: busService, auth: auth, persistence: persistence}
}

// LivenessResponse is the body of a successful liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse is the body of a readiness check, success or failure.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type alias ReadinessResponse
	return json.Marshal(alias(r))
}

// Liveness always reports 200; it only proves the process is scheduled and
// answering HTTP.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{Status: "alive"})
}

// Readiness checks every configured downstream and reports 503 if any is
// unreachable.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	ok := true

	if err := h.checkRedis(ctx); err != nil {
		checks["redis"] = err.Error()
		ok = false
	} else {
		checks["redis"] = "ok"
	}

	if h.auth != nil {
		if err := h.auth.Ping(ctx); err != nil {
			checks["auth"] = err.Error()
			ok = false
		} else {
			checks["auth"] = "ok"
		}
	}

	if h.persistence != nil {
		if err := h.persistence.Ping(ctx); err != nil {
			checks["persistence"] = err.Error()
			ok = false
		} else {
			checks["persistence"] = "ok"
		}
	}

	status := http.StatusOK
	resp := ReadinessResponse{Status: "ready", Checks: checks}
	if !ok {
		status = http.StatusServiceUnavailable
		resp.Status = "unavailable"
	}
	c.JSON(status, resp)
}

func (h *Handler) checkRedis(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Ping(ctx)
}
