package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"poolwatch/internal/service"
	"poolwatch/pkg/httputil"

	"gitlab.com/nevasik7/alerting/logger"
)

type Handler struct {
	Log          logger.Logger
	Svc          *service.PoolwatchService
	MaxBodyBytes int64
}

func NewHandler(log logger.Logger, svc *service.PoolwatchService, maxBodyBytes int64) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("poolwatch service cannot be nil")
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 16 << 20
	}

	return &Handler{Log: log, Svc: svc, MaxBodyBytes: maxBodyBytes}, nil
}

func (a *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	if err := httputil.OK(w, map[string]any{}); err != nil {
		a.Log.Errorf("Healthz handler error: %s", err.Error())
	}
}

// Check health external services/clients
func (a *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if err := a.Svc.CheckDependency(ctx); err != nil {
		err = httputil.Error(w, r, http.StatusServiceUnavailable, httputil.CodeUnhealthy, "dependencies check failed", map[string]any{
			"error": err.Error(),
		})
		if err != nil {
			a.Log.Errorf("Readiness handler error: %s", err.Error())
		}
		return
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]any{
		"dependencies": "healthy",
		"queue":        a.Svc.QueueStatus(),
	}, nil); err != nil {
		a.Log.Errorf("Readiness handler error: %s", err.Error())
	}
}
