package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"poolwatch/internal/domain"
	"poolwatch/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

// Webhook accepts {"data": [BlockEventBatch...]} on /webhook and /webhook/{chain}.
// The whole payload is accepted or rejected.
func (a *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var payload domain.WebhookPayload
	if err := httputil.DecodeJSON(w, r, a.MaxBodyBytes, &payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeError(w, r, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrValidation, tooLarge.Limit))
			return
		}
		a.writeError(w, r, fmt.Errorf("%w: malformed json: %v", domain.ErrValidation, err))
		return
	}

	res, err := a.Svc.Ingest(r.Context(), chi.URLParam(r, "chain"), &payload)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if err = httputil.OK(w, res); err != nil {
		a.Log.Errorf("Webhook handler error: %s", err.Error())
	}
}

// writeError maps the pipeline error classes onto HTTP
func (a *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, httputil.CodeInternal
	switch {
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, httputil.CodeValidation
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, httputil.CodeNotFound
	case errors.Is(err, domain.ErrPersistence):
		code = "persistence"
	case errors.Is(err, domain.ErrAggregation):
		code = "aggregation"
	}

	if status >= http.StatusInternalServerError {
		a.Log.Errorf("%s %s failed: %v", r.Method, r.URL.Path, err)
	} else {
		a.Log.Debugf("%s %s rejected: %v", r.Method, r.URL.Path, err)
	}

	if werr := httputil.Error(w, r, status, code, err.Error(), nil); werr != nil {
		a.Log.Errorf("Write error response: %v", werr)
	}
}
