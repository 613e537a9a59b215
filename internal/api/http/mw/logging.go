package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"gitlab.com/nevasik7/alerting/logger"
)

type LoggingMiddleware struct {
	Log logger.Logger
}

func NewLogging(log logger.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{Log: log}
}

func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingRW{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r)

		dur := time.Since(start)

		line := "http_request method=%s path=%s status=%d size=%d dur_ms=%d ip=%s producer=%s req_id=%s"
		args := []any{r.Method, r.URL.Path, lrw.status, lrw.size, dur.Milliseconds(), r.RemoteAddr,
			SubjectFromContext(r.Context()), middleware.GetReqID(r.Context())}

		switch {
		case lrw.status >= http.StatusInternalServerError:
			m.Log.Errorf(line, args...)
		case lrw.status >= http.StatusBadRequest:
			m.Log.Warnf(line, args...)
		default:
			m.Log.Debugf(line, args...)
		}
	})
}

type loggingRW struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *loggingRW) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingRW) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}
