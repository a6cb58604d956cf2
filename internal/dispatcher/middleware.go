package dispatcher

import (
	"net/http"
	"time"

	"github.com/ashmitkumar2005/rivault/internal/rvlog"
	"github.com/ashmitkumar2005/rivault/internal/rvmetrics"
	"github.com/rs/zerolog"
)

func logRequest(r *http.Request) zerolog.Logger {
	return rvlog.WithRequest(r.Method, r.URL.Path)
}

// statusRecorder lets middleware observe the status code a handler wrote,
// the same small wrapper shape the teacher's api package uses nowhere
// (it's gRPC-only) but pkg/ingress's proxy does for its access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withRecovery converts a panicking handler into a 500 instead of taking the
// whole process down, the way one bad request must never affect another
// user's actor goroutine.
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logRequest(r).Error().Interface("panic", rec).Msg("handler panic")
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withLogging logs one line per request and records Prometheus request
// metrics, mirroring pkg/metrics' RequestsTotal/RequestDuration counters.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		timer := rvmetrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := routeLabel(r)
		rvmetrics.RequestsTotal.WithLabelValues(route, http.StatusText(rec.status)).Inc()
		timer.ObserveSeconds(rvmetrics.RequestDuration, route)

		logRequest(r).Info().
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

// withCORS honors config.Server.AllowedOrigins, echoing a matching Origin
// header or "*" when every origin is allowed.
func withCORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-Id")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func routeLabel(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

func chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
