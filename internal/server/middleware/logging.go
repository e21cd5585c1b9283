package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// requestAttrs collects attributes handlers want on the access log line.
// Handlers run on the request goroutine, so no locking is needed.
type requestAttrs struct {
	attrs []slog.Attr
}

type requestAttrsKey struct{}

// AddLogAttrs attaches attrs to the access log line Logger writes for the
// current request. Outside a Logger chain it does nothing.
func AddLogAttrs(ctx context.Context, attrs ...slog.Attr) {
	if ra, ok := ctx.Value(requestAttrsKey{}).(*requestAttrs); ok {
		ra.attrs = append(ra.attrs, attrs...)
	}
}

// Logger writes one access log line per request. Query strings are left out:
// verification secrets travel in headers and key names only in the path.
// 4xx responses log at warn and 5xx at error, together with any attributes
// handlers added through AddLogAttrs (the issuance kind, the verified key).
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			extra := &requestAttrs{}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestAttrsKey{}, extra)))

			attrs := append([]slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", routePattern(r)),
				slog.Int("status", rec.status),
				slog.Float64("duration_ms", float64(time.Since(began).Microseconds())/1000.0),
				slog.Int("bytes", rec.bytes),
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("remote_addr", r.RemoteAddr),
			}, extra.attrs...)
			logger.LogAttrs(r.Context(), statusLevel(rec.status), "request", attrs...)
		})
	}
}

func statusLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// statusRecorder remembers the status code and body size of a response.
// Logger and Metrics both wrap with it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
