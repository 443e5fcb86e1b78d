package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/sable-inc/sable-smart-links-sub000/kit"
)

// TraceID tags each request with a random trace ID. The ID is stored under
// kit.TraceIDKey, echoed in X-Trace-ID, and carried by a per-request logger
// stored under LoggerKey. A client-supplied X-Trace-ID is kept.
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" || len(traceID) > 64 {
				id := make([]byte, 4)
				rand.Read(id)
				traceID = hex.EncodeToString(id)
			}

			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
			w.Header().Set("X-Trace-ID", traceID)

			l := logger.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, l)
			l.Debug("shield: request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
