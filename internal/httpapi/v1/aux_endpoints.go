package v1

import (
    "context"
    "net/http"
    "time"
)

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
    // If the underlying stores implement ReadyChecker, call it with a short timeout
    ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
    defer cancel()
    for _, dep := range []any{s.store, s.idem} {
        if rc, ok := dep.(ReadyChecker); ok {
            if err := rc.Ready(ctx); err != nil {
                s.log.WarnContext(ctx, "readiness check failed", "err", err)
                w.WriteHeader(http.StatusServiceUnavailable)
                return
            }
        }
    }
    w.WriteHeader(http.StatusOK)
}
