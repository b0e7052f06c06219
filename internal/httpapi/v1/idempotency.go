package v1

import (
    "bytes"
    "context"
    "crypto/sha256"
    "encoding/hex"
    "io"
    "net/http"
    "strings"

    chimw "github.com/go-chi/chi/v5/middleware"

    "github.com/tinoosan/circulation/internal/storage"
)

const maxIdempotencyKeyLen = 200

func hashBytes(b []byte) string {
    h := sha256.Sum256(b)
    return hex.EncodeToString(h[:])
}

// idempotent replays the stored response for a repeated Idempotency-Key. Keys are
// scoped to the caller and bound to a fingerprint of method, path and body.
// Server-side failures release the key so the client can retry.
func (s *Server) idempotent(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
        if key == "" || s.idem == nil { next.ServeHTTP(w, r); return }
        if len(key) > maxIdempotencyKeyLen { badRequest(w, "idempotency key too long"); return }
        id, ok := identityFrom(r.Context())
        if !ok { writeErr(w, http.StatusUnauthorized, "authentication required", "unauthenticated"); return }

        body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
        if err != nil { badRequest(w, "unreadable body"); return }
        r.Body = io.NopCloser(bytes.NewReader(body))
        fp := hashBytes([]byte(r.Method + " " + r.URL.Path + "\n" + string(body)))
        scoped := id.UserID.String() + ":" + key

        ctx := r.Context()
        existing, reserved, err := s.idem.Reserve(ctx, scoped, fp)
        if err != nil {
            s.log.ErrorContext(ctx, "idempotency reserve failed", "err", err)
            w.Header().Set("Retry-After", "1")
            writeErr(w, http.StatusServiceUnavailable, "temporarily unavailable, retry the request", "transient_failure")
            return
        }
        if !reserved {
            switch {
            case existing.Fingerprint != fp:
                writeErr(w, http.StatusConflict, "idempotency key reused with a different request", "idempotency_mismatch")
            case existing.Pending:
                writeErr(w, http.StatusConflict, "a request with this idempotency key is in progress", "idempotency_in_progress")
            default:
                w.Header().Set("Content-Type", "application/json")
                w.Header().Set("Idempotent-Replayed", "true")
                w.WriteHeader(existing.Status)
                _, _ = w.Write(existing.Payload)
            }
            return
        }

        // outlive the request so a disconnect doesn't strand the reservation
        bg := context.WithoutCancel(ctx)
        done := false
        defer func() {
            if !done { _ = s.idem.Release(bg, scoped) }
        }()

        ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
        var buf bytes.Buffer
        ww.Tee(&buf)
        next.ServeHTTP(ww, r)

        status := ww.Status()
        if status == 0 { status = http.StatusOK }
        if status >= 500 || status == statusClientClosedRequest { return }
        rec := storage.IdempotencyRecord{Fingerprint: fp, Status: status, Payload: buf.Bytes()}
        if err := s.idem.Complete(bg, scoped, rec); err != nil {
            s.log.WarnContext(ctx, "idempotency complete failed", "err", err)
            return
        }
        done = true
    })
}
