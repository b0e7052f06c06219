package v1

import (
    "context"
    "errors"
    "net/http"

    "github.com/tinoosan/circulation/internal/errs"
)

// statusClientClosedRequest is written when the caller went away mid-request.
const statusClientClosedRequest = 499

// errorResponse is the standard error payload for the API.
type errorResponse struct {
    Error string `json:"error"`
    Code  string `json:"code,omitempty"`
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
    toJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) { writeErr(w, http.StatusBadRequest, msg, "bad_request") }
func notFound(w http.ResponseWriter)               { writeErr(w, http.StatusNotFound, "not_found", "not_found") }

// writeServiceError maps the errs taxonomy onto HTTP. Loan lookup misses share one
// message whatever the underlying reason.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
    switch {
    case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
        w.WriteHeader(statusClientClosedRequest)
    case errors.Is(err, errs.ErrTransient):
        w.Header().Set("Retry-After", "1")
        writeErr(w, http.StatusServiceUnavailable, "temporarily unavailable, retry the request", "transient_failure")
    // a borrow of a missing book matches both not_found and not_available
    case errors.Is(err, errs.ErrNotFound):
        notFound(w)
    case errors.Is(err, errs.ErrLoanNotFound):
        writeErr(w, http.StatusNotFound, "no active loan matches this request", "loan_not_found")
    case errors.Is(err, errs.ErrNotAvailable):
        writeErr(w, http.StatusConflict, "no copies available", "not_available")
    case errors.Is(err, errs.ErrLoanLimitExceeded):
        writeErr(w, http.StatusConflict, "active loan limit reached", "loan_limit_exceeded")
    case errors.Is(err, errs.ErrUnauthorized):
        writeErr(w, http.StatusForbidden, "unauthorized", "unauthorized")
    case errors.Is(err, errs.ErrForbidden):
        writeErr(w, http.StatusForbidden, "forbidden", "forbidden")
    case errors.Is(err, errs.ErrInvalid):
        writeErr(w, http.StatusBadRequest, err.Error(), "invalid")
    case errors.Is(err, errs.ErrConflict):
        writeErr(w, http.StatusConflict, err.Error(), "conflict")
    default:
        s.log.ErrorContext(r.Context(), "unhandled service error", "path", r.URL.Path, "err", err)
        writeErr(w, http.StatusInternalServerError, "internal error", "internal_error")
    }
}
