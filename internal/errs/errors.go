package errs

import (
    "context"
    "errors"

    "github.com/google/uuid"
)

// Common sentinel errors for cross-layer signaling.
var (
    ErrNotFound  = errors.New("not_found")
    ErrForbidden = errors.New("forbidden")
    ErrConflict  = errors.New("conflict")
    ErrInvalid   = errors.New("invalid")
    // ErrNotAvailable means the book has no copy left to lend.
    ErrNotAvailable = errors.New("not_available")
    // ErrLoanLimitExceeded means the borrower already holds the maximum number of active loans.
    ErrLoanLimitExceeded = errors.New("loan_limit_exceeded")
    // ErrLoanNotFound is the single caller-visible outcome for any failed return lookup.
    ErrLoanNotFound = errors.New("loan_not_found")
    // ErrUnauthorized means the caller does not own the loan or account being acted on.
    ErrUnauthorized = errors.New("unauthorized")
    // ErrTransient marks lock timeouts, deadlocks and connection failures. Retry the whole operation.
    ErrTransient = errors.New("transient_store_failure")
)

// TransientError wraps a store failure that is safe to retry from scratch.
type TransientError struct {
    Err error
}

// Transient wraps err as a transient store failure. Nil stays nil and
// already-transient errors are returned as is.
func Transient(err error) error {
    if err == nil || errors.Is(err, ErrTransient) { return err }
    return &TransientError{Err: err}
}

func (e *TransientError) Error() string { return "transient store failure: " + e.Err.Error() }

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// LoanMissReason records why a return lookup matched nothing. It is for logs only.
type LoanMissReason string

const (
    ReasonNoSuchLoan          LoanMissReason = "no_such_loan"
    ReasonAlreadyReturned     LoanMissReason = "already_returned"
    ReasonWrongOwner          LoanMissReason = "wrong_owner"
    ReasonNoActiveLoanForBook LoanMissReason = "no_active_loan_for_book"
)

// LoanLookupError is returned when no active loan matches a return request.
// It matches ErrLoanNotFound; Reason must not be exposed to callers.
type LoanLookupError struct {
    Reason LoanMissReason
    LoanID uuid.UUID
    BookID uuid.UUID
    UserID uuid.UUID
}

func (e *LoanLookupError) Error() string { return ErrLoanNotFound.Error() + ": " + string(e.Reason) }

func (e *LoanLookupError) Unwrap() error { return ErrLoanNotFound }

// BookUnavailableError is returned by a borrow that found no copy to lend.
// When Missing is set the book does not exist and the error also matches ErrNotFound.
type BookUnavailableError struct {
    BookID  uuid.UUID
    Missing bool
}

func (e *BookUnavailableError) Error() string {
    if e.Missing { return "book " + e.BookID.String() + " not found" }
    return "book " + e.BookID.String() + " has no available copies"
}

func (e *BookUnavailableError) Unwrap() []error {
    if e.Missing { return []error{ErrNotAvailable, ErrNotFound} }
    return []error{ErrNotAvailable}
}

var domain = []error{
    ErrNotFound, ErrForbidden, ErrConflict, ErrInvalid, ErrNotAvailable,
    ErrLoanLimitExceeded, ErrLoanNotFound, ErrUnauthorized,
}

// IsDomain reports whether err carries one of the business-rule kinds above.
func IsDomain(err error) bool {
    for _, target := range domain {
        if errors.Is(err, target) { return true }
    }
    return false
}

// Classify leaves domain, transient and context errors as they are and marks
// anything else as a transient store failure.
func Classify(err error) error {
    if err == nil || IsDomain(err) { return err }
    if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) { return err }
    return Transient(err)
}
