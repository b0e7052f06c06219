// Package storage defines the transactional contracts shared by the Postgres and
// in-memory backends. Every mutation of inventory counts or loan records goes
// through a Tx obtained from a TxBeginner.
package storage

import (
    "context"
    "time"

    "github.com/google/uuid"
    "github.com/tinoosan/circulation/internal/library"
)

// Ledger owns the available/total copy counts of each book.
type Ledger interface {
    // LockAndGetAvailable takes the book's row lock and returns its available count.
    LockAndGetAvailable(ctx context.Context, bookID uuid.UUID) (available int, found bool, err error)
    // DecrementAvailable lends one copy. It never takes the count below zero.
    DecrementAvailable(ctx context.Context, bookID uuid.UUID) error
    // IncrementAvailable takes one copy back. It never takes the count above the total.
    IncrementAvailable(ctx context.Context, bookID uuid.UUID) error
}

// Registry owns loan records.
type Registry interface {
    CountActiveLoans(ctx context.Context, userID uuid.UUID) (int, error)
    CountActiveLoansForBook(ctx context.Context, bookID uuid.UUID) (int, error)
    CreateLoan(ctx context.Context, loan library.Loan) (uuid.UUID, error)
    // FindActiveLoan locks and returns the caller's active loan matching ref.
    FindActiveLoan(ctx context.Context, ref library.LoanRef, userID uuid.UUID) (library.Loan, bool, error)
    // LoanByID reads a loan without locking it. Used for diagnostics only.
    LoanByID(ctx context.Context, loanID uuid.UUID) (library.Loan, bool, error)
    MarkReturned(ctx context.Context, loanID uuid.UUID, at time.Time) error
    // ListActiveLoansForUser locks and returns the user's active loans.
    ListActiveLoansForUser(ctx context.Context, userID uuid.UUID) ([]library.Loan, error)
}

// Users covers the user-row operations the circulation core needs.
type Users interface {
    LockUser(ctx context.Context, userID uuid.UUID) (library.User, bool, error)
    DeleteUser(ctx context.Context, userID uuid.UUID) error
}

// Catalog covers book-row writes made by catalog management.
type Catalog interface {
    LockBook(ctx context.Context, bookID uuid.UUID) (library.Book, bool, error)
    InsertBook(ctx context.Context, b library.Book) error
    UpdateBook(ctx context.Context, b library.Book) error
    DeleteBook(ctx context.Context, bookID uuid.UUID) error
}

// Tx is one store transaction. Row locks taken through it are held until
// Commit or Rollback.
type Tx interface {
    Ledger
    Registry
    Users
    Catalog
    Commit(ctx context.Context) error
    Rollback(ctx context.Context) error
}

// TxBeginner opens transactions.
type TxBeginner interface {
    BeginTx(ctx context.Context) (Tx, error)
}

// WithinTx runs fn inside a transaction. It commits only when fn succeeds and ctx
// is still live; every other exit path, panics included, rolls back.
func WithinTx(ctx context.Context, b TxBeginner, fn func(Tx) error) (err error) {
    tx, err := b.BeginTx(ctx)
    if err != nil { return err }
    defer func() {
        if p := recover(); p != nil {
            _ = tx.Rollback(context.WithoutCancel(ctx))
            panic(p)
        }
        if err != nil { _ = tx.Rollback(context.WithoutCancel(ctx)) }
    }()
    if err = fn(tx); err != nil { return err }
    if err = ctx.Err(); err != nil { return err }
    return tx.Commit(ctx)
}

// BookFilter narrows catalog listings.
type BookFilter struct {
    Genre         string
    AvailableOnly bool
    Limit         int
}

// IdempotencyRecord is the stored outcome of a request made with an Idempotency-Key.
type IdempotencyRecord struct {
    Fingerprint string `json:"fingerprint"`
    Status      int    `json:"status"`
    Payload     []byte `json:"payload"`
    Pending     bool   `json:"pending"`
}

// IdempotencyStore reserves keys before a request runs and records its response after.
type IdempotencyStore interface {
    // Reserve claims key for fingerprint. If the key already exists the stored record
    // is returned with reserved=false.
    Reserve(ctx context.Context, key, fingerprint string) (existing IdempotencyRecord, reserved bool, err error)
    // Complete stores the final response for a reserved key.
    Complete(ctx context.Context, key string, rec IdempotencyRecord) error
    // Release drops a reservation so the request may be retried.
    Release(ctx context.Context, key string) error
}
