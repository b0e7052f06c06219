// Package account implements account-level operations that touch circulation:
// deleting a member force-returns everything they hold in the same transaction.
package account

import (
    "context"
    "log/slog"

    "github.com/google/uuid"

    "github.com/tinoosan/circulation/internal/errs"
    "github.com/tinoosan/circulation/internal/library"
    "github.com/tinoosan/circulation/internal/storage"
)

type Repo interface {
    storage.TxBeginner
    GetUser(ctx context.Context, userID uuid.UUID) (library.User, error)
}

// LoanCloser returns a user's active loans inside a host transaction.
type LoanCloser interface {
    ForceReturnAllForUser(ctx context.Context, tx storage.Tx, userID uuid.UUID) (int, error)
}

// DeletionResult reports what an account deletion did.
type DeletionResult struct {
    UserID        uuid.UUID
    BooksReturned int
}

type Service interface {
    Get(ctx context.Context, caller library.Identity, userID uuid.UUID) (library.User, error)
    DeleteAccount(ctx context.Context, caller library.Identity, userID uuid.UUID) (DeletionResult, error)
}

type service struct {
    repo  Repo
    loans LoanCloser
    log   *slog.Logger
}

func New(repo Repo, loans LoanCloser, log *slog.Logger) Service {
    if log == nil { log = slog.Default() }
    return &service{repo: repo, loans: loans, log: log}
}

func (s *service) Get(ctx context.Context, caller library.Identity, userID uuid.UUID) (library.User, error) {
    if userID == uuid.Nil { return library.User{}, errs.ErrInvalid }
    if !caller.CanActFor(userID) { return library.User{}, errs.ErrUnauthorized }
    u, err := s.repo.GetUser(ctx, userID)
    if err != nil { return library.User{}, errs.Classify(err) }
    return u, nil
}

// DeleteAccount locks the user row, returns every active loan and deletes the
// user, all in one transaction. A borrow by the same user waits on the row lock
// and then finds the user gone.
func (s *service) DeleteAccount(ctx context.Context, caller library.Identity, userID uuid.UUID) (DeletionResult, error) {
    if userID == uuid.Nil { return DeletionResult{}, errs.ErrInvalid }
    if !caller.CanActFor(userID) { return DeletionResult{}, errs.ErrUnauthorized }
    var returned int
    err := storage.WithinTx(ctx, s.repo, func(tx storage.Tx) error {
        _, ok, err := tx.LockUser(ctx, userID)
        if err != nil { return err }
        if !ok { return errs.ErrNotFound }
        returned, err = s.loans.ForceReturnAllForUser(ctx, tx, userID)
        if err != nil { return err }
        return tx.DeleteUser(ctx, userID)
    })
    if err != nil {
        err = errs.Classify(err)
        if errs.IsDomain(err) {
            s.log.InfoContext(ctx, "account deletion rejected", "user_id", userID, "by", caller.UserID, "err", err)
        } else {
            s.log.ErrorContext(ctx, "account deletion failed", "user_id", userID, "by", caller.UserID, "err", err)
        }
        return DeletionResult{}, err
    }
    s.log.InfoContext(ctx, "account deleted", "user_id", userID, "by", caller.UserID, "books_returned", returned)
    return DeletionResult{UserID: userID, BooksReturned: returned}, nil
}
