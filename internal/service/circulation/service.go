// Package circulation lends and takes back book copies. Every operation runs in
// a single store transaction that locks the rows it reads before deciding, so
// the inventory counts and the loan records never disagree after a commit.
package circulation

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "sort"
    "time"

    "github.com/google/uuid"
    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/codes"
    "go.opentelemetry.io/otel/trace"

    "github.com/tinoosan/circulation/internal/errs"
    "github.com/tinoosan/circulation/internal/library"
    "github.com/tinoosan/circulation/internal/storage"
)

// Repo is the store surface the service needs: transactions plus committed-state reads.
type Repo interface {
    storage.TxBeginner
    GetBook(ctx context.Context, bookID uuid.UUID) (library.Book, error)
    ListLoans(ctx context.Context, userID uuid.UUID) ([]library.Loan, error)
}

// Service exposes borrowing, returning and forced returns on account deletion.
type Service interface {
    Borrow(ctx context.Context, caller library.Identity, bookID uuid.UUID) (BorrowResult, error)
    Return(ctx context.Context, caller library.Identity, ref library.LoanRef) (ReturnResult, error)
    // ForceReturnAllForUser returns every active loan of userID inside the caller's
    // transaction. It commits nothing itself.
    ForceReturnAllForUser(ctx context.Context, tx storage.Tx, userID uuid.UUID) (int, error)
    ListLoans(ctx context.Context, caller library.Identity, userID uuid.UUID) ([]library.Loan, error)
}

// BorrowResult is the committed loan plus a post-commit read of the book.
// Book is informational; when the re-read fails BookStale is set and Book is zero.
type BorrowResult struct {
    Loan      library.Loan
    Book      library.Book
    BookStale bool
}

type ReturnResult struct {
    LoanID     uuid.UUID
    BookID     uuid.UUID
    ReturnedAt time.Time
}

type service struct {
    repo   Repo
    now    func() time.Time
    log    *slog.Logger
    tracer trace.Tracer
}

// Option configures the service.
type Option func(*service)

// WithClock overrides the time source used for loan timestamps.
func WithClock(now func() time.Time) Option { return func(s *service) { if now != nil { s.now = now } } }

func WithLogger(l *slog.Logger) Option { return func(s *service) { if l != nil { s.log = l } } }

func WithTracer(t trace.Tracer) Option { return func(s *service) { if t != nil { s.tracer = t } } }

func New(repo Repo, opts ...Option) Service {
    s := &service{
        repo:   repo,
        now:    time.Now,
        log:    slog.Default(),
        tracer: otel.Tracer("github.com/tinoosan/circulation/internal/service/circulation"),
    }
    for _, opt := range opts {
        if opt != nil { opt(s) }
    }
    return s
}

// timestamp is the service clock in UTC at the precision Postgres stores.
func (s *service) timestamp() time.Time { return s.now().UTC().Truncate(time.Microsecond) }

func (s *service) Borrow(ctx context.Context, caller library.Identity, bookID uuid.UUID) (res BorrowResult, err error) {
    ctx, span := s.tracer.Start(ctx, "circulation.Borrow", trace.WithAttributes(
        attribute.String("user.id", caller.UserID.String()),
        attribute.String("book.id", bookID.String()),
    ))
    start := time.Now()
    defer func() { observe(opBorrow, start, err); endSpan(span, err) }()

    if caller.UserID == uuid.Nil { return BorrowResult{}, errs.ErrUnauthorized }
    if bookID == uuid.Nil { return BorrowResult{}, errs.ErrInvalid }

    now := s.timestamp()
    var loan library.Loan
    err = storage.WithinTx(ctx, s.repo, func(tx storage.Tx) error {
        // the user row lock serialises this user's borrows against each other
        // and against deletion of the account
        if _, ok, err := tx.LockUser(ctx, caller.UserID); err != nil {
            return err
        } else if !ok {
            return fmt.Errorf("%w: user %s no longer exists", errs.ErrUnauthorized, caller.UserID)
        }
        available, found, err := tx.LockAndGetAvailable(ctx, bookID)
        if err != nil { return err }
        if !found { return &errs.BookUnavailableError{BookID: bookID, Missing: true} }
        if available <= 0 { return &errs.BookUnavailableError{BookID: bookID} }
        active, err := tx.CountActiveLoans(ctx, caller.UserID)
        if err != nil { return err }
        if active >= library.MaxActiveLoans {
            return fmt.Errorf("%w: user %s holds %d active loans", errs.ErrLoanLimitExceeded, caller.UserID, active)
        }
        loan = library.NewLoan(caller.UserID, bookID, now)
        id, err := tx.CreateLoan(ctx, loan)
        if err != nil { return err }
        loan.ID = id
        return tx.DecrementAvailable(ctx, bookID)
    })
    if err != nil {
        err = errs.Classify(err)
        s.logFailure(ctx, opBorrow, err, "user_id", caller.UserID, "book_id", bookID)
        return BorrowResult{}, err
    }
    span.SetAttributes(attribute.String("loan.id", loan.ID.String()))
    s.log.InfoContext(ctx, "book borrowed", "loan_id", loan.ID, "user_id", caller.UserID, "book_id", bookID, "due_at", loan.DueAt)

    res.Loan = loan
    book, gerr := s.repo.GetBook(ctx, bookID)
    if gerr != nil {
        s.log.WarnContext(ctx, "post-borrow book read failed", "book_id", bookID, "err", gerr)
        res.BookStale = true
        return res, nil
    }
    res.Book = book
    return res, nil
}

func (s *service) Return(ctx context.Context, caller library.Identity, ref library.LoanRef) (res ReturnResult, err error) {
    ctx, span := s.tracer.Start(ctx, "circulation.Return", trace.WithAttributes(
        attribute.String("user.id", caller.UserID.String()),
        attribute.String("loan.id", ref.LoanID.String()),
        attribute.String("book.id", ref.BookID.String()),
    ))
    start := time.Now()
    defer func() { observe(opReturn, start, err); endSpan(span, err) }()

    if caller.UserID == uuid.Nil { return ReturnResult{}, errs.ErrUnauthorized }
    if !ref.Valid() { return ReturnResult{}, errs.ErrInvalid }

    now := s.timestamp()
    err = storage.WithinTx(ctx, s.repo, func(tx storage.Tx) error {
        loan, ok, err := tx.FindActiveLoan(ctx, ref, caller.UserID)
        if err != nil { return err }
        if !ok { return explainMiss(ctx, tx, ref, caller.UserID) }
        at := now
        if at.Before(loan.BorrowedAt) { at = loan.BorrowedAt }
        if err := tx.MarkReturned(ctx, loan.ID, at); err != nil { return err }
        if err := tx.IncrementAvailable(ctx, loan.BookID); err != nil { return err }
        res = ReturnResult{LoanID: loan.ID, BookID: loan.BookID, ReturnedAt: at}
        return nil
    })
    if err != nil {
        err = errs.Classify(err)
        s.logFailure(ctx, opReturn, err, "user_id", caller.UserID, "loan_id", ref.LoanID, "book_id", ref.BookID)
        return ReturnResult{}, err
    }
    s.log.InfoContext(ctx, "book returned", "loan_id", res.LoanID, "user_id", caller.UserID, "book_id", res.BookID)
    return res, nil
}

// explainMiss works out why no active loan matched, for the logs.
func explainMiss(ctx context.Context, tx storage.Tx, ref library.LoanRef, userID uuid.UUID) error {
    miss := &errs.LoanLookupError{LoanID: ref.LoanID, BookID: ref.BookID, UserID: userID, Reason: errs.ReasonNoActiveLoanForBook}
    if ref.LoanID == uuid.Nil { return miss }
    l, ok, err := tx.LoanByID(ctx, ref.LoanID)
    if err != nil { return err }
    switch {
    case !ok:
        miss.Reason = errs.ReasonNoSuchLoan
    case l.UserID != userID:
        miss.Reason = errs.ReasonWrongOwner
    case l.IsReturned:
        miss.Reason = errs.ReasonAlreadyReturned
    default:
        miss.Reason = errs.ReasonNoSuchLoan
    }
    miss.BookID = l.BookID
    return miss
}

func (s *service) ForceReturnAllForUser(ctx context.Context, tx storage.Tx, userID uuid.UUID) (n int, err error) {
    ctx, span := s.tracer.Start(ctx, "circulation.ForceReturnAll", trace.WithAttributes(
        attribute.String("user.id", userID.String()),
    ))
    start := time.Now()
    defer func() { observe(opForceReturn, start, err); endSpan(span, err) }()

    if userID == uuid.Nil { return 0, errs.ErrInvalid }
    loans, err := tx.ListActiveLoansForUser(ctx, userID)
    if err != nil { return 0, errs.Classify(err) }
    // books are locked in id order so two force-returns never wait on each other in a cycle
    sort.Slice(loans, func(i, j int) bool {
        if loans[i].BookID != loans[j].BookID { return loans[i].BookID.String() < loans[j].BookID.String() }
        return loans[i].ID.String() < loans[j].ID.String()
    })
    now := s.timestamp()
    for _, l := range loans {
        at := now
        if at.Before(l.BorrowedAt) { at = l.BorrowedAt }
        if err := tx.MarkReturned(ctx, l.ID, at); err != nil {
            err = errs.Classify(err)
            s.logFailure(ctx, opForceReturn, err, "user_id", userID, "loan_id", l.ID, "book_id", l.BookID)
            return 0, err
        }
        if err := tx.IncrementAvailable(ctx, l.BookID); err != nil {
            err = errs.Classify(err)
            s.logFailure(ctx, opForceReturn, err, "user_id", userID, "loan_id", l.ID, "book_id", l.BookID)
            return 0, err
        }
    }
    span.SetAttributes(attribute.Int("loans.returned", len(loans)))
    return len(loans), nil
}

func (s *service) ListLoans(ctx context.Context, caller library.Identity, userID uuid.UUID) (loans []library.Loan, err error) {
    start := time.Now()
    defer func() { observe(opListLoans, start, err) }()
    if userID == uuid.Nil { return nil, errs.ErrInvalid }
    if !caller.CanActFor(userID) { return nil, errs.ErrUnauthorized }
    loans, err = s.repo.ListLoans(ctx, userID)
    if err != nil { return nil, errs.Classify(err) }
    return loans, nil
}

func (s *service) logFailure(ctx context.Context, op string, err error, attrs ...any) {
    attrs = append(attrs, "op", op, "err", err)
    var miss *errs.LoanLookupError
    switch {
    case errors.As(err, &miss):
        s.log.WarnContext(ctx, "no active loan matched", append(attrs, "reason", string(miss.Reason))...)
    case errors.Is(err, errs.ErrTransient):
        s.log.ErrorContext(ctx, "circulation store failure", attrs...)
    case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
        s.log.DebugContext(ctx, "circulation request abandoned", attrs...)
    default:
        s.log.InfoContext(ctx, "circulation request rejected", attrs...)
    }
}

func endSpan(span trace.Span, err error) {
    if err != nil {
        span.RecordError(err)
        span.SetStatus(codes.Error, outcomeOf(err))
    } else {
        span.SetStatus(codes.Ok, "")
    }
    span.End()
}
