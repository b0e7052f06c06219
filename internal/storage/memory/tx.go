package memory

import (
    "context"
    "errors"
    "fmt"
    "sort"
    "time"

    "github.com/google/uuid"
    "github.com/tinoosan/circulation/internal/errs"
    "github.com/tinoosan/circulation/internal/library"
)

var errTxDone = errors.New("memory: transaction already finished")

// Tx buffers writes on top of the committed state and holds row locks until it
// finishes. A Tx must not be shared between goroutines.
type Tx struct {
    s       *Store
    held    []string
    heldSet map[string]struct{}

    books        map[uuid.UUID]library.Book
    deletedBooks map[uuid.UUID]struct{}
    loans        map[uuid.UUID]library.Loan
    deletedUsers map[uuid.UUID]struct{}
    done         bool
}

func bookKey(id uuid.UUID) string { return "book:" + id.String() }
func loanKey(id uuid.UUID) string { return "loan:" + id.String() }
func userKey(id uuid.UUID) string { return "user:" + id.String() }

// lock takes the row lock for key unless this tx already holds it.
func (t *Tx) lock(ctx context.Context, key string) error {
    if t.done { return errTxDone }
    if _, ok := t.heldSet[key]; ok { return nil }
    if err := t.s.locks.acquire(ctx, key, t.s.lockWait); err != nil { return err }
    t.heldSet[key] = struct{}{}
    t.held = append(t.held, key)
    return nil
}

// enter runs the common preamble of every operation.
func (t *Tx) enter(op Op) error {
    if t.done { return errTxDone }
    return t.s.fault(op)
}

func (t *Tx) book(id uuid.UUID) (library.Book, bool) {
    if _, gone := t.deletedBooks[id]; gone { return library.Book{}, false }
    if b, ok := t.books[id]; ok { return b, true }
    t.s.mu.RLock(); defer t.s.mu.RUnlock()
    b, ok := t.s.books[id]
    return cloneBook(b), ok
}

func (t *Tx) loan(id uuid.UUID) (library.Loan, bool) {
    if l, ok := t.loans[id]; ok { return l, true }
    t.s.mu.RLock(); defer t.s.mu.RUnlock()
    l, ok := t.s.loans[id]
    return cloneLoan(l), ok
}

func (t *Tx) user(id uuid.UUID) (library.User, bool) {
    if _, gone := t.deletedUsers[id]; gone { return library.User{}, false }
    t.s.mu.RLock(); defer t.s.mu.RUnlock()
    u, ok := t.s.users[id]
    return u, ok
}

// loansWhere returns the loans visible to this tx that satisfy keep.
func (t *Tx) loansWhere(keep func(library.Loan) bool) []library.Loan {
    out := make([]library.Loan, 0)
    t.s.mu.RLock()
    for id, l := range t.s.loans {
        if _, shadowed := t.loans[id]; shadowed { continue }
        if keep(l) { out = append(out, cloneLoan(l)) }
    }
    t.s.mu.RUnlock()
    for _, l := range t.loans {
        if keep(l) { out = append(out, l) }
    }
    return out
}

// --- Ledger ---

func (t *Tx) LockAndGetAvailable(ctx context.Context, bookID uuid.UUID) (int, bool, error) {
    if err := t.enter(OpLockAndGetAvailable); err != nil { return 0, false, err }
    if err := t.lock(ctx, bookKey(bookID)); err != nil { return 0, false, err }
    b, ok := t.book(bookID)
    if !ok { return 0, false, nil }
    return b.AvailableCopies, true, nil
}

func (t *Tx) DecrementAvailable(ctx context.Context, bookID uuid.UUID) error {
    if err := t.enter(OpDecrementAvailable); err != nil { return err }
    if err := t.lock(ctx, bookKey(bookID)); err != nil { return err }
    b, ok := t.book(bookID)
    if !ok { return errs.ErrNotFound }
    if b.AvailableCopies <= 0 { return &errs.BookUnavailableError{BookID: bookID} }
    b.AvailableCopies--
    t.books[bookID] = b
    return nil
}

func (t *Tx) IncrementAvailable(ctx context.Context, bookID uuid.UUID) error {
    if err := t.enter(OpIncrementAvailable); err != nil { return err }
    if err := t.lock(ctx, bookKey(bookID)); err != nil { return err }
    b, ok := t.book(bookID)
    if !ok { return errs.ErrNotFound }
    if b.AvailableCopies >= b.TotalCopies {
        return fmt.Errorf("%w: book %s already has all %d copies available", errs.ErrConflict, bookID, b.TotalCopies)
    }
    b.AvailableCopies++
    t.books[bookID] = b
    return nil
}

// --- Registry ---

func (t *Tx) CountActiveLoans(_ context.Context, userID uuid.UUID) (int, error) {
    if err := t.enter(OpCountActiveLoans); err != nil { return 0, err }
    return len(t.loansWhere(func(l library.Loan) bool { return l.UserID == userID && !l.IsReturned })), nil
}

func (t *Tx) CountActiveLoansForBook(_ context.Context, bookID uuid.UUID) (int, error) {
    if err := t.enter(OpCountActiveLoans); err != nil { return 0, err }
    return len(t.loansWhere(func(l library.Loan) bool { return l.BookID == bookID && !l.IsReturned })), nil
}

func (t *Tx) CreateLoan(ctx context.Context, loan library.Loan) (uuid.UUID, error) {
    if err := t.enter(OpCreateLoan); err != nil { return uuid.Nil, err }
    if loan.ID == uuid.Nil { loan.ID = uuid.New() }
    if err := t.lock(ctx, loanKey(loan.ID)); err != nil { return uuid.Nil, err }
    if _, exists := t.loan(loan.ID); exists { return uuid.Nil, errs.ErrConflict }
    if _, ok := t.user(loan.UserID); !ok { return uuid.Nil, fmt.Errorf("%w: user %s", errs.ErrNotFound, loan.UserID) }
    if _, ok := t.book(loan.BookID); !ok { return uuid.Nil, fmt.Errorf("%w: book %s", errs.ErrNotFound, loan.BookID) }
    t.loans[loan.ID] = cloneLoan(loan)
    return loan.ID, nil
}

func (t *Tx) FindActiveLoan(ctx context.Context, ref library.LoanRef, userID uuid.UUID) (library.Loan, bool, error) {
    if err := t.enter(OpFindActiveLoan); err != nil { return library.Loan{}, false, err }
    matches := func(l library.Loan) bool { return l.UserID == userID && !l.IsReturned }
    var candidates []library.Loan
    if ref.LoanID != uuid.Nil {
        if l, ok := t.loan(ref.LoanID); ok && matches(l) { candidates = append(candidates, l) }
    } else {
        candidates = t.loansWhere(func(l library.Loan) bool { return l.BookID == ref.BookID && matches(l) })
        sort.Slice(candidates, func(i, j int) bool {
            if !candidates[i].BorrowedAt.Equal(candidates[j].BorrowedAt) { return candidates[i].BorrowedAt.Before(candidates[j].BorrowedAt) }
            return candidates[i].ID.String() < candidates[j].ID.String()
        })
    }
    for _, c := range candidates {
        if err := t.lock(ctx, loanKey(c.ID)); err != nil { return library.Loan{}, false, err }
        // re-check after the lock: a concurrent return may have committed meanwhile
        if l, ok := t.loan(c.ID); ok && matches(l) { return l, true, nil }
    }
    return library.Loan{}, false, nil
}

func (t *Tx) LoanByID(_ context.Context, loanID uuid.UUID) (library.Loan, bool, error) {
    if t.done { return library.Loan{}, false, errTxDone }
    l, ok := t.loan(loanID)
    return l, ok, nil
}

func (t *Tx) MarkReturned(ctx context.Context, loanID uuid.UUID, at time.Time) error {
    if err := t.enter(OpMarkReturned); err != nil { return err }
    if err := t.lock(ctx, loanKey(loanID)); err != nil { return err }
    l, ok := t.loan(loanID)
    if !ok { return errs.ErrNotFound }
    if l.IsReturned { return fmt.Errorf("%w: loan %s already returned", errs.ErrConflict, loanID) }
    if at.Before(l.BorrowedAt) { return fmt.Errorf("%w: return time precedes borrow time", errs.ErrInvalid) }
    l.ReturnedAt = &at
    l.IsReturned = true
    t.loans[loanID] = l
    return nil
}

func (t *Tx) ListActiveLoansForUser(ctx context.Context, userID uuid.UUID) ([]library.Loan, error) {
    if err := t.enter(OpListActiveLoans); err != nil { return nil, err }
    active := func(l library.Loan) bool { return l.UserID == userID && !l.IsReturned }
    candidates := t.loansWhere(active)
    sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID.String() < candidates[j].ID.String() })
    out := make([]library.Loan, 0, len(candidates))
    for _, c := range candidates {
        if err := t.lock(ctx, loanKey(c.ID)); err != nil { return nil, err }
        if l, ok := t.loan(c.ID); ok && active(l) { out = append(out, l) }
    }
    return out, nil
}

// --- Users ---

func (t *Tx) LockUser(ctx context.Context, userID uuid.UUID) (library.User, bool, error) {
    if err := t.enter(OpLockUser); err != nil { return library.User{}, false, err }
    if err := t.lock(ctx, userKey(userID)); err != nil { return library.User{}, false, err }
    u, ok := t.user(userID)
    return u, ok, nil
}

func (t *Tx) DeleteUser(ctx context.Context, userID uuid.UUID) error {
    if err := t.enter(OpDeleteUser); err != nil { return err }
    if err := t.lock(ctx, userKey(userID)); err != nil { return err }
    if _, ok := t.user(userID); !ok { return errs.ErrNotFound }
    t.deletedUsers[userID] = struct{}{}
    return nil
}

// --- Catalog ---

func (t *Tx) LockBook(ctx context.Context, bookID uuid.UUID) (library.Book, bool, error) {
    if err := t.enter(OpLockBook); err != nil { return library.Book{}, false, err }
    if err := t.lock(ctx, bookKey(bookID)); err != nil { return library.Book{}, false, err }
    b, ok := t.book(bookID)
    return b, ok, nil
}

func (t *Tx) InsertBook(ctx context.Context, b library.Book) error {
    if err := t.enter(OpWriteBook); err != nil { return err }
    if err := t.lock(ctx, bookKey(b.ID)); err != nil { return err }
    if _, exists := t.book(b.ID); exists { return errs.ErrConflict }
    delete(t.deletedBooks, b.ID)
    t.books[b.ID] = cloneBook(b)
    return nil
}

func (t *Tx) UpdateBook(ctx context.Context, b library.Book) error {
    if err := t.enter(OpWriteBook); err != nil { return err }
    if err := t.lock(ctx, bookKey(b.ID)); err != nil { return err }
    if _, exists := t.book(b.ID); !exists { return errs.ErrNotFound }
    if b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies {
        return fmt.Errorf("%w: available copies out of range", errs.ErrInvalid)
    }
    t.books[b.ID] = cloneBook(b)
    return nil
}

func (t *Tx) DeleteBook(ctx context.Context, bookID uuid.UUID) error {
    if err := t.enter(OpWriteBook); err != nil { return err }
    if err := t.lock(ctx, bookKey(bookID)); err != nil { return err }
    if _, exists := t.book(bookID); !exists { return errs.ErrNotFound }
    if refs := t.loansWhere(func(l library.Loan) bool { return l.BookID == bookID }); len(refs) > 0 {
        return fmt.Errorf("%w: book %s has loan history", errs.ErrConflict, bookID)
    }
    delete(t.books, bookID)
    t.deletedBooks[bookID] = struct{}{}
    return nil
}

// --- Lifecycle ---

// Commit applies buffered writes atomically and releases row locks.
func (t *Tx) Commit(context.Context) error {
    if t.done { return errTxDone }
    if err := t.s.fault(OpCommit); err != nil { return err }
    s := t.s
    s.mu.Lock()
    for id := range t.deletedBooks { delete(s.books, id) }
    for id, b := range t.books { s.books[id] = b }
    for id, l := range t.loans { s.loans[id] = l }
    for id := range t.deletedUsers {
        delete(s.users, id)
        for lid, l := range s.loans {
            if l.UserID == id { delete(s.loans, lid) }
        }
    }
    s.mu.Unlock()
    t.finish()
    return nil
}

// Rollback discards buffered writes and releases row locks. It is safe to call
// after Commit.
func (t *Tx) Rollback(context.Context) error {
    if t.done { return nil }
    t.finish()
    return nil
}

func (t *Tx) finish() {
    t.done = true
    for i := len(t.held) - 1; i >= 0; i-- { t.s.locks.release(t.held[i]) }
    t.held, t.heldSet = nil, nil
    t.books, t.loans, t.deletedBooks, t.deletedUsers = nil, nil, nil, nil
}
