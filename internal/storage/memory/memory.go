// Package memory provides an in-memory store used for development and tests.
// Row locks are emulated per key so concurrent transactions serialize the same way
// they do against Postgres. Writes are buffered per transaction and applied
// atomically at commit.
package memory

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/tinoosan/circulation/internal/errs"
    "github.com/tinoosan/circulation/internal/library"
    "github.com/tinoosan/circulation/internal/storage"
)

// Op names a store operation that can be made to fail with InjectFault.
type Op string

const (
    OpBegin                 Op = "begin"
    OpCommit                Op = "commit"
    OpLockAndGetAvailable   Op = "lock_and_get_available"
    OpDecrementAvailable    Op = "decrement_available"
    OpIncrementAvailable    Op = "increment_available"
    OpCountActiveLoans      Op = "count_active_loans"
    OpCreateLoan            Op = "create_loan"
    OpFindActiveLoan        Op = "find_active_loan"
    OpMarkReturned          Op = "mark_returned"
    OpListActiveLoans       Op = "list_active_loans"
    OpLockUser              Op = "lock_user"
    OpDeleteUser            Op = "delete_user"
    OpLockBook              Op = "lock_book"
    OpWriteBook             Op = "write_book"
)

// Store is an in-memory implementation of the storage contracts.
// Committed state is guarded by an RWMutex; row locks live in a separate table.
type Store struct {
    mu     sync.RWMutex
    users  map[uuid.UUID]library.User
    books  map[uuid.UUID]library.Book
    loans  map[uuid.UUID]library.Loan
    idem   map[string]storage.IdempotencyRecord
    faults map[Op]error

    locks    *lockTable
    lockWait time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockWait bounds how long a transaction waits for a row lock. Zero waits
// until the context ends.
func WithLockWait(d time.Duration) Option { return func(s *Store) { s.lockWait = d } }

// New constructs an empty in-memory store.
func New(opts ...Option) *Store {
    s := &Store{
        users:  make(map[uuid.UUID]library.User),
        books:  make(map[uuid.UUID]library.Book),
        loans:  make(map[uuid.UUID]library.Loan),
        idem:   make(map[string]storage.IdempotencyRecord),
        faults: make(map[Op]error),
        locks:  newLockTable(),
    }
    for _, opt := range opts {
        if opt != nil { opt(s) }
    }
    return s
}

// Seed helpers for local dev/tests.
func (s *Store) SeedUser(u library.User) { s.mu.Lock(); s.users[u.ID] = u; s.mu.Unlock() }
func (s *Store) SeedBook(b library.Book) { s.mu.Lock(); s.books[b.ID] = cloneBook(b); s.mu.Unlock() }
func (s *Store) SeedLoan(l library.Loan) { s.mu.Lock(); s.loans[l.ID] = cloneLoan(l); s.mu.Unlock() }
func (s *Store) Reset() {
    s.mu.Lock()
    s.users = map[uuid.UUID]library.User{}
    s.books = map[uuid.UUID]library.Book{}
    s.loans = map[uuid.UUID]library.Loan{}
    s.idem = map[string]storage.IdempotencyRecord{}
    s.faults = map[Op]error{}
    s.mu.Unlock()
}

// InjectFault makes the next call of op fail with err. Faults fire once.
func (s *Store) InjectFault(op Op, err error) { s.mu.Lock(); s.faults[op] = err; s.mu.Unlock() }

func (s *Store) fault(op Op) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    err, ok := s.faults[op]
    if ok { delete(s.faults, op) }
    return err
}

// Ready always succeeds for the in-memory backend.
func (s *Store) Ready(context.Context) error { return nil }

// --- Reads (committed state only) ---

// GetBook returns a book by id.
func (s *Store) GetBook(_ context.Context, bookID uuid.UUID) (library.Book, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    b, ok := s.books[bookID]
    if !ok { return library.Book{}, errs.ErrNotFound }
    return cloneBook(b), nil
}

// ListBooks returns books ordered by title then id.
func (s *Store) ListBooks(_ context.Context, f storage.BookFilter) ([]library.Book, error) {
    s.mu.RLock()
    out := make([]library.Book, 0, len(s.books))
    for _, b := range s.books {
        if f.Genre != "" && b.Genre != f.Genre { continue }
        if f.AvailableOnly && b.AvailableCopies <= 0 { continue }
        out = append(out, cloneBook(b))
    }
    s.mu.RUnlock()
    sort.Slice(out, func(i, j int) bool {
        if out[i].Title != out[j].Title { return out[i].Title < out[j].Title }
        return out[i].ID.String() < out[j].ID.String()
    })
    if f.Limit > 0 && len(out) > f.Limit { out = out[:f.Limit] }
    return out, nil
}

// ListLoans returns every loan of a user, newest first.
func (s *Store) ListLoans(_ context.Context, userID uuid.UUID) ([]library.Loan, error) {
    s.mu.RLock()
    out := make([]library.Loan, 0)
    for _, l := range s.loans {
        if l.UserID == userID { out = append(out, cloneLoan(l)) }
    }
    s.mu.RUnlock()
    sort.Slice(out, func(i, j int) bool {
        if !out[i].BorrowedAt.Equal(out[j].BorrowedAt) { return out[i].BorrowedAt.After(out[j].BorrowedAt) }
        return out[i].ID.String() < out[j].ID.String()
    })
    return out, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(_ context.Context, userID uuid.UUID) (library.User, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    u, ok := s.users[userID]
    if !ok { return library.User{}, errs.ErrNotFound }
    return u, nil
}

// BeginTx opens a transaction over the store.
func (s *Store) BeginTx(ctx context.Context) (storage.Tx, error) {
    if err := ctx.Err(); err != nil { return nil, err }
    if err := s.fault(OpBegin); err != nil { return nil, err }
    return &Tx{
        s:            s,
        heldSet:      make(map[string]struct{}),
        books:        make(map[uuid.UUID]library.Book),
        deletedBooks: make(map[uuid.UUID]struct{}),
        loans:        make(map[uuid.UUID]library.Loan),
        deletedUsers: make(map[uuid.UUID]struct{}),
    }, nil
}

// --- Idempotency ---

// Reserve implements storage.IdempotencyStore.
func (s *Store) Reserve(_ context.Context, key, fingerprint string) (storage.IdempotencyRecord, bool, error) {
    s.mu.Lock(); defer s.mu.Unlock()
    if rec, ok := s.idem[key]; ok { return rec, false, nil }
    s.idem[key] = storage.IdempotencyRecord{Fingerprint: fingerprint, Pending: true}
    return storage.IdempotencyRecord{}, true, nil
}

// Complete implements storage.IdempotencyStore.
func (s *Store) Complete(_ context.Context, key string, rec storage.IdempotencyRecord) error {
    s.mu.Lock(); defer s.mu.Unlock()
    rec.Pending = false
    s.idem[key] = rec
    return nil
}

// Release implements storage.IdempotencyStore.
func (s *Store) Release(_ context.Context, key string) error {
    s.mu.Lock(); delete(s.idem, key); s.mu.Unlock()
    return nil
}

func cloneBook(b library.Book) library.Book {
    b.Metadata = b.Metadata.Clone()
    return b
}

func cloneLoan(l library.Loan) library.Loan {
    if l.ReturnedAt != nil {
        at := *l.ReturnedAt
        l.ReturnedAt = &at
    }
    return l
}
