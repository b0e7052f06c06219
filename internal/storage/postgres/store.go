// Package postgres provides a pgx-backed implementation of the storage contracts.
//
// Row locks are taken with SELECT ... FOR UPDATE inside READ COMMITTED
// transactions. The schema lives under db/migrations; its CHECK constraints back
// the inventory and loan invariants.
package postgres

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/jackc/pgerrcode"
    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgconn"
    "github.com/jackc/pgx/v5/pgxpool"

    "github.com/tinoosan/circulation/internal/errs"
    "github.com/tinoosan/circulation/internal/library"
    "github.com/tinoosan/circulation/internal/meta"
    "github.com/tinoosan/circulation/internal/storage"
)

// Store holds a pgx connection pool. All methods are safe for concurrent use.
type Store struct {
    pool        *pgxpool.Pool
    lockTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout sets lock_timeout for every transaction. Zero keeps the server default.
func WithLockTimeout(d time.Duration) Option { return func(s *Store) { s.lockTimeout = d } }

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
    cfg, err := pgxpool.ParseConfig(dsn)
    if err != nil { return nil, err }
    pool, err := pgxpool.NewWithConfig(ctx, cfg)
    if err != nil { return nil, err }
    // Verify connection
    if err := pool.Ping(ctx); err != nil { pool.Close(); return nil, err }
    s := &Store{pool: pool}
    for _, opt := range opts {
        if opt != nil { opt(s) }
    }
    return s, nil
}

// Close releases the underlying pool.
func (s *Store) Close() { if s.pool != nil { s.pool.Close() } }

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// SeedDev inserts an admin, a member and a handful of books for local testing.
// Fresh UUIDs are used on every run.
func (s *Store) SeedDev(ctx context.Context) ([]library.User, []library.Book, error) {
    users, books := DevFixtures()
    err := storage.WithinTx(ctx, s, func(tx storage.Tx) error {
        pt := tx.(*Tx)
        for _, u := range users {
            if _, err := pt.tx.Exec(ctx, `
                insert into users (id, name, email, role) values ($1,$2,$3,$4)
            `, u.ID, u.Name, u.Email, u.Role); err != nil {
                return classify(err)
            }
        }
        for _, b := range books {
            if err := pt.InsertBook(ctx, b); err != nil { return err }
        }
        return nil
    })
    if err != nil { return nil, nil, err }
    return users, books, nil
}

// DevFixtures returns the users and books used to seed a development database.
func DevFixtures() ([]library.User, []library.Book) {
    suffix := uuid.NewString()[:8]
    users := []library.User{
        {ID: uuid.New(), Name: "Librarian", Email: "admin+" + suffix + "@library.local", Role: library.RoleAdmin},
        {ID: uuid.New(), Name: "Reader", Email: "reader+" + suffix + "@library.local", Role: library.RoleUser},
    }
    mk := func(title, author, genre string, copies int) library.Book {
        return library.Book{ID: uuid.New(), Title: title, Author: author, Genre: genre, Metadata: meta.Metadata{}, TotalCopies: copies, AvailableCopies: copies}
    }
    books := []library.Book{
        mk("Dune", "Frank Herbert", "science_fiction", 3),
        mk("The Hobbit", "J.R.R. Tolkien", "fantasy", 2),
        mk("A Brief History of Time", "Stephen Hawking", "science", 1),
        mk("The Art of Computer Programming", "Donald Knuth", "technology", 1),
    }
    return users, books
}

// --- Reads (committed state) ---

const bookColumns = `id, title, author, isbn, genre, metadata, total_copies, available_copies`
const loanColumns = `id, user_id, book_id, borrowed_at, due_at, returned_at, is_returned`

type rowScanner interface{ Scan(dest ...any) error }

func scanBook(r rowScanner) (library.Book, error) {
    var b library.Book
    var mdBytes []byte
    if err := r.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Genre, &mdBytes, &b.TotalCopies, &b.AvailableCopies); err != nil { return library.Book{}, err }
    b.Metadata = meta.Metadata{}
    if len(mdBytes) > 0 {
        var m meta.Metadata
        if err := m.UnmarshalJSON(mdBytes); err == nil { b.Metadata = m }
    }
    return b, nil
}

func scanLoan(r rowScanner) (library.Loan, error) {
    var l library.Loan
    if err := r.Scan(&l.ID, &l.UserID, &l.BookID, &l.BorrowedAt, &l.DueAt, &l.ReturnedAt, &l.IsReturned); err != nil { return library.Loan{}, err }
    l.BorrowedAt, l.DueAt = l.BorrowedAt.UTC(), l.DueAt.UTC()
    if l.ReturnedAt != nil {
        at := l.ReturnedAt.UTC()
        l.ReturnedAt = &at
    }
    return l, nil
}

func scanLoans(rows pgx.Rows) ([]library.Loan, error) {
    defer rows.Close()
    out := make([]library.Loan, 0)
    for rows.Next() {
        l, err := scanLoan(rows)
        if err != nil { return nil, err }
        out = append(out, l)
    }
    return out, rows.Err()
}

// GetBook returns a book by id.
func (s *Store) GetBook(ctx context.Context, bookID uuid.UUID) (library.Book, error) {
    b, err := scanBook(s.pool.QueryRow(ctx, `select `+bookColumns+` from books where id = $1`, bookID))
    if errors.Is(err, pgx.ErrNoRows) { return library.Book{}, errs.ErrNotFound }
    if err != nil { return library.Book{}, classify(err) }
    return b, nil
}

// ListBooks returns books ordered by title then id. A zero limit returns every row.
func (s *Store) ListBooks(ctx context.Context, f storage.BookFilter) ([]library.Book, error) {
    rows, err := s.pool.Query(ctx, `
        select `+bookColumns+`
        from books
        where ($1 = '' or genre = $1) and (not $2 or available_copies > 0)
        order by title, id
        limit nullif($3::int, 0)
    `, f.Genre, f.AvailableOnly, f.Limit)
    if err != nil { return nil, classify(err) }
    defer rows.Close()
    out := make([]library.Book, 0)
    for rows.Next() {
        b, err := scanBook(rows)
        if err != nil { return nil, classify(err) }
        out = append(out, b)
    }
    return out, classify(rows.Err())
}

// ListLoans returns every loan of a user, newest first.
func (s *Store) ListLoans(ctx context.Context, userID uuid.UUID) ([]library.Loan, error) {
    rows, err := s.pool.Query(ctx, `
        select `+loanColumns+`
        from loans
        where user_id = $1
        order by borrowed_at desc, id
    `, userID)
    if err != nil { return nil, classify(err) }
    out, err := scanLoans(rows)
    return out, classify(err)
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (library.User, error) {
    var u library.User
    err := s.pool.QueryRow(ctx, `
        select id, name, coalesce(email, ''), role from users where id = $1
    `, userID).Scan(&u.ID, &u.Name, &u.Email, &u.Role)
    if errors.Is(err, pgx.ErrNoRows) { return library.User{}, errs.ErrNotFound }
    if err != nil { return library.User{}, classify(err) }
    return u, nil
}

// --- Transactions ---

// BeginTx opens a READ COMMITTED transaction with the configured lock timeout.
func (s *Store) BeginTx(ctx context.Context) (storage.Tx, error) {
    tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
    if err != nil { return nil, classify(err) }
    if s.lockTimeout > 0 {
        ms := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
        if _, err := tx.Exec(ctx, `select set_config('lock_timeout', $1, true)`, ms); err != nil {
            _ = tx.Rollback(context.WithoutCancel(ctx))
            return nil, classify(err)
        }
    }
    return &Tx{tx: tx}, nil
}

// Tx wraps a pgx.Tx and implements storage.Tx.
type Tx struct{ tx pgx.Tx }

func (t *Tx) exists(ctx context.Context, table string, id uuid.UUID) (bool, error) {
    var ok bool
    err := t.tx.QueryRow(ctx, `select exists(select 1 from `+table+` where id = $1)`, id).Scan(&ok)
    return ok, classify(err)
}

// --- Ledger ---

func (t *Tx) LockAndGetAvailable(ctx context.Context, bookID uuid.UUID) (int, bool, error) {
    var n int
    err := t.tx.QueryRow(ctx, `select available_copies from books where id = $1 for update`, bookID).Scan(&n)
    if errors.Is(err, pgx.ErrNoRows) { return 0, false, nil }
    if err != nil { return 0, false, classify(err) }
    return n, true, nil
}

func (t *Tx) DecrementAvailable(ctx context.Context, bookID uuid.UUID) error {
    ct, err := t.tx.Exec(ctx, `
        update books set available_copies = available_copies - 1
        where id = $1 and available_copies > 0
    `, bookID)
    if err != nil { return classify(err) }
    if ct.RowsAffected() == 1 { return nil }
    ok, err := t.exists(ctx, "books", bookID)
    if err != nil { return err }
    if !ok { return errs.ErrNotFound }
    return &errs.BookUnavailableError{BookID: bookID}
}

func (t *Tx) IncrementAvailable(ctx context.Context, bookID uuid.UUID) error {
    ct, err := t.tx.Exec(ctx, `
        update books set available_copies = available_copies + 1
        where id = $1 and available_copies < total_copies
    `, bookID)
    if err != nil { return classify(err) }
    if ct.RowsAffected() == 1 { return nil }
    ok, err := t.exists(ctx, "books", bookID)
    if err != nil { return err }
    if !ok { return errs.ErrNotFound }
    return fmt.Errorf("%w: book %s already has all copies available", errs.ErrConflict, bookID)
}

// --- Registry ---

func (t *Tx) CountActiveLoans(ctx context.Context, userID uuid.UUID) (int, error) {
    var n int
    err := t.tx.QueryRow(ctx, `select count(*) from loans where user_id = $1 and not is_returned`, userID).Scan(&n)
    return n, classify(err)
}

func (t *Tx) CountActiveLoansForBook(ctx context.Context, bookID uuid.UUID) (int, error) {
    var n int
    err := t.tx.QueryRow(ctx, `select count(*) from loans where book_id = $1 and not is_returned`, bookID).Scan(&n)
    return n, classify(err)
}

func (t *Tx) CreateLoan(ctx context.Context, l library.Loan) (uuid.UUID, error) {
    if l.ID == uuid.Nil { l.ID = uuid.New() }
    if _, err := t.tx.Exec(ctx, `
        insert into loans (id, user_id, book_id, borrowed_at, due_at, returned_at, is_returned)
        values ($1,$2,$3,$4,$5,$6,$7)
    `, l.ID, l.UserID, l.BookID, l.BorrowedAt, l.DueAt, l.ReturnedAt, l.IsReturned); err != nil {
        return uuid.Nil, classify(err)
    }
    return l.ID, nil
}

// FindActiveLoan locks every candidate row before choosing, so a loan returned
// by a concurrent transaction drops out of the result once its lock is released.
func (t *Tx) FindActiveLoan(ctx context.Context, ref library.LoanRef, userID uuid.UUID) (library.Loan, bool, error) {
    var rows pgx.Rows
    var err error
    if ref.LoanID != uuid.Nil {
        rows, err = t.tx.Query(ctx, `
            select `+loanColumns+` from loans
            where id = $1 and user_id = $2 and not is_returned
            for update
        `, ref.LoanID, userID)
    } else {
        rows, err = t.tx.Query(ctx, `
            select `+loanColumns+` from loans
            where book_id = $1 and user_id = $2 and not is_returned
            order by borrowed_at, id
            for update
        `, ref.BookID, userID)
    }
    if err != nil { return library.Loan{}, false, classify(err) }
    loans, err := scanLoans(rows)
    if err != nil { return library.Loan{}, false, classify(err) }
    if len(loans) == 0 { return library.Loan{}, false, nil }
    return loans[0], true, nil
}

func (t *Tx) LoanByID(ctx context.Context, loanID uuid.UUID) (library.Loan, bool, error) {
    l, err := scanLoan(t.tx.QueryRow(ctx, `select `+loanColumns+` from loans where id = $1`, loanID))
    if errors.Is(err, pgx.ErrNoRows) { return library.Loan{}, false, nil }
    if err != nil { return library.Loan{}, false, classify(err) }
    return l, true, nil
}

func (t *Tx) MarkReturned(ctx context.Context, loanID uuid.UUID, at time.Time) error {
    ct, err := t.tx.Exec(ctx, `
        update loans set is_returned = true, returned_at = $2
        where id = $1 and not is_returned
    `, loanID, at)
    if err != nil { return classify(err) }
    if ct.RowsAffected() == 1 { return nil }
    ok, err := t.exists(ctx, "loans", loanID)
    if err != nil { return err }
    if !ok { return errs.ErrNotFound }
    return fmt.Errorf("%w: loan %s already returned", errs.ErrConflict, loanID)
}

func (t *Tx) ListActiveLoansForUser(ctx context.Context, userID uuid.UUID) ([]library.Loan, error) {
    rows, err := t.tx.Query(ctx, `
        select `+loanColumns+` from loans
        where user_id = $1 and not is_returned
        order by id
        for update
    `, userID)
    if err != nil { return nil, classify(err) }
    out, err := scanLoans(rows)
    return out, classify(err)
}

// --- Users ---

func (t *Tx) LockUser(ctx context.Context, userID uuid.UUID) (library.User, bool, error) {
    var u library.User
    err := t.tx.QueryRow(ctx, `
        select id, name, coalesce(email, ''), role from users where id = $1 for update
    `, userID).Scan(&u.ID, &u.Name, &u.Email, &u.Role)
    if errors.Is(err, pgx.ErrNoRows) { return library.User{}, false, nil }
    if err != nil { return library.User{}, false, classify(err) }
    return u, true, nil
}

func (t *Tx) DeleteUser(ctx context.Context, userID uuid.UUID) error {
    ct, err := t.tx.Exec(ctx, `delete from users where id = $1`, userID)
    if err != nil { return classify(err) }
    if ct.RowsAffected() == 0 { return errs.ErrNotFound }
    return nil
}

// --- Catalog ---

func (t *Tx) LockBook(ctx context.Context, bookID uuid.UUID) (library.Book, bool, error) {
    b, err := scanBook(t.tx.QueryRow(ctx, `select `+bookColumns+` from books where id = $1 for update`, bookID))
    if errors.Is(err, pgx.ErrNoRows) { return library.Book{}, false, nil }
    if err != nil { return library.Book{}, false, classify(err) }
    return b, true, nil
}

func (t *Tx) InsertBook(ctx context.Context, b library.Book) error {
    if err := b.Metadata.Validate(); err != nil { return fmt.Errorf("%w: %v", errs.ErrInvalid, err) }
    md, _ := b.Metadata.MarshalStableJSON()
    _, err := t.tx.Exec(ctx, `
        insert into books (`+bookColumns+`)
        values ($1,$2,$3,$4,$5,$6,$7,$8)
    `, b.ID, b.Title, b.Author, b.ISBN, strings.ToLower(b.Genre), md, b.TotalCopies, b.AvailableCopies)
    return classify(err)
}

func (t *Tx) UpdateBook(ctx context.Context, b library.Book) error {
    if err := b.Metadata.Validate(); err != nil { return fmt.Errorf("%w: %v", errs.ErrInvalid, err) }
    md, _ := b.Metadata.MarshalStableJSON()
    ct, err := t.tx.Exec(ctx, `
        update books
        set title=$2, author=$3, isbn=$4, genre=$5, metadata=$6, total_copies=$7, available_copies=$8
        where id=$1
    `, b.ID, b.Title, b.Author, b.ISBN, strings.ToLower(b.Genre), md, b.TotalCopies, b.AvailableCopies)
    if err != nil { return classify(err) }
    if ct.RowsAffected() == 0 { return errs.ErrNotFound }
    return nil
}

func (t *Tx) DeleteBook(ctx context.Context, bookID uuid.UUID) error {
    ct, err := t.tx.Exec(ctx, `delete from books where id = $1`, bookID)
    if err != nil { return classify(err) }
    if ct.RowsAffected() == 0 { return errs.ErrNotFound }
    return nil
}

func (t *Tx) Commit(ctx context.Context) error { return classify(t.tx.Commit(ctx)) }

func (t *Tx) Rollback(ctx context.Context) error {
    err := t.tx.Rollback(ctx)
    if errors.Is(err, pgx.ErrTxClosed) { return nil }
    return err
}

// --- Error classification ---

// classify maps driver errors onto the errs taxonomy. Lock, deadlock and
// connection failures become transient; constraint violations become conflicts
// or invalid input. Context errors pass through untouched.
func classify(err error) error {
    if err == nil { return nil }
    if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) { return err }
    var pgErr *pgconn.PgError
    if errors.As(err, &pgErr) {
        switch {
        case isTransientCode(pgErr.Code):
            return errs.Transient(err)
        case pgErr.Code == pgerrcode.UniqueViolation, pgErr.Code == pgerrcode.ForeignKeyViolation:
            return fmt.Errorf("%w: %s", errs.ErrConflict, pgErr.ConstraintName)
        case pgErr.Code == pgerrcode.CheckViolation:
            return fmt.Errorf("%w: %s", errs.ErrInvalid, pgErr.ConstraintName)
        }
        return err
    }
    if pgconn.SafeToRetry(err) { return errs.Transient(err) }
    var connErr *pgconn.ConnectError
    if errors.As(err, &connErr) { return errs.Transient(err) }
    return err
}

func isTransientCode(code string) bool {
    switch code {
    case pgerrcode.DeadlockDetected,
        pgerrcode.SerializationFailure,
        pgerrcode.LockNotAvailable,
        pgerrcode.QueryCanceled: // statement or lock timeout
        return true
    }
    return pgerrcode.IsConnectionException(code)
}
