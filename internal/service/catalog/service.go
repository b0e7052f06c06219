// Package catalog manages the book catalog. Reads are open to every caller;
// writes are admin-only and take the book row lock so copy counts stay
// reconciled with active loans.
package catalog

import (
    "context"
    "fmt"
    "log/slog"
    "strings"

    "github.com/google/uuid"

    "github.com/tinoosan/circulation/internal/dictionary"
    "github.com/tinoosan/circulation/internal/errs"
    "github.com/tinoosan/circulation/internal/library"
    "github.com/tinoosan/circulation/internal/meta"
    "github.com/tinoosan/circulation/internal/slug"
    "github.com/tinoosan/circulation/internal/storage"
)

// MaxListLimit caps catalog listings.
const MaxListLimit = 50

type Repo interface {
    storage.TxBeginner
    GetBook(ctx context.Context, bookID uuid.UUID) (library.Book, error)
    ListBooks(ctx context.Context, f storage.BookFilter) ([]library.Book, error)
}

// Filter narrows List. A zero or oversized Limit is clamped to MaxListLimit.
type Filter = storage.BookFilter

// Patch carries the fields of an update; nil fields are left unchanged.
// Metadata is merged, and an empty value removes a key.
type Patch struct {
    Title       *string
    Author      *string
    ISBN        *string
    Genre       *string
    TotalCopies *int
    Metadata    meta.Metadata
}

type Service interface {
    Create(ctx context.Context, caller library.Identity, b library.Book) (library.Book, error)
    Get(ctx context.Context, bookID uuid.UUID) (library.Book, error)
    List(ctx context.Context, f Filter) ([]library.Book, error)
    Update(ctx context.Context, caller library.Identity, bookID uuid.UUID, p Patch) (library.Book, error)
    Delete(ctx context.Context, caller library.Identity, bookID uuid.UUID) error
}

type service struct {
    repo Repo
    log  *slog.Logger
}

func New(repo Repo, log *slog.Logger) Service {
    if log == nil { log = slog.Default() }
    return &service{repo: repo, log: log}
}

// normalize trims text fields and resolves the genre to a dictionary code.
func normalize(b library.Book) (library.Book, error) {
    b.Title = strings.TrimSpace(b.Title)
    b.Author = strings.TrimSpace(b.Author)
    b.ISBN = strings.TrimSpace(b.ISBN)
    if b.Title == "" { return b, fmt.Errorf("%w: title required", errs.ErrInvalid) }
    if b.TotalCopies < 0 { return b, fmt.Errorf("%w: total copies must be >= 0", errs.ErrInvalid) }
    g := slug.Slugify(b.Genre)
    if g == "" { g = library.DefaultGenre }
    if !dictionary.IsKnown(g) { return b, fmt.Errorf("%w: unknown genre %q", errs.ErrInvalid, b.Genre) }
    b.Genre = g
    if b.Metadata == nil { b.Metadata = meta.Metadata{} }
    if err := b.Metadata.Validate(); err != nil { return b, fmt.Errorf("%w: %v", errs.ErrInvalid, err) }
    return b, nil
}

func (s *service) Create(ctx context.Context, caller library.Identity, b library.Book) (library.Book, error) {
    if !caller.IsAdmin() { return library.Book{}, errs.ErrForbidden }
    b, err := normalize(b)
    if err != nil { return library.Book{}, err }
    if b.ID == uuid.Nil { b.ID = uuid.New() }
    b.AvailableCopies = b.TotalCopies
    err = storage.WithinTx(ctx, s.repo, func(tx storage.Tx) error { return tx.InsertBook(ctx, b) })
    if err != nil { return library.Book{}, errs.Classify(err) }
    s.log.InfoContext(ctx, "book created", "book_id", b.ID, "total_copies", b.TotalCopies, "by", caller.UserID)
    return b, nil
}

func (s *service) Get(ctx context.Context, bookID uuid.UUID) (library.Book, error) {
    if bookID == uuid.Nil { return library.Book{}, errs.ErrInvalid }
    b, err := s.repo.GetBook(ctx, bookID)
    if err != nil { return library.Book{}, errs.Classify(err) }
    return b, nil
}

func (s *service) List(ctx context.Context, f Filter) ([]library.Book, error) {
    if f.Limit <= 0 || f.Limit > MaxListLimit { f.Limit = MaxListLimit }
    if f.Genre != "" { f.Genre = slug.Slugify(f.Genre) }
    books, err := s.repo.ListBooks(ctx, f)
    if err != nil { return nil, errs.Classify(err) }
    return books, nil
}

// Update applies p under the book row lock. Available copies are recomputed from
// the active loan count rather than adjusted by a delta.
func (s *service) Update(ctx context.Context, caller library.Identity, bookID uuid.UUID, p Patch) (library.Book, error) {
    if !caller.IsAdmin() { return library.Book{}, errs.ErrForbidden }
    if bookID == uuid.Nil { return library.Book{}, errs.ErrInvalid }
    var out library.Book
    err := storage.WithinTx(ctx, s.repo, func(tx storage.Tx) error {
        cur, ok, err := tx.LockBook(ctx, bookID)
        if err != nil { return err }
        if !ok { return errs.ErrNotFound }
        next := cur
        next.Metadata = cur.Metadata.Clone()
        if p.Title != nil { next.Title = *p.Title }
        if p.Author != nil { next.Author = *p.Author }
        if p.ISBN != nil { next.ISBN = *p.ISBN }
        if p.Genre != nil { next.Genre = *p.Genre }
        if p.TotalCopies != nil { next.TotalCopies = *p.TotalCopies }
        if p.Metadata != nil { next.Metadata.Merge(p.Metadata) }
        next, err = normalize(next)
        if err != nil { return err }
        active, err := tx.CountActiveLoansForBook(ctx, bookID)
        if err != nil { return err }
        if next.TotalCopies < active {
            return fmt.Errorf("%w: %d copies are on loan, total cannot drop to %d", errs.ErrConflict, active, next.TotalCopies)
        }
        next.AvailableCopies = next.TotalCopies - active
        if err := tx.UpdateBook(ctx, next); err != nil { return err }
        out = next
        return nil
    })
    if err != nil { return library.Book{}, errs.Classify(err) }
    s.log.InfoContext(ctx, "book updated", "book_id", bookID, "total_copies", out.TotalCopies, "available_copies", out.AvailableCopies, "by", caller.UserID)
    return out, nil
}

// Delete removes a book with no active loans. Books with loan history are kept
// and the store reports a conflict.
func (s *service) Delete(ctx context.Context, caller library.Identity, bookID uuid.UUID) error {
    if !caller.IsAdmin() { return errs.ErrForbidden }
    if bookID == uuid.Nil { return errs.ErrInvalid }
    err := storage.WithinTx(ctx, s.repo, func(tx storage.Tx) error {
        _, ok, err := tx.LockBook(ctx, bookID)
        if err != nil { return err }
        if !ok { return errs.ErrNotFound }
        active, err := tx.CountActiveLoansForBook(ctx, bookID)
        if err != nil { return err }
        if active > 0 { return fmt.Errorf("%w: %d copies are on loan", errs.ErrConflict, active) }
        return tx.DeleteBook(ctx, bookID)
    })
    if err != nil { return errs.Classify(err) }
    s.log.InfoContext(ctx, "book deleted", "book_id", bookID, "by", caller.UserID)
    return nil
}
