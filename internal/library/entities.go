package library

import (
    "math"
    "time"

    "github.com/google/uuid"
    "github.com/tinoosan/circulation/internal/meta"
)

const (
    // MaxActiveLoans caps how many unreturned loans a user may hold at once.
    MaxActiveLoans = 5
    // LoanPeriod is the fixed lending period applied to every new loan.
    LoanPeriod = 14 * 24 * time.Hour
    // DefaultGenre is assigned to books created without a genre.
    DefaultGenre = "general"
)

// Role is the authorization role carried by an authenticated identity.
type Role string

const (
    RoleUser  Role = "user"
    RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

// Identity is the authenticated caller as supplied by the session layer.
type Identity struct {
    UserID uuid.UUID
    Role   Role
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// CanActFor reports whether the caller may act on userID's loans or account.
func (i Identity) CanActFor(userID uuid.UUID) bool { return i.UserID == userID || i.IsAdmin() }

// User is a registered library member.
type User struct {
    ID    uuid.UUID
    Name  string
    Email string
    Role  Role
}

// Book is a catalog title together with its inventory counts.
type Book struct {
    ID     uuid.UUID
    Title  string
    Author string
    ISBN   string
    // Genre is a slug from the genre dictionary.
    Genre string
    // Metadata holds additional catalog attributes (publisher, language, ...).
    Metadata        meta.Metadata `json:"metadata,omitempty"`
    TotalCopies     int
    AvailableCopies int
}

// LoanStatus is derived at read time and never stored.
type LoanStatus string

const (
    LoanStatusActive   LoanStatus = "active"
    LoanStatusOverdue  LoanStatus = "overdue"
    LoanStatusReturned LoanStatus = "returned"
)

// Loan records one copy of a book lent to a user.
type Loan struct {
    ID         uuid.UUID
    UserID     uuid.UUID
    BookID     uuid.UUID
    BorrowedAt time.Time
    DueAt      time.Time
    ReturnedAt *time.Time
    IsReturned bool
}

// NewLoan builds an active loan starting at borrowedAt with the fixed lending period.
func NewLoan(userID, bookID uuid.UUID, borrowedAt time.Time) Loan {
    return Loan{
        ID:         uuid.New(),
        UserID:     userID,
        BookID:     bookID,
        BorrowedAt: borrowedAt,
        DueAt:      DueDate(borrowedAt),
    }
}

// DueDate returns the due date for a loan taken at borrowedAt.
func DueDate(borrowedAt time.Time) time.Time { return borrowedAt.Add(LoanPeriod) }

// Status classifies the loan as of now.
func (l Loan) Status(now time.Time) LoanStatus {
    switch {
    case l.IsReturned:
        return LoanStatusReturned
    case now.After(l.DueAt):
        return LoanStatusOverdue
    default:
        return LoanStatusActive
    }
}

// DaysRemaining is the number of started days until the due date, negative when overdue
// and zero once returned.
func (l Loan) DaysRemaining(now time.Time) int {
    if l.IsReturned { return 0 }
    return int(math.Ceil(l.DueAt.Sub(now).Hours() / 24))
}

// LoanRef identifies the loan a return applies to: either the loan itself or
// the borrower's oldest active loan on a book. Exactly one field is set.
type LoanRef struct {
    LoanID uuid.UUID
    BookID uuid.UUID
}

// Valid reports whether exactly one identifier is set.
func (r LoanRef) Valid() bool { return (r.LoanID == uuid.Nil) != (r.BookID == uuid.Nil) }
