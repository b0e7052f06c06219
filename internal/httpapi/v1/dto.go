package v1

import (
    "time"

    "github.com/google/uuid"

    "github.com/tinoosan/circulation/internal/library"
)

type createBookRequest struct {
    Title       string            `json:"title" validate:"required,max=300"`
    Author      string            `json:"author" validate:"max=200"`
    ISBN        string            `json:"isbn" validate:"omitempty,max=17"`
    Genre       string            `json:"genre" validate:"max=64"`
    TotalCopies int               `json:"total_copies" validate:"gte=0"`
    Metadata    map[string]string `json:"metadata,omitempty"`
}

type updateBookRequest struct {
    Title       *string           `json:"title,omitempty" validate:"omitnil,min=1,max=300"`
    Author      *string           `json:"author,omitempty" validate:"omitnil,max=200"`
    ISBN        *string           `json:"isbn,omitempty" validate:"omitnil,max=17"`
    Genre       *string           `json:"genre,omitempty" validate:"omitnil,max=64"`
    TotalCopies *int              `json:"total_copies,omitempty" validate:"omitnil,gte=0"`
    Metadata    map[string]string `json:"metadata,omitempty"`
}

func (r updateBookRequest) empty() bool {
    return r.Title == nil && r.Author == nil && r.ISBN == nil && r.Genre == nil && r.TotalCopies == nil && len(r.Metadata) == 0
}

type bookResponse struct {
    ID              uuid.UUID         `json:"id"`
    Title           string            `json:"title"`
    Author          string            `json:"author"`
    ISBN            string            `json:"isbn,omitempty"`
    Genre           string            `json:"genre"`
    TotalCopies     int               `json:"total_copies"`
    AvailableCopies int               `json:"available_copies"`
    Metadata        map[string]string `json:"metadata,omitempty"`
}

type listBooksResponse struct {
    Books []bookResponse `json:"books"`
}

type borrowResponse struct {
    Success bool          `json:"success"`
    LoanID  uuid.UUID     `json:"loan_id"`
    DueDate time.Time     `json:"due_date"`
    Book    *bookResponse `json:"book,omitempty"`
}

type returnResponse struct {
    Success    bool      `json:"success"`
    LoanID     uuid.UUID `json:"loan_id"`
    BookID     uuid.UUID `json:"book_id"`
    ReturnedAt time.Time `json:"returned_at"`
}

type loanResponse struct {
    LoanID        uuid.UUID  `json:"loan_id"`
    BookID        uuid.UUID  `json:"book_id"`
    Title         string     `json:"title"`
    Author        string     `json:"author"`
    BorrowedAt    time.Time  `json:"borrowed_at"`
    DueDate       time.Time  `json:"due_date"`
    ReturnedAt    *time.Time `json:"returned_at"`
    Status        string     `json:"status"`
    DaysRemaining int        `json:"days_remaining"`
}

type listLoansResponse struct {
    Loans []loanResponse `json:"loans"`
}

type deleteUserResponse struct {
    Success       bool `json:"success"`
    BooksReturned int  `json:"books_returned"`
}

func toBookResponse(b library.Book) bookResponse {
    out := bookResponse{
        ID:              b.ID,
        Title:           b.Title,
        Author:          b.Author,
        ISBN:            b.ISBN,
        Genre:           b.Genre,
        TotalCopies:     b.TotalCopies,
        AvailableCopies: b.AvailableCopies,
    }
    if len(b.Metadata) > 0 { out.Metadata = map[string]string(b.Metadata.Clone()) }
    return out
}

// toLoanResponse renders a loan as of now; book may be zero when the title could not be read.
func toLoanResponse(l library.Loan, book library.Book, now time.Time) loanResponse {
    return loanResponse{
        LoanID:        l.ID,
        BookID:        l.BookID,
        Title:         book.Title,
        Author:        book.Author,
        BorrowedAt:    l.BorrowedAt,
        DueDate:       l.DueAt,
        ReturnedAt:    l.ReturnedAt,
        Status:        string(l.Status(now)),
        DaysRemaining: l.DaysRemaining(now),
    }
}
