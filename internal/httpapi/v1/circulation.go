package v1

import (
    "net/http"

    "github.com/tinoosan/circulation/internal/library"
)

// POST /v1/books/{id}/borrow
func (s *Server) borrowBook(w http.ResponseWriter, r *http.Request) {
    caller, _ := identityFrom(r.Context())
    bookID, ok := pathID(r)
    if !ok { badRequest(w, "invalid book id"); return }
    res, err := s.circ.Borrow(r.Context(), caller, bookID)
    if err != nil { s.writeServiceError(w, r, err); return }
    out := borrowResponse{Success: true, LoanID: res.Loan.ID, DueDate: res.Loan.DueAt}
    if !res.BookStale {
        b := toBookResponse(res.Book)
        out.Book = &b
    }
    toJSON(w, http.StatusCreated, out)
}

// POST /v1/books/{id}/return returns the caller's oldest active loan of the book.
func (s *Server) returnBook(w http.ResponseWriter, r *http.Request) {
    bookID, ok := pathID(r)
    if !ok { badRequest(w, "invalid book id"); return }
    s.doReturn(w, r, library.LoanRef{BookID: bookID})
}

// POST /v1/loans/{id}/return
func (s *Server) returnLoan(w http.ResponseWriter, r *http.Request) {
    loanID, ok := pathID(r)
    if !ok { badRequest(w, "invalid loan id"); return }
    s.doReturn(w, r, library.LoanRef{LoanID: loanID})
}

func (s *Server) doReturn(w http.ResponseWriter, r *http.Request, ref library.LoanRef) {
    caller, _ := identityFrom(r.Context())
    res, err := s.circ.Return(r.Context(), caller, ref)
    if err != nil { s.writeServiceError(w, r, err); return }
    toJSON(w, http.StatusOK, returnResponse{Success: true, LoanID: res.LoanID, BookID: res.BookID, ReturnedAt: res.ReturnedAt})
}
