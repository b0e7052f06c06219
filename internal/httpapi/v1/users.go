package v1

import (
    "net/http"

    "github.com/google/uuid"

    "github.com/tinoosan/circulation/internal/library"
)

// GET /v1/users/{id}/loans
func (s *Server) listUserLoans(w http.ResponseWriter, r *http.Request) {
    caller, _ := identityFrom(r.Context())
    userID, ok := pathID(r)
    if !ok { badRequest(w, "invalid user id"); return }
    loans, err := s.circ.ListLoans(r.Context(), caller, userID)
    if err != nil { s.writeServiceError(w, r, err); return }

    books := make(map[uuid.UUID]library.Book)
    for _, l := range loans {
        if _, seen := books[l.BookID]; seen { continue }
        b, err := s.catalog.Get(r.Context(), l.BookID)
        if err != nil {
            // a listing without a title is still useful
            s.log.WarnContext(r.Context(), "loan book lookup failed", "book_id", l.BookID, "err", err)
        }
        books[l.BookID] = b
    }
    now := s.now().UTC()
    out := listLoansResponse{Loans: make([]loanResponse, 0, len(loans))}
    for _, l := range loans { out.Loans = append(out.Loans, toLoanResponse(l, books[l.BookID], now)) }
    toJSON(w, http.StatusOK, out)
}

// DELETE /v1/users/{id}
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
    caller, _ := identityFrom(r.Context())
    userID, ok := pathID(r)
    if !ok { badRequest(w, "invalid user id"); return }
    res, err := s.accounts.DeleteAccount(r.Context(), caller, userID)
    if err != nil { s.writeServiceError(w, r, err); return }
    toJSON(w, http.StatusOK, deleteUserResponse{Success: true, BooksReturned: res.BooksReturned})
}
