package v1

import (
    "net/http"

    "github.com/tinoosan/circulation/internal/library"
    "github.com/tinoosan/circulation/internal/service/catalog"
)

// GET /v1/books
func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
    f, _ := r.Context().Value(ctxKeyListBooks).(catalog.Filter)
    books, err := s.catalog.List(r.Context(), f)
    if err != nil { s.writeServiceError(w, r, err); return }
    out := listBooksResponse{Books: make([]bookResponse, 0, len(books))}
    for _, b := range books { out.Books = append(out.Books, toBookResponse(b)) }
    toJSON(w, http.StatusOK, out)
}

// GET /v1/books/{id}
func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
    id, ok := pathID(r)
    if !ok { badRequest(w, "invalid book id"); return }
    b, err := s.catalog.Get(r.Context(), id)
    if err != nil { s.writeServiceError(w, r, err); return }
    toJSON(w, http.StatusOK, toBookResponse(b))
}

// POST /v1/books
func (s *Server) createBook(w http.ResponseWriter, r *http.Request) {
    caller, _ := identityFrom(r.Context())
    in, ok := r.Context().Value(ctxKeyCreateBook).(library.Book)
    if !ok { badRequest(w, "invalid request"); return }
    b, err := s.catalog.Create(r.Context(), caller, in)
    if err != nil { s.writeServiceError(w, r, err); return }
    w.Header().Set("Location", "/v1/books/"+b.ID.String())
    toJSON(w, http.StatusCreated, toBookResponse(b))
}

// PATCH /v1/books/{id}
func (s *Server) updateBook(w http.ResponseWriter, r *http.Request) {
    caller, _ := identityFrom(r.Context())
    id, ok := pathID(r)
    if !ok { badRequest(w, "invalid book id"); return }
    p, ok := r.Context().Value(ctxKeyUpdateBook).(catalog.Patch)
    if !ok { badRequest(w, "invalid request"); return }
    b, err := s.catalog.Update(r.Context(), caller, id, p)
    if err != nil { s.writeServiceError(w, r, err); return }
    toJSON(w, http.StatusOK, toBookResponse(b))
}

// DELETE /v1/books/{id}
func (s *Server) deleteBook(w http.ResponseWriter, r *http.Request) {
    caller, _ := identityFrom(r.Context())
    id, ok := pathID(r)
    if !ok { badRequest(w, "invalid book id"); return }
    if err := s.catalog.Delete(r.Context(), caller, id); err != nil { s.writeServiceError(w, r, err); return }
    w.WriteHeader(http.StatusNoContent)
}
