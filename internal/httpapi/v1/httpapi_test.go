package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/circulation/internal/config"
	"github.com/tinoosan/circulation/internal/library"
	"github.com/tinoosan/circulation/internal/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type errResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type fixture struct {
	store  *memory.Store
	h      http.Handler
	member library.User
	other  library.User
	admin  library.User
	single library.Book
	many   library.Book
}

func setupWith(t *testing.T, auth config.JWT) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		member: library.User{ID: uuid.New(), Name: "Reader", Role: library.RoleUser},
		other:  library.User{ID: uuid.New(), Name: "Other", Role: library.RoleUser},
		admin:  library.User{ID: uuid.New(), Name: "Admin", Role: library.RoleAdmin},
		single: library.Book{ID: uuid.New(), Title: "A Brief History of Time", Author: "Stephen Hawking", Genre: "science", TotalCopies: 1, AvailableCopies: 1},
		many:   library.Book{ID: uuid.New(), Title: "Dune", Author: "Frank Herbert", Genre: "science_fiction", TotalCopies: 10, AvailableCopies: 10},
	}
	for _, u := range []library.User{f.member, f.other, f.admin} {
		f.store.SeedUser(u)
	}
	f.store.SeedBook(f.single)
	f.store.SeedBook(f.many)
	f.h = New(f.store, f.store, auth, testLogger()).Handler()
	return f
}

func setup(t *testing.T) *fixture { return setupWith(t, config.JWT{}) }

func as(u library.User) http.Header {
	h := http.Header{}
	h.Set("X-User-ID", u.ID.String())
	h.Set("X-User-Role", string(u.Role))
	return h
}

func (f *fixture) do(t *testing.T, method, path string, hdr http.Header, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func borrowPath(id uuid.UUID) string { return "/v1/books/" + id.String() + "/borrow" }

func TestBorrow_CreatesLoan(t *testing.T) {
	f := setup(t)
	before := time.Now().UTC()
	rr := f.do(t, http.MethodPost, borrowPath(f.many.ID), as(f.member), nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	got := decode[borrowResponse](t, rr)
	assert.True(t, got.Success)
	assert.NotEqual(t, uuid.Nil, got.LoanID)
	assert.WithinDuration(t, before.Add(library.LoanPeriod), got.DueDate, 5*time.Second)
	require.NotNil(t, got.Book)
	assert.Equal(t, 9, got.Book.AvailableCopies)
}

func TestBorrow_ErrorMapping(t *testing.T) {
	f := setup(t)
	rr := f.do(t, http.MethodPost, borrowPath(f.single.ID), as(f.member), nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = f.do(t, http.MethodPost, borrowPath(f.single.ID), as(f.other), nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "not_available", decode[errResp](t, rr).Code)

	rr = f.do(t, http.MethodPost, borrowPath(uuid.New()), as(f.member), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decode[errResp](t, rr).Code)

	rr = f.do(t, http.MethodPost, "/v1/books/not-a-uuid/borrow", as(f.member), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBorrow_LoanLimit(t *testing.T) {
	f := setup(t)
	for i := 0; i < library.MaxActiveLoans; i++ {
		rr := f.do(t, http.MethodPost, borrowPath(f.many.ID), as(f.member), nil)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}
	rr := f.do(t, http.MethodPost, borrowPath(f.many.ID), as(f.member), nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "loan_limit_exceeded", decode[errResp](t, rr).Code)

	b, err := f.store.GetBook(t.Context(), f.many.ID)
	require.NoError(t, err)
	assert.Equal(t, 10-library.MaxActiveLoans, b.AvailableCopies)
}

func TestAuth_MissingOrBadIdentity(t *testing.T) {
	f := setup(t)
	rr := f.do(t, http.MethodPost, borrowPath(f.many.ID), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "unauthenticated", decode[errResp](t, rr).Code)

	hdr := http.Header{}
	hdr.Set("X-User-ID", f.member.ID.String())
	hdr.Set("X-User-Role", "librarian")
	rr = f.do(t, http.MethodPost, borrowPath(f.many.ID), hdr, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// a well-formed identity for an unknown user is refused by the service
	ghost := library.User{ID: uuid.New(), Role: library.RoleUser}
	rr = f.do(t, http.MethodPost, borrowPath(f.many.ID), as(ghost), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "unauthorized", decode[errResp](t, rr).Code)
}

func TestReturn_ByBookAndByLoan(t *testing.T) {
	f := setup(t)
	first := decode[borrowResponse](t, f.do(t, http.MethodPost, borrowPath(f.many.ID), as(f.member), nil))
	second := decode[borrowResponse](t, f.do(t, http.MethodPost, borrowPath(f.many.ID), as(f.member), nil))

	rr := f.do(t, http.MethodPost, "/v1/books/"+f.many.ID.String()+"/return", as(f.member), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decode[returnResponse](t, rr)
	assert.True(t, got.Success)
	assert.Equal(t, f.many.ID, got.BookID)
	assert.Contains(t, []uuid.UUID{first.LoanID, second.LoanID}, got.LoanID)

	remaining := first.LoanID
	if got.LoanID == first.LoanID {
		remaining = second.LoanID
	}
	rr = f.do(t, http.MethodPost, "/v1/loans/"+remaining.String()+"/return", as(f.member), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, remaining, decode[returnResponse](t, rr).LoanID)

	b, err := f.store.GetBook(t.Context(), f.many.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, b.AvailableCopies)
}

func TestReturn_MissesShareOneResponse(t *testing.T) {
	f := setup(t)
	loan := decode[borrowResponse](t, f.do(t, http.MethodPost, borrowPath(f.many.ID), as(f.member), nil))

	wrongOwner := f.do(t, http.MethodPost, "/v1/loans/"+loan.LoanID.String()+"/return", as(f.other), nil)
	unknown := f.do(t, http.MethodPost, "/v1/loans/"+uuid.New().String()+"/return", as(f.member), nil)
	noLoanForBook := f.do(t, http.MethodPost, "/v1/books/"+f.single.ID.String()+"/return", as(f.member), nil)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/loans/"+loan.LoanID.String()+"/return", as(f.member), nil).Code)
	already := f.do(t, http.MethodPost, "/v1/loans/"+loan.LoanID.String()+"/return", as(f.member), nil)

	for name, rr := range map[string]*httptest.ResponseRecorder{
		"wrong owner": wrongOwner, "unknown": unknown, "no loan for book": noLoanForBook, "already returned": already,
	} {
		assert.Equal(t, http.StatusNotFound, rr.Code, name)
		assert.JSONEq(t, `{"error":"no active loan matches this request","code":"loan_not_found"}`, rr.Body.String(), name)
	}
}

func TestTransientFailure_Is503WithRetryAfter(t *testing.T) {
	f := setup(t)
	f.store.InjectFault(memory.OpCommit, errors.New("server closed the connection"))
	rr := f.do(t, http.MethodPost, borrowPath(f.single.ID), as(f.member), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Equal(t, "transient_failure", decode[errResp](t, rr).Code)

	b, err := f.store.GetBook(t.Context(), f.single.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.AvailableCopies)

	rr = f.do(t, http.MethodPost, borrowPath(f.single.ID), as(f.member), nil)
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestIdempotentBorrow(t *testing.T) {
	f := setup(t)
	hdr := as(f.member)
	hdr.Set("Idempotency-Key", "borrow-1")

	first := f.do(t, http.MethodPost, borrowPath(f.many.ID), hdr, nil)
	require.Equal(t, http.StatusCreated, first.Code)
	replay := f.do(t, http.MethodPost, borrowPath(f.many.ID), hdr, nil)
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, decode[borrowResponse](t, first).LoanID, decode[borrowResponse](t, replay).LoanID)

	loans, err := f.store.ListLoans(t.Context(), f.member.ID)
	require.NoError(t, err)
	assert.Len(t, loans, 1)

	rr := f.do(t, http.MethodPost, borrowPath(f.single.ID), hdr, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "idempotency_mismatch", decode[errResp](t, rr).Code)

	// the same key from another user is a different request
	otherHdr := as(f.other)
	otherHdr.Set("Idempotency-Key", "borrow-1")
	rr = f.do(t, http.MethodPost, borrowPath(f.many.ID), otherHdr, nil)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Empty(t, rr.Header().Get("Idempotent-Replayed"))
}

func TestIdempotentBorrow_TransientReleasesKey(t *testing.T) {
	f := setup(t)
	hdr := as(f.member)
	hdr.Set("Idempotency-Key", "retry-me")

	f.store.InjectFault(memory.OpCreateLoan, errors.New("connection reset"))
	rr := f.do(t, http.MethodPost, borrowPath(f.many.ID), hdr, nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = f.do(t, http.MethodPost, borrowPath(f.many.ID), hdr, nil)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Empty(t, rr.Header().Get("Idempotent-Replayed"))
}

func TestIdempotentBorrow_RejectionIsReplayed(t *testing.T) {
	f := setup(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, borrowPath(f.single.ID), as(f.other), nil).Code)

	hdr := as(f.member)
	hdr.Set("Idempotency-Key", "k")
	rr := f.do(t, http.MethodPost, borrowPath(f.single.ID), hdr, nil)
	require.Equal(t, http.StatusConflict, rr.Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/books/"+f.single.ID.String()+"/return", as(f.other), nil).Code)
	rr = f.do(t, http.MethodPost, borrowPath(f.single.ID), hdr, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "true", rr.Header().Get("Idempotent-Replayed"))
}

func TestListUserLoans(t *testing.T) {
	f := setup(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, borrowPath(f.many.ID), as(f.member), nil).Code)

	rr := f.do(t, http.MethodGet, "/v1/users/"+f.member.ID.String()+"/loans", as(f.member), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decode[listLoansResponse](t, rr)
	require.Len(t, got.Loans, 1)
	l := got.Loans[0]
	assert.Equal(t, f.many.ID, l.BookID)
	assert.Equal(t, "Dune", l.Title)
	assert.Equal(t, "Frank Herbert", l.Author)
	assert.Equal(t, string(library.LoanStatusActive), l.Status)
	assert.Equal(t, 14, l.DaysRemaining)
	assert.Nil(t, l.ReturnedAt)

	rr = f.do(t, http.MethodGet, "/v1/users/"+f.member.ID.String()+"/loans", as(f.other), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = f.do(t, http.MethodGet, "/v1/users/"+f.member.ID.String()+"/loans", as(f.admin), nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestListUserLoans_Overdue(t *testing.T) {
	f := setup(t)
	borrowed := time.Now().UTC().Add(-20 * 24 * time.Hour)
	f.store.SeedLoan(library.NewLoan(f.member.ID, f.many.ID, borrowed))

	got := decode[listLoansResponse](t, f.do(t, http.MethodGet, "/v1/users/"+f.member.ID.String()+"/loans", as(f.member), nil))
	require.Len(t, got.Loans, 1)
	assert.Equal(t, string(library.LoanStatusOverdue), got.Loans[0].Status)
	assert.Less(t, got.Loans[0].DaysRemaining, 0)
}

func TestDeleteUser_ReturnsEverything(t *testing.T) {
	f := setup(t)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, borrowPath(f.many.ID), as(f.member), nil).Code)
	}
	rr := f.do(t, http.MethodDelete, "/v1/users/"+f.member.ID.String(), as(f.other), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodDelete, "/v1/users/"+f.member.ID.String(), as(f.member), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decode[deleteUserResponse](t, rr)
	assert.True(t, got.Success)
	assert.Equal(t, 3, got.BooksReturned)

	b, err := f.store.GetBook(t.Context(), f.many.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, b.AvailableCopies)

	rr = f.do(t, http.MethodPost, borrowPath(f.many.ID), as(f.member), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = f.do(t, http.MethodDelete, "/v1/users/"+f.member.ID.String(), as(f.admin), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCatalog(t *testing.T) {
	f := setup(t)
	body := map[string]any{"title": "The Hobbit", "author": "J.R.R. Tolkien", "genre": "Fantasy", "total_copies": 2, "metadata": map[string]string{"publisher": "allen_unwin"}}

	rr := f.do(t, http.MethodPost, "/v1/books", as(f.member), body)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/books", as(f.admin), body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[bookResponse](t, rr)
	assert.Equal(t, "fantasy", created.Genre)
	assert.Equal(t, 2, created.AvailableCopies)
	assert.Equal(t, "/v1/books/"+created.ID.String(), rr.Header().Get("Location"))

	rr = f.do(t, http.MethodGet, "/v1/books/"+created.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/v1/books?genre=fantasy", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[listBooksResponse](t, rr)
	require.Len(t, list.Books, 1)
	assert.Equal(t, created.ID, list.Books[0].ID)

	rr = f.do(t, http.MethodGet, "/v1/books?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPatch, "/v1/books/"+created.ID.String(), as(f.admin), map[string]any{"total_copies": 4})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 4, decode[bookResponse](t, rr).AvailableCopies)

	rr = f.do(t, http.MethodPatch, "/v1/books/"+created.ID.String(), as(f.admin), map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodDelete, "/v1/books/"+created.ID.String(), as(f.admin), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do(t, http.MethodGet, "/v1/books/"+created.ID.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCatalog_RequiresJSON(t *testing.T) {
	f := setup(t)
	hdr := as(f.admin)
	hdr.Set("Content-Type", "text/plain")
	rr := f.do(t, http.MethodPost, "/v1/books", hdr, map[string]any{"title": "x"})
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/books", as(f.admin), map[string]any{"title": "x", "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/books", as(f.admin), map[string]any{"title": "x", "total_copies": -1})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "total_copies failed gte", decode[errResp](t, rr).Error)

	rr = f.do(t, http.MethodPatch, "/v1/books/"+f.many.ID.String(), as(f.admin), map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "title failed min", decode[errResp](t, rr).Error)
}

func TestCatalog_DeleteWhileLent(t *testing.T) {
	f := setup(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, borrowPath(f.single.ID), as(f.member), nil).Code)
	rr := f.do(t, http.MethodDelete, "/v1/books/"+f.single.ID.String(), as(f.admin), nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "conflict", decode[errResp](t, rr).Code)
}

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	f := setupWith(t, config.JWT{Secret: secret, Issuer: "library"})
	bearer := func(tok string) http.Header {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+tok)
		return h
	}
	valid := Claims{Role: "user", RegisteredClaims: jwt.RegisteredClaims{
		Subject:   f.member.ID.String(),
		Issuer:    "library",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}

	rr := f.do(t, http.MethodPost, borrowPath(f.many.ID), bearer(signToken(t, secret, valid)), nil)
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	// dev headers are ignored once a secret is configured
	rr = f.do(t, http.MethodPost, borrowPath(f.many.ID), as(f.member), nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodPost, borrowPath(f.many.ID), bearer(signToken(t, "other-secret", valid)), nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	wrongIssuer := valid
	wrongIssuer.Issuer = "elsewhere"
	rr = f.do(t, http.MethodPost, borrowPath(f.many.ID), bearer(signToken(t, secret, wrongIssuer)), nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	rr = f.do(t, http.MethodPost, borrowPath(f.many.ID), bearer(signToken(t, secret, expired)), nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	badSubject := valid
	badSubject.Subject = "alice"
	rr = f.do(t, http.MethodPost, borrowPath(f.many.ID), bearer(signToken(t, secret, badSubject)), nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestOpsEndpoints(t *testing.T) {
	f := setup(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", nil, nil).Code)

	rr := f.do(t, http.MethodGet, "/v1/dictionary/genres", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"code":"science_fiction"`)

	rr = f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "circulation_http_requests_total")
}
