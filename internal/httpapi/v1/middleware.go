package v1

import (
    "context"
    "errors"
    "net/http"
    "reflect"
    "strconv"
    "strings"

    "github.com/go-playground/validator/v10"

    "github.com/tinoosan/circulation/internal/library"
    "github.com/tinoosan/circulation/internal/meta"
    "github.com/tinoosan/circulation/internal/service/catalog"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
    // report json field names rather than Go ones
    validate.RegisterTagNameFunc(func(f reflect.StructField) string {
        name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
        if name == "-" { return "" }
        return name
    })
}

// validationMessage flattens validator errors into one line, e.g. "total_copies failed gte".
func validationMessage(err error) string {
    var ve validator.ValidationErrors
    if !errors.As(err, &ve) { return err.Error() }
    parts := make([]string, 0, len(ve))
    for _, fe := range ve { parts = append(parts, fe.Field()+" failed "+fe.Tag()) }
    return strings.Join(parts, "; ")
}

type ctxKey string

const (
    ctxKeyIdentity   ctxKey = "identity"
    ctxKeyCreateBook ctxKey = "validatedCreateBook"
    ctxKeyUpdateBook ctxKey = "validatedUpdateBook"
    ctxKeyListBooks  ctxKey = "validatedListBooks"
)

// identityFrom returns the caller stored by authenticate.
func identityFrom(ctx context.Context) (library.Identity, bool) {
    id, ok := ctx.Value(ctxKeyIdentity).(library.Identity)
    return id, ok
}

// authenticate resolves the caller and stores the identity in the request context.
// Requests without a usable identity get 401.
func (s *Server) authenticate(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        var (
            id  library.Identity
            err error
        )
        if s.tokens != nil {
            id, err = s.tokens.identify(r)
        } else {
            id, err = identifyDev(r)
        }
        if err != nil {
            if !errors.Is(err, errNoToken) { s.log.WarnContext(r.Context(), "rejected credentials", "path", r.URL.Path, "err", err) }
            writeErr(w, http.StatusUnauthorized, "authentication required", "unauthenticated")
            return
        }
        ctx := context.WithValue(r.Context(), ctxKeyIdentity, id)
        next.ServeHTTP(w, r.WithContext(ctx))
    })
}

// validateCreateBook parses POST /books and stores the domain book in context.
func (s *Server) validateCreateBook() func(http.Handler) http.Handler {
    return func(next http.Handler) http.Handler {
        return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
            if !requireJSON(w, r) { return }
            var req createBookRequest
            if err := decodeJSON(w, r, &req); err != nil { badRequest(w, err.Error()); return }
            if strings.TrimSpace(req.Title) == "" { badRequest(w, "title is required"); return }
            if err := validate.Struct(req); err != nil { badRequest(w, validationMessage(err)); return }
            if req.Metadata != nil {
                if err := meta.New(req.Metadata).Validate(); err != nil { badRequest(w, err.Error()); return }
            }
            b := library.Book{
                Title:       req.Title,
                Author:      req.Author,
                ISBN:        req.ISBN,
                Genre:       req.Genre,
                Metadata:    meta.New(req.Metadata),
                TotalCopies: req.TotalCopies,
            }
            ctx := context.WithValue(r.Context(), ctxKeyCreateBook, b)
            next.ServeHTTP(w, r.WithContext(ctx))
        })
    }
}

// validateUpdateBook parses PATCH /books/{id} into a catalog.Patch.
func (s *Server) validateUpdateBook() func(http.Handler) http.Handler {
    return func(next http.Handler) http.Handler {
        return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
            if !requireJSON(w, r) { return }
            var req updateBookRequest
            if err := decodeJSON(w, r, &req); err != nil { badRequest(w, err.Error()); return }
            if req.empty() { badRequest(w, "no fields to update"); return }
            if err := validate.Struct(req); err != nil { badRequest(w, validationMessage(err)); return }
            p := catalog.Patch{
                Title:       req.Title,
                Author:      req.Author,
                ISBN:        req.ISBN,
                Genre:       req.Genre,
                TotalCopies: req.TotalCopies,
            }
            if req.Metadata != nil { p.Metadata = meta.Metadata(req.Metadata) }
            ctx := context.WithValue(r.Context(), ctxKeyUpdateBook, p)
            next.ServeHTTP(w, r.WithContext(ctx))
        })
    }
}

// validateListBooks parses GET /books query params.
func (s *Server) validateListBooks() func(http.Handler) http.Handler {
    return func(next http.Handler) http.Handler {
        return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
            q := r.URL.Query()
            f := catalog.Filter{Genre: strings.TrimSpace(q.Get("genre"))}
            if raw := q.Get("available"); raw != "" {
                v, err := strconv.ParseBool(raw)
                if err != nil { badRequest(w, "invalid available"); return }
                f.AvailableOnly = v
            }
            if raw := q.Get("limit"); raw != "" {
                n, err := strconv.Atoi(raw)
                if err != nil || n < 0 { badRequest(w, "invalid limit"); return }
                f.Limit = n
            }
            ctx := context.WithValue(r.Context(), ctxKeyListBooks, f)
            next.ServeHTTP(w, r.WithContext(ctx))
        })
    }
}
