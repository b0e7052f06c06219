package v1

import (
    "log/slog"
    "net/http"
    "time"

    chi "github.com/go-chi/chi/v5"
    chimw "github.com/go-chi/chi/v5/middleware"

    "github.com/tinoosan/circulation/internal/config"
    "github.com/tinoosan/circulation/internal/service/account"
    "github.com/tinoosan/circulation/internal/service/catalog"
    "github.com/tinoosan/circulation/internal/service/circulation"
    "github.com/tinoosan/circulation/internal/storage"
)

// Server wires handlers and middleware using Chi.
type Server struct {
    circ     circulation.Service
    catalog  catalog.Service
    accounts account.Service
    store    Store
    idem     storage.IdempotencyStore
    tokens   *tokenVerifier
    log      *slog.Logger
    now      func() time.Time
    rt       *chi.Mux
}

// New constructs the HTTP server with routes and middleware. idem may be nil,
// in which case Idempotency-Key headers are ignored. An empty auth.Secret
// switches identity to the X-User-ID / X-User-Role dev headers.
func New(store Store, idem storage.IdempotencyStore, auth config.JWT, logger *slog.Logger, opts ...circulation.Option) *Server {
    r := chi.NewRouter()
    r.Use(chimw.RequestID)
    r.Use(requestLogger(logger))
    r.Use(recoverer(logger))
    r.Use(metricsMiddleware)

    circ := circulation.New(store, append([]circulation.Option{circulation.WithLogger(logger)}, opts...)...)
    s := &Server{
        circ:     circ,
        catalog:  catalog.New(store, logger),
        accounts: account.New(store, circ, logger),
        store:    store,
        idem:     idem,
        tokens:   newTokenVerifier(auth),
        log:      logger,
        now:      time.Now,
        rt:       r,
    }
    s.routes()
    return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// routes declares the public HTTP API endpoints and attaches any per-route middleware.
func (s *Server) routes() {
    // Ops (unversioned)
    s.rt.Get("/healthz", s.healthz)
    s.rt.Get("/readyz", s.readyz)
    s.rt.Handle("/metrics", metricsHandler())

    s.rt.Route("/v1", func(r chi.Router) {
        r.Get("/dictionary/genres", s.getGenresDictionary)
        // Catalog reads are public
        r.With(s.validateListBooks()).Get("/books", s.listBooks)
        r.Get("/books/{id}", s.getBook)

        r.Group(func(r chi.Router) {
            r.Use(s.authenticate)
            // Catalog writes (admin)
            r.With(s.validateCreateBook()).Post("/books", s.createBook)
            r.With(s.validateUpdateBook()).Patch("/books/{id}", s.updateBook)
            r.Delete("/books/{id}", s.deleteBook)
            // Circulation
            r.With(s.idempotent).Post("/books/{id}/borrow", s.borrowBook)
            r.With(s.idempotent).Post("/books/{id}/return", s.returnBook)
            r.With(s.idempotent).Post("/loans/{id}/return", s.returnLoan)
            // Users
            r.Get("/users/{id}/loans", s.listUserLoans)
            r.Delete("/users/{id}", s.deleteUser)
        })
    })
}
