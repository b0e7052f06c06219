// Package v1 is the HTTP surface of the circulation service. Handlers stay
// thin and delegate business rules to the service layer.
package v1

import (
    "context"

    "github.com/tinoosan/circulation/internal/service/account"
    "github.com/tinoosan/circulation/internal/service/catalog"
    "github.com/tinoosan/circulation/internal/service/circulation"
)

// Store is the union of repositories the services need. Both the Postgres and
// the in-memory store satisfy it.
type Store interface {
    circulation.Repo
    catalog.Repo
    account.Repo
}

// ReadyChecker is optionally implemented by stores to indicate readiness.
type ReadyChecker interface {
    Ready(ctx context.Context) error
}
