package memory

import (
    "github.com/tinoosan/circulation/internal/service/account"
    "github.com/tinoosan/circulation/internal/service/catalog"
    "github.com/tinoosan/circulation/internal/service/circulation"
    "github.com/tinoosan/circulation/internal/storage"
)

// Compile-time interface assertions documenting which interfaces Store satisfies.
var (
    _ storage.TxBeginner       = (*Store)(nil)
    _ storage.Tx               = (*Tx)(nil)
    _ storage.IdempotencyStore = (*Store)(nil)

    // Service layer repos
    _ circulation.Repo = (*Store)(nil)
    _ catalog.Repo     = (*Store)(nil)
    _ account.Repo     = (*Store)(nil)
)
