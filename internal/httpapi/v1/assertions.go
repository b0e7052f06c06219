package v1

import (
    "github.com/tinoosan/circulation/internal/storage"
    "github.com/tinoosan/circulation/internal/storage/memory"
    "github.com/tinoosan/circulation/internal/storage/postgres"
    idemredis "github.com/tinoosan/circulation/internal/storage/redis"
)

// Compile-time interface assertions for the stores against the HTTP API interfaces.
var (
    _ Store                    = (*memory.Store)(nil)
    _ Store                    = (*postgres.Store)(nil)
    _ ReadyChecker             = (*memory.Store)(nil)
    _ ReadyChecker             = (*postgres.Store)(nil)
    _ storage.IdempotencyStore = (*memory.Store)(nil)
    _ storage.IdempotencyStore = (*idemredis.Store)(nil)
    _ ReadyChecker             = (*idemredis.Store)(nil)
)
