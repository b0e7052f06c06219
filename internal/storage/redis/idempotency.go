// Package redis stores Idempotency-Key outcomes in Redis so replays are
// recognised across instances of the service.
package redis

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    goredis "github.com/redis/go-redis/v9"

    "github.com/tinoosan/circulation/internal/storage"
)

const (
    defaultTTL        = 24 * time.Hour
    defaultPendingTTL = 30 * time.Second
    defaultPrefix     = "circulation:idem:"
)

// Store implements storage.IdempotencyStore on top of a go-redis client.
type Store struct {
    client     *goredis.Client
    ttl        time.Duration
    pendingTTL time.Duration
    prefix     string
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets how long completed responses are kept.
func WithTTL(d time.Duration) Option { return func(s *Store) { if d > 0 { s.ttl = d } } }

// WithPendingTTL bounds how long a reservation survives if the request never completes.
func WithPendingTTL(d time.Duration) Option { return func(s *Store) { if d > 0 { s.pendingTTL = d } } }

// WithPrefix namespaces keys.
func WithPrefix(p string) Option { return func(s *Store) { s.prefix = p } }

// New wraps an existing client.
func New(client *goredis.Client, opts ...Option) *Store {
    s := &Store{client: client, ttl: defaultTTL, pendingTTL: defaultPendingTTL, prefix: defaultPrefix}
    for _, opt := range opts {
        if opt != nil { opt(s) }
    }
    return s
}

// Open parses a redis:// URL, connects and pings.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
    ro, err := goredis.ParseURL(url)
    if err != nil { return nil, fmt.Errorf("parse redis url: %w", err) }
    client := goredis.NewClient(ro)
    if err := client.Ping(ctx).Err(); err != nil { _ = client.Close(); return nil, err }
    return New(client, opts...), nil
}

// Close releases the client.
func (s *Store) Close() error { return s.client.Close() }

// Ready pings Redis.
func (s *Store) Ready(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Reserve implements storage.IdempotencyStore using SET NX.
func (s *Store) Reserve(ctx context.Context, key, fingerprint string) (storage.IdempotencyRecord, bool, error) {
    pending, err := json.Marshal(storage.IdempotencyRecord{Fingerprint: fingerprint, Pending: true})
    if err != nil { return storage.IdempotencyRecord{}, false, err }
    k := s.prefix + key
    // the existing record can expire between SETNX and GET; try again once
    for attempt := 0; attempt < 2; attempt++ {
        ok, err := s.client.SetNX(ctx, k, pending, s.pendingTTL).Result()
        if err != nil { return storage.IdempotencyRecord{}, false, err }
        if ok { return storage.IdempotencyRecord{}, true, nil }
        raw, err := s.client.Get(ctx, k).Bytes()
        if errors.Is(err, goredis.Nil) { continue }
        if err != nil { return storage.IdempotencyRecord{}, false, err }
        var rec storage.IdempotencyRecord
        if err := json.Unmarshal(raw, &rec); err != nil { return storage.IdempotencyRecord{}, false, fmt.Errorf("decode idempotency record: %w", err) }
        return rec, false, nil
    }
    return storage.IdempotencyRecord{}, false, fmt.Errorf("idempotency key %q churned during reserve", key)
}

// Complete implements storage.IdempotencyStore.
func (s *Store) Complete(ctx context.Context, key string, rec storage.IdempotencyRecord) error {
    rec.Pending = false
    b, err := json.Marshal(rec)
    if err != nil { return err }
    return s.client.Set(ctx, s.prefix+key, b, s.ttl).Err()
}

// Release implements storage.IdempotencyStore.
func (s *Store) Release(ctx context.Context, key string) error {
    return s.client.Del(ctx, s.prefix+key).Err()
}

var _ storage.IdempotencyStore = (*Store)(nil)
