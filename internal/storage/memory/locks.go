package memory

import (
    "context"
    "errors"
    "sync"
    "time"

    "github.com/tinoosan/circulation/internal/errs"
)

var errLockTimeout = errors.New("memory: lock wait timeout")

// lockTable hands out one exclusive slot per row key. A slot is a channel with
// capacity one: sending acquires, receiving releases.
type lockTable struct {
    mu   sync.Mutex
    rows map[string]chan struct{}
}

func newLockTable() *lockTable { return &lockTable{rows: make(map[string]chan struct{})} }

func (l *lockTable) slot(key string) chan struct{} {
    l.mu.Lock()
    defer l.mu.Unlock()
    ch, ok := l.rows[key]
    if !ok {
        ch = make(chan struct{}, 1)
        l.rows[key] = ch
    }
    return ch
}

// acquire blocks until the row is free, ctx ends, or wait elapses (when wait > 0).
// A timed-out wait is reported as a transient failure, like a Postgres lock_timeout.
func (l *lockTable) acquire(ctx context.Context, key string, wait time.Duration) error {
    ch := l.slot(key)
    var timeout <-chan time.Time
    if wait > 0 {
        t := time.NewTimer(wait)
        defer t.Stop()
        timeout = t.C
    }
    select {
    case ch <- struct{}{}:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    case <-timeout:
        return errs.Transient(errLockTimeout)
    }
}

func (l *lockTable) release(key string) { <-l.slot(key) }
