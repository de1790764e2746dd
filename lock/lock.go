// Package lock provides named, TTL-bounded mutual exclusion on top of the
// shared fast store.
//
// A lock is one key: "lock:<name>" holding a fresh owner token, written with
// SETNX and an expiry. TryLock hands the token back to the acquiring task and
// Unlock consumes it, so the token travels with the acquisition itself: a
// delayed release from a holder whose TTL already expired can never destroy a
// newer holder's lock - not even one re-won through the same Manager -
// because release is a single atomic compare-and-delete keyed on that token.
//
// TryLock never blocks and never retries; "busy" is a boolean, not an error.
// Callers that want to wait use TryLockRetry, a bounded iterative loop.
// TTL expiry is the only recovery path for crashed holders.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	st "github.com/unkn0wn-root/surge/store"
)

const keyPrefix = "lock:"

// Manager acquires and releases named locks against one Atomic store.
// It keeps no per-name state; the owner token returned by TryLock is the
// acquisition's only handle, and releasing with it is safe from any task.
type Manager struct {
	store    st.Atomic
	instance string        // random per-manager identity, part of every token
	seq      atomic.Uint64 // distinguishes acquisitions within this manager
}

func NewManager(s st.Atomic) (*Manager, error) {
	if s == nil {
		return nil, fmt.Errorf("lock: store is required")
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("lock: instance id: %w", err)
	}
	return &Manager{store: s, instance: hex.EncodeToString(b[:])}, nil
}

// TryLock attempts a single atomic acquisition of the named lock.
// On success it returns the owner token identifying this acquisition; pass
// it to Unlock and nowhere else. ("", false, nil) means another holder
// exists. Errors are store failures only.
func (m *Manager) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := m.instance + "-" + strconv.FormatUint(m.seq.Add(1), 10)
	ok, err := m.store.SetNX(ctx, keyPrefix+name, []byte(token), ttl)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases the named lock iff the store still holds this acquisition's
// token. A lock that expired and was re-acquired - by anyone, including a
// later acquisition through this same manager - is left alone. An empty
// token is a no-op.
func (m *Manager) Unlock(ctx context.Context, name, token string) error {
	if token == "" {
		return nil
	}
	deleted, err := m.store.CompareDel(ctx, keyPrefix+name, []byte(token))
	if err != nil {
		return err
	}
	if !deleted {
		// our TTL ran out and someone else holds the lock now; nothing to do
		return nil
	}
	return nil
}

// TryLockRetry retries TryLock up to attempts times, sleeping backoff between
// tries. It returns ("", false, nil) after exhaustion - contention is an
// outcome, not an error. Cancelling ctx aborts the wait.
func (m *Manager) TryLockRetry(ctx context.Context, name string, ttl time.Duration, attempts int, backoff time.Duration) (string, bool, error) {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		token, ok, err := m.TryLock(ctx, name, ttl)
		if err != nil || ok {
			return token, ok, err
		}
		if i+1 == attempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
	return "", false, nil
}
