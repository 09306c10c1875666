package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL bounds how long a claimed key blocks retries and how long its response is replayed.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused reports a key presented again with a different request body, path, or caller.
var ErrKeyReused = errors.New("idempotency: key reused for a different request")

// Key identifies one client-supplied idempotency key within a caller scope.
type Key struct {
	Scope       string
	Value       string
	Fingerprint string
}

// ID is the storage identifier. The fingerprint is excluded so a reused key collides and is detected.
func (k Key) ID() string {
	return digest([]byte(k.Scope + "\x00" + k.Value))
}

// State of a stored entry.
type State string

const (
	StateInFlight State = "in_flight"
	StateDone     State = "done"
)

// Entry is the persisted view of a key.
type Entry struct {
	Scope       string
	Value       string
	Fingerprint string
	State       State
	Response    Response
	ClaimedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Response is the captured handler output replayed for duplicates.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Outcome of a claim attempt.
type Outcome int

const (
	// Acquired means the caller owns the key and must run the handler.
	Acquired Outcome = iota
	// Replay means a completed response is available.
	Replay
	// Busy means another request holds the key.
	Busy
)

// Claim is returned by Store.Claim.
type Claim struct {
	Outcome Outcome
	Entry   Entry
}

// Store persists idempotency keys. Claim must be atomic across concurrent callers.
type Store interface {
	Claim(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key Key, resp Response, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key Key) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func newInFlight(key Key, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Scope:       key.Scope,
		Value:       key.Value,
		Fingerprint: key.Fingerprint,
		State:       StateInFlight,
		ClaimedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// resolve maps an unexpired stored entry to the outcome seen by a new claimant.
func resolve(existing Entry, key Key) (Claim, error) {
	if existing.Fingerprint != key.Fingerprint {
		return Claim{}, ErrKeyReused
	}
	if existing.State == StateDone {
		return Claim{Outcome: Replay, Entry: existing}, nil
	}
	return Claim{Outcome: Busy, Entry: existing}, nil
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hop-by-hop and per-response headers never replayed
var volatileHeaders = map[string]struct{}{
	"Connection":          {},
	"Content-Length":      {},
	"Date":                {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func replayableHeaders(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if _, skip := volatileHeaders[name]; skip || len(values) == 0 {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}
