package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "idempotency:"

// Keys are hashes holding the fingerprint next to the JSON entry so the scripts can compare
// fingerprints without decoding.
var (
	claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1], 'fingerprint', ARGV[1], 'entry', ARGV[2])
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
	return {1, ARGV[2]}
end
return {0, redis.call('HGET', KEYS[1], 'entry')}
`)

	completeScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'fingerprint')
if current and current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'fingerprint', ARGV[1], 'entry', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

	abandonScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'fingerprint') == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// RedisStore keeps keys in Redis and lets key expiry do the cleanup.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// RedisOption customises the Redis store.
type RedisOption func(*RedisStore)

// WithRedisKeyPrefix overrides the key namespace.
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.prefix = p
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	s := &RedisStore{client: client, prefix: defaultRedisKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

type redisEntry struct {
	Scope       string              `json:"scope"`
	Value       string              `json:"value"`
	Fingerprint string              `json:"fingerprint"`
	State       State               `json:"state"`
	Status      int                 `json:"status,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Body        []byte              `json:"body,omitempty"`
	ClaimedAt   time.Time           `json:"claimedAt"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}

func encodeEntry(e Entry) (string, error) {
	data, err := json.Marshal(redisEntry{
		Scope:       e.Scope,
		Value:       e.Value,
		Fingerprint: e.Fingerprint,
		State:       e.State,
		Status:      e.Response.Status,
		Headers:     e.Response.Headers,
		Body:        e.Response.Body,
		ClaimedAt:   e.ClaimedAt,
		ExpiresAt:   e.ExpiresAt,
	})
	if err != nil {
		return "", fmt.Errorf("idempotency: encode entry: %w", err)
	}
	return string(data), nil
}

func decodeEntry(raw string) (Entry, error) {
	var e redisEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, fmt.Errorf("idempotency: decode entry: %w", err)
	}
	return Entry{
		Scope:       e.Scope,
		Value:       e.Value,
		Fingerprint: e.Fingerprint,
		State:       e.State,
		Response:    Response{Status: e.Status, Headers: e.Headers, Body: e.Body},
		ClaimedAt:   e.ClaimedAt,
		ExpiresAt:   e.ExpiresAt,
	}, nil
}

func (s *RedisStore) redisKey(key Key) string {
	return s.prefix + key.ID()
}

func (s *RedisStore) Claim(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error) {
	ttl = effectiveTTL(ttl)
	entry := newInFlight(key, now.UTC(), ttl)
	payload, err := encodeEntry(entry)
	if err != nil {
		return Claim{}, err
	}

	reply, err := claimScript.Run(ctx, s.client, []string{s.redisKey(key)}, key.Fingerprint, payload, ttl.Milliseconds()).Slice()
	if err != nil {
		return Claim{}, fmt.Errorf("idempotency: claim: %w", err)
	}
	if len(reply) != 2 {
		return Claim{}, fmt.Errorf("idempotency: unexpected claim reply %v", reply)
	}
	if created, _ := reply[0].(int64); created == 1 {
		return Claim{Outcome: Acquired, Entry: entry}, nil
	}

	raw, ok := reply[1].(string)
	if !ok {
		// hash without an entry field was not written by this store
		return Claim{Outcome: Busy, Entry: entry}, nil
	}
	existing, err := decodeEntry(raw)
	if err != nil {
		return Claim{}, err
	}
	return resolve(existing, key)
}

func (s *RedisStore) Complete(ctx context.Context, key Key, resp Response, now time.Time, ttl time.Duration) error {
	ttl = effectiveTTL(ttl)
	now = now.UTC()
	entry := newInFlight(key, now, ttl)
	entry.State = StateDone
	entry.Response = Response{
		Status:  resp.Status,
		Headers: replayableHeaders(resp.Headers),
		Body:    append([]byte(nil), resp.Body...),
	}
	payload, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	stored, err := completeScript.Run(ctx, s.client, []string{s.redisKey(key)}, key.Fingerprint, payload, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	if stored == 0 {
		return ErrKeyReused
	}
	return nil
}

func (s *RedisStore) Abandon(ctx context.Context, key Key) error {
	if err := abandonScript.Run(ctx, s.client, []string{s.redisKey(key)}, key.Fingerprint).Err(); err != nil {
		return fmt.Errorf("idempotency: abandon: %w", err)
	}
	return nil
}

// Purge is a no-op; Redis expires keys itself.
func (s *RedisStore) Purge(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
