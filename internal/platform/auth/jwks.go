package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed marks transport, status and decoding failures; callers answer 503.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// minJWKSMissRefresh bounds how often an unknown kid can force a refetch.
const minJWKSMissRefresh = 30 * time.Second

// keySet is an immutable snapshot of one JWKS download.
type keySet struct {
	keys      map[string]any
	fetchedAt time.Time
	expiresAt time.Time
}

func (s *keySet) fresh(now time.Time) bool {
	return s != nil && now.Before(s.expiresAt)
}

// JWKSCache serves Google's public signing keys, refetching when the Cache-Control max-age lapses
// or a kid is missing. Concurrent refetches collapse into one request.
type JWKSCache struct {
	url        string
	client     *http.Client
	logger     *zap.Logger
	now        func() time.Time
	fallback   time.Duration
	fetchLimit time.Duration

	current atomic.Pointer[keySet]
	flight  singleflight.Group
}

type JWKSOption func(*JWKSCache)

func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSTTL is the lifetime used when the response has no usable max-age.
func WithJWKSTTL(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.fallback = d
		}
	}
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     zap.NewNop(),
		now:        time.Now,
		fallback:   15 * time.Minute,
		fetchLimit: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Keyfunc resolves verification keys for jwt parsing. Only RS256 tokens naming a kid are accepted.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Method)
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token has no kid")
		}
		return c.Key(ctx, kid)
	}
}

// Key returns the public key for kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	now := c.now()
	set := c.current.Load()
	if set.fresh(now) {
		if key, ok := set.keys[kid]; ok {
			return key, nil
		}
		if now.Sub(set.fetchedAt) < minJWKSMissRefresh {
			return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
		}
	}

	v, err, _ := c.flight.Do(c.url, func() (any, error) { return c.fetch(ctx) })
	if err != nil {
		return nil, err
	}
	if key, ok := v.(*keySet).keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) fetch(ctx context.Context) (*keySet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchLimit)
	defer cancel()

	fail := func(format string, args ...any) (*keySet, error) {
		return nil, fmt.Errorf("%w: "+format, append([]any{ErrJWKSFetchFailed}, args...)...)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fail("%v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fail("%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail("status %d", resp.StatusCode)
	}

	var doc jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fail("decode: %v", err)
	}
	set := &keySet{keys: make(map[string]any, len(doc.Keys)), fetchedAt: c.now()}
	for _, jwk := range doc.Keys {
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			set.keys[jwk.KeyID] = jwk.Key
		}
	}
	if len(set.keys) == 0 {
		return fail("no usable keys")
	}
	ttl, ok := maxAge(resp.Header.Get("Cache-Control"))
	if !ok {
		ttl = c.fallback
	}
	set.expiresAt = set.fetchedAt.Add(ttl)
	c.current.Store(set)

	c.logger.Debug("jwks refreshed", zap.Int("keys", len(set.keys)), zap.Duration("ttl", ttl))
	return set, nil
}

func maxAge(cacheControl string) (time.Duration, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second, true
		}
		break
	}
	return 0, false
}
